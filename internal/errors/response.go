package errors

import (
	"errors"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func HandleError(c *gin.Context, err error, context string) {
	LogError(err, context)

	var appErr *AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.Code, gin.H{
			"error": appErr.Message,
			"type":  appErr.Type,
		})
		return
	}

	if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, ErrNotFound) {
		c.JSON(404, gin.H{
			"error": "Resource not found",
			"type":  NotFoundError,
		})
		return
	}

	if errors.Is(err, ErrVersionConflict) {
		c.JSON(409, gin.H{"error": "Resource was modified concurrently", "type": VersionConflictError})
		return
	}
	if errors.Is(err, ErrAlreadyExists) {
		c.JSON(409, gin.H{"error": "Resource already exists", "type": AlreadyExistsError})
		return
	}
	if errors.Is(err, ErrAlreadyDecided) {
		c.JSON(409, gin.H{"error": "Approval has already been decided", "type": AlreadyDecidedError})
		return
	}

	c.JSON(500, gin.H{
		"error": "Internal server error",
		"type":  InternalError,
	})
}

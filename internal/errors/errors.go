package errors

import (
	"errors"
	"fmt"
	"log"
	"net/http"
)

// Sentinel errors for internal errors.Is comparisons, distinct from the
// HTTP-facing AppError taxonomy below. Store and approval implementations
// return these; HandleError maps them to HTTP responses at the boundary.
var (
	ErrVersionConflict = errors.New("version conflict")
	ErrAlreadyExists   = errors.New("already exists")
	ErrAlreadyDecided  = errors.New("already decided")
	ErrNotFound        = errors.New("not found")
)

type ErrorType string

const (
	ValidationError     ErrorType = "VALIDATION_ERROR"
	AuthenticationError ErrorType = "AUTHENTICATION_ERROR"
	AuthorizationError  ErrorType = "AUTHORIZATION_ERROR"
	NotFoundError       ErrorType = "NOT_FOUND_ERROR"
	ConflictError       ErrorType = "CONFLICT_ERROR"
	DatabaseError       ErrorType = "DATABASE_ERROR"
	ExternalAPIError    ErrorType = "EXTERNAL_API_ERROR"
	InternalError       ErrorType = "INTERNAL_ERROR"

	// VersionConflictError signals a lost optimistic-concurrency race on a
	// CAS update. Callers in the worker reclassify this into a
	// requeue, not a failure.
	VersionConflictError ErrorType = "VERSION_CONFLICT_ERROR"
	// AlreadyExistsError signals a duplicate insert where identity is
	// expected to be unique (ticket ingestion idempotency surface).
	AlreadyExistsError ErrorType = "ALREADY_EXISTS_ERROR"
	// AlreadyDecidedError signals a CAS miss on an approval decision.
	AlreadyDecidedError ErrorType = "ALREADY_DECIDED_ERROR"
	// StorageUnavailableError signals a transient infrastructure failure
	// the caller should retry.
	StorageUnavailableError ErrorType = "STORAGE_UNAVAILABLE_ERROR"
	// BrokerUnavailableError signals a transient broker failure.
	BrokerUnavailableError ErrorType = "BROKER_UNAVAILABLE_ERROR"
)

type AppError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Details string    `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	return e.Message
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Type:    ValidationError,
		Message: message,
		Code:    http.StatusBadRequest,
	}
}

func NewAuthenticationError(message string) *AppError {
	return &AppError{
		Type:    AuthenticationError,
		Message: message,
		Code:    http.StatusUnauthorized,
	}
}

func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:    NotFoundError,
		Message: message,
		Code:    http.StatusNotFound,
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{
		Type:    ConflictError,
		Message: message,
		Code:    http.StatusConflict,
	}
}

func NewDatabaseError(message string, details string) *AppError {
	return &AppError{
		Type:    DatabaseError,
		Message: message,
		Code:    http.StatusInternalServerError,
		Details: details,
	}
}

func NewExternalAPIError(message string, details string) *AppError {
	return &AppError{
		Type:    ExternalAPIError,
		Message: message,
		Code:    http.StatusBadGateway,
		Details: details,
	}
}

func NewInternalError(message string, details string) *AppError {
	return &AppError{
		Type:    InternalError,
		Message: message,
		Code:    http.StatusInternalServerError,
		Details: details,
	}
}

func NewVersionConflictError(message string) *AppError {
	return &AppError{
		Type:    VersionConflictError,
		Message: message,
		Code:    http.StatusConflict,
	}
}

func NewAlreadyExistsError(message string) *AppError {
	return &AppError{
		Type:    AlreadyExistsError,
		Message: message,
		Code:    http.StatusConflict,
	}
}

func NewAlreadyDecidedError(message string) *AppError {
	return &AppError{
		Type:    AlreadyDecidedError,
		Message: message,
		Code:    http.StatusConflict,
	}
}

func NewStorageUnavailableError(message string, details string) *AppError {
	return &AppError{
		Type:    StorageUnavailableError,
		Message: message,
		Code:    http.StatusServiceUnavailable,
		Details: details,
	}
}

func NewBrokerUnavailableError(message string, details string) *AppError {
	return &AppError{
		Type:    BrokerUnavailableError,
		Message: message,
		Code:    http.StatusServiceUnavailable,
		Details: details,
	}
}

func LogError(err error, context string) {
	if appErr, ok := err.(*AppError); ok {
		log.Printf("[ERROR] %s: %s (Type: %s, Code: %d)", context, appErr.Message, appErr.Type, appErr.Code)
		if appErr.Details != "" {
			log.Printf("[ERROR] Details: %s", appErr.Details)
		}
	} else {
		log.Printf("[ERROR] %s: %s", context, err.Error())
	}
}

func WrapDatabaseError(err error, operation string) *AppError {
	details := fmt.Sprintf("Database operation '%s' failed: %s", operation, err.Error())
	LogError(err, fmt.Sprintf("Database Error - %s", operation))
	return NewDatabaseError("Database operation failed", details)
}

func WrapExternalAPIError(err error, service string) *AppError {
	details := fmt.Sprintf("External API '%s' failed: %s", service, err.Error())
	LogError(err, fmt.Sprintf("External API Error - %s", service))
	return NewExternalAPIError(fmt.Sprintf("%s service unavailable", service), details)
}

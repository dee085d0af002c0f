package repository

import (
	"fmt"

	"github.com/alpinesboltltd/ticketflow/internal/entity"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func InitDB(databaseURL string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&entity.Ticket{},
		&entity.TicketEvent{},
		&entity.WorkflowCheckpoint{},
		&entity.ApprovalRequest{},
		&entity.Customer{},
		&entity.Product{},
		&entity.Order{},
		&entity.OrderItem{},
		&entity.HelpArticle{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

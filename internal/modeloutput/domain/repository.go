package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	// FindByTransactionID returns nil when no output was submitted.
	FindByTransactionID(ctx context.Context, tx *gorm.DB, transactionID string) (*ModelOutput, error)
	Upsert(ctx context.Context, tx *gorm.DB, output *ModelOutput) error
}

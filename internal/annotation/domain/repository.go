package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	// FindByTransactionID returns nil when the transaction has no annotation.
	FindByTransactionID(ctx context.Context, tx *gorm.DB, transactionID string) (*Annotation, error)
	Upsert(ctx context.Context, tx *gorm.DB, annotation *Annotation) error
}

package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// FindCurrentByExternalID returns the highest version, or nil.
	FindCurrentByExternalID(ctx context.Context, tx *gorm.DB, externalID string) (*Transaction, error)

	Insert(ctx context.Context, tx *gorm.DB, txn *Transaction) error

	// ListCurrentByClientRange returns the current version of every
	// transaction for the client with occurred_at in [from, to], ordered by
	// occurred_at ascending (re-score replay order).
	ListCurrentByClientRange(ctx context.Context, tx *gorm.DB, clientID snowflake.ID, from, to time.Time) ([]*Transaction, error)

	// ListVersions returns every version for the external ID, oldest first.
	ListVersions(ctx context.Context, tx *gorm.DB, externalID string) ([]*Transaction, error)
}

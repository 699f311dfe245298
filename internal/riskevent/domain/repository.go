package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	// Insert writes the event with conflict-free semantics on event_key and
	// reports whether the row landed. A false return with nil error means an
	// event with the same key already exists.
	Insert(ctx context.Context, tx *gorm.DB, event *RiskEvent) (bool, error)

	FindByEventKey(ctx context.Context, tx *gorm.DB, eventKey string) (*RiskEvent, error)

	// FindCurrent returns the highest-revision event for the transaction
	// under the given engine version, or nil when none exists.
	FindCurrent(ctx context.Context, tx *gorm.DB, transactionID, engineVersion string) (*RiskEvent, error)

	List(ctx context.Context, tx *gorm.DB, req ListRequest) ([]*RiskEvent, error)

	// ListRevisions returns every revision for the transaction, oldest first.
	ListRevisions(ctx context.Context, tx *gorm.DB, transactionID, engineVersion string) ([]*RiskEvent, error)
}

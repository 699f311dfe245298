package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, tx *gorm.DB, signal *RescoreSignal) error

	// LockPending claims up to limit pending signals, oldest first. On
	// postgres the rows are locked with SKIP LOCKED so concurrent pollers
	// divide the backlog.
	LockPending(ctx context.Context, tx *gorm.DB, limit int) ([]RescoreSignal, error)

	// MarkResolved flips pending signals to resolved and reports how many
	// rows actually transitioned.
	MarkResolved(ctx context.Context, tx *gorm.DB, ids []snowflake.ID, at time.Time) (int64, error)

	// PendingForClient returns pending signals overlapping [from, to] for
	// the client, oldest first.
	PendingForClient(ctx context.Context, tx *gorm.DB, clientID string, from, to time.Time) ([]RescoreSignal, error)

	List(ctx context.Context, tx *gorm.DB, req ListRequest) ([]*RescoreSignal, error)
}

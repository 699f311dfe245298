package domain

import "context"

type Service interface {
	// Upsert syncs a client record from upstream. A changed country on an
	// existing client is treated as a correction and raises a re-score
	// signal over the client's history.
	Upsert(ctx context.Context, req UpsertClientRequest) (*Client, error)

	// Correct applies an explicit country correction. Unchanged values are
	// an idempotent no-op.
	Correct(ctx context.Context, req CorrectClientRequest) (*Client, error)

	Get(ctx context.Context, externalID string) (*Client, error)
}

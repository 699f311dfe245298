package domain

import "context"

type Service interface {
	// Upsert stores or replaces the model output for a transaction and
	// returns the stored row.
	Upsert(ctx context.Context, req UpsertRequest) (*ModelOutput, error)

	Get(ctx context.Context, transactionID string) (*ModelOutput, error)
}

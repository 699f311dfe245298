package domain

import "context"

type Service interface {
	// Upsert stores or replaces the annotation for a transaction and
	// returns the stored row.
	Upsert(ctx context.Context, req UpsertRequest) (*Annotation, error)

	Get(ctx context.Context, transactionID string) (*Annotation, error)
}

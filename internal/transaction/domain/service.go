package domain

import "context"

type Service interface {
	// Ingest validates and persists one record. Malformed input returns a
	// *ValidationError; a resend with identical content returns the stored
	// transaction with Duplicate set; a resend with differing content
	// returns ErrConflictingResend.
	Ingest(ctx context.Context, req IngestRequest) (*IngestOutcome, error)

	// Correct appends version n+1 for an existing transaction and raises a
	// transaction_correction re-score signal.
	Correct(ctx context.Context, req CorrectRequest) (*Transaction, error)

	Get(ctx context.Context, externalID string) (*Transaction, error)
	History(ctx context.Context, externalID string) ([]*Transaction, error)
}

package domain

import "context"

type Service interface {
	// Record writes one audit entry, enriched with request id, IP and user
	// agent when the context carries them. Failures are returned so callers
	// can decide whether the operation is audit-critical.
	Record(ctx context.Context, action, targetType string, targetID string, metadata map[string]any) error

	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

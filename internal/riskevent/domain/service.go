package domain

import (
	"context"

	"github.com/smallbiznis/sentinel/pkg/db/pagination"
)

type Service interface {
	// Emit persists the verdict and returns the current event for the
	// transaction. Emitting twice without Supersede returns the stored event
	// unchanged.
	Emit(ctx context.Context, in EmitInput) (*RiskEvent, error)

	Get(ctx context.Context, eventKey string) (*RiskEvent, error)
	Current(ctx context.Context, transactionID, engineVersion string) (*RiskEvent, error)
	History(ctx context.Context, transactionID, engineVersion string) ([]*RiskEvent, error)
	List(ctx context.Context, req ListRequest) ([]*RiskEvent, *pagination.PageInfo, error)
}

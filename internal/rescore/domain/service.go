package domain

import (
	"context"

	"github.com/smallbiznis/sentinel/pkg/db/pagination"
)

type Service interface {
	// Raise records a pending signal. It never triggers scoring itself.
	Raise(ctx context.Context, req RaiseRequest) (*RescoreSignal, error)

	List(ctx context.Context, req ListRequest) ([]*RescoreSignal, *pagination.PageInfo, error)
}

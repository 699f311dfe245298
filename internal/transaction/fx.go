package transaction

import (
	"github.com/smallbiznis/sentinel/internal/transaction/repository"
	"github.com/smallbiznis/sentinel/internal/transaction/service"
	"go.uber.org/fx"
)

var Module = fx.Module("transaction.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)

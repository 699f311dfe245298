package reference

import (
	"github.com/smallbiznis/sentinel/internal/reference/repository"
	"github.com/smallbiznis/sentinel/internal/reference/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reference.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)

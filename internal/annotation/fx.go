package annotation

import (
	"github.com/smallbiznis/sentinel/internal/annotation/repository"
	"github.com/smallbiznis/sentinel/internal/annotation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("annotation.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)

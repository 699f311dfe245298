package rescore

import (
	"github.com/smallbiznis/sentinel/internal/rescore/repository"
	"github.com/smallbiznis/sentinel/internal/rescore/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rescore.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)

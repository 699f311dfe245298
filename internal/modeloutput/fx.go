package modeloutput

import (
	"github.com/smallbiznis/sentinel/internal/modeloutput/repository"
	"github.com/smallbiznis/sentinel/internal/modeloutput/service"
	"go.uber.org/fx"
)

var Module = fx.Module("modeloutput.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)

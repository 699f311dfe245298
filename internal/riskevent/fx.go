package riskevent

import (
	"github.com/smallbiznis/sentinel/internal/riskevent/repository"
	"github.com/smallbiznis/sentinel/internal/riskevent/service"
	"go.uber.org/fx"
)

var Module = fx.Module("riskevent.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)

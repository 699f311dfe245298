package worker

import (
	"context"

	"github.com/smallbiznis/sentinel/internal/scoring"
	"go.uber.org/fx"
)

var Module = fx.Module("rescore.worker",
	fx.Provide(FromAppConfig),
	fx.Provide(func(svc scoring.Service) Rescorer { return svc }),
	fx.Provide(NewWorker),
	fx.Invoke(runWorker),
)

func runWorker(lc fx.Lifecycle, worker *Worker) {
	if !worker.cfg.Enabled {
		worker.log.Info("rescore worker disabled")
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go worker.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}

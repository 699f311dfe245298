package metricspush

import (
	"context"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/sentinel/internal/config"
	rescoredomain "github.com/smallbiznis/sentinel/internal/rescore/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const pushInterval = time.Minute

var Module = fx.Module("metrics.push",
	fx.Provide(func() *prometheus.Registry {
		return prometheus.NewRegistry()
	}),
	fx.Provide(NewPusher),
	fx.Provide(func(cfg config.Config, registry *prometheus.Registry, pusher Pusher, logger *zap.Logger) *Gauges {
		if !cfg.MetricsPush.Enabled || pusher == nil {
			return nil
		}
		return New(registry, pusher, cfg.AppVersion, logger)
	}),
	fx.Invoke(func(lc fx.Lifecycle, g *Gauges, logger *zap.Logger, db *gorm.DB) {
		if g == nil {
			return
		}

		if logger == nil {
			logger = zap.NewNop()
		}

		ctx, cancel := context.WithCancel(context.Background())
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				logger.Info("starting metrics push loop")
				go func() {
					ticker := time.NewTicker(pushInterval)
					defer ticker.Stop()

					sample(ctx, g, db)
					if err := g.Push(ctx); err != nil {
						logger.Error("initial metrics push failed", zap.Error(err))
					}

					for {
						select {
						case <-ticker.C:
							sample(ctx, g, db)
							if err := g.Push(ctx); err != nil {
								logger.Error("periodic metrics push failed", zap.Error(err))
							}
						case <-ctx.Done():
							logger.Info("stopping metrics push loop")
							return
						}
					}
				}()
				return nil
			},
			OnStop: func(context.Context) error {
				cancel()
				return nil
			},
		})
	}),
)

func sample(ctx context.Context, g *Gauges, db *gorm.DB) {
	updateSystemMetrics(g)
	updatePendingSignals(ctx, g, db)
	updateClientCount(ctx, g, db)
}

func updateSystemMetrics(g *Gauges) {
	if g == nil {
		return
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	g.SetMemoryUsage(m.Sys)
}

func updatePendingSignals(ctx context.Context, g *Gauges, db *gorm.DB) {
	if g == nil || db == nil {
		return
	}
	var count int64
	err := db.WithContext(ctx).Table("rescore_signals").
		Where("status = ?", rescoredomain.StatusPending).
		Count(&count).Error
	if err != nil {
		return
	}
	g.SetPendingSignals(count)
}

func updateClientCount(ctx context.Context, g *Gauges, db *gorm.DB) {
	if g == nil || db == nil {
		return
	}
	var count int64
	if err := db.WithContext(ctx).Table("clients").Count(&count).Error; err != nil {
		return
	}
	g.SetClientsTotal(count)
}

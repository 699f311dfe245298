package window

import "go.uber.org/fx"

var Module = fx.Module("window.aggregator",
	fx.Provide(NewGormLoader),
	fx.Provide(NewAggregator),
	fx.Provide(NewKeyedMutex),
)

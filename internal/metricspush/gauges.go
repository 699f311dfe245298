package metricspush

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Gauges holds the engine health snapshot sent by the push loop. The values
// are sampled from the database and runtime right before each push.
type Gauges struct {
	registry *prometheus.Registry
	pusher   Pusher
	logger   *zap.Logger

	buildInfo      *prometheus.GaugeVec
	memoryBytes    prometheus.Gauge
	pendingSignals prometheus.Gauge
	clientsTotal   prometheus.Gauge
}

// New registers the health gauges on the given registry.
func New(registry *prometheus.Registry, pusher Pusher, version string, logger *zap.Logger) *Gauges {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Gauges{
		registry: registry,
		pusher:   pusher,
		logger:   logger,
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sentinel_build_info",
			Help: "Build metadata for the running engine.",
		}, []string{"version"}),
		memoryBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_process_memory_bytes",
			Help: "Memory obtained from the OS by the engine process.",
		}),
		pendingSignals: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_rescore_signals_pending",
			Help: "Re-score signals waiting for a replay.",
		}),
		clientsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_clients_total",
			Help: "Clients known to the engine.",
		}),
	}

	registry.MustRegister(g.buildInfo, g.memoryBytes, g.pendingSignals, g.clientsTotal)
	g.buildInfo.WithLabelValues(version).Set(1)
	return g
}

// SetMemoryUsage records process memory in bytes.
func (g *Gauges) SetMemoryUsage(bytes uint64) {
	if g == nil {
		return
	}
	g.memoryBytes.Set(float64(bytes))
}

// SetPendingSignals records the pending re-score backlog size.
func (g *Gauges) SetPendingSignals(count int64) {
	if g == nil {
		return
	}
	if count < 0 {
		count = 0
	}
	g.pendingSignals.Set(float64(count))
}

// SetClientsTotal records the number of known clients.
func (g *Gauges) SetClientsTotal(count int64) {
	if g == nil {
		return
	}
	if count < 0 {
		count = 0
	}
	g.clientsTotal.Set(float64(count))
}

// Push sends the current gauge values through the configured pusher.
func (g *Gauges) Push(ctx context.Context) error {
	if g == nil {
		return nil
	}
	if g.pusher == nil {
		return errors.New("metrics pusher is not configured")
	}
	return g.pusher.Push(ctx, g.registry)
}

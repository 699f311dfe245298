package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	transactionsIngested metric.Int64Counter
	transactionsRejected metric.Int64Counter
	riskEvents           metric.Int64Counter
	rulesFired           metric.Int64Counter
	rescoreSignals       metric.Int64Counter
	rateLimitAllowed     metric.Int64Counter
	rateLimitDenied      metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "sentinel"
	}
	meter := provider.Meter(name)

	transactionsIngested, err := meter.Int64Counter("sentinel_transactions_ingested_total")
	if err != nil {
		return nil, err
	}
	transactionsRejected, err := meter.Int64Counter("sentinel_transactions_rejected_total")
	if err != nil {
		return nil, err
	}
	riskEvents, err := meter.Int64Counter("sentinel_risk_events_total")
	if err != nil {
		return nil, err
	}
	rulesFired, err := meter.Int64Counter("sentinel_rules_fired_total")
	if err != nil {
		return nil, err
	}
	rescoreSignals, err := meter.Int64Counter("sentinel_rescore_signals_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("sentinel_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("sentinel_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		transactionsIngested: transactionsIngested,
		transactionsRejected: transactionsRejected,
		riskEvents:           riskEvents,
		rulesFired:           rulesFired,
		rescoreSignals:       rescoreSignals,
		rateLimitAllowed:     rateLimitAllowed,
		rateLimitDenied:      rateLimitDenied,
	}, nil
}

// RecordTransactionIngested increments accepted transaction counts.
func (m *Metrics) RecordTransactionIngested(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.transactionsIngested.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTransactionRejected increments rejected transaction counts by reason.
func (m *Metrics) RecordTransactionRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.transactionsRejected.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRiskEvent increments emitted risk event counts by severity.
func (m *Metrics) RecordRiskEvent(ctx context.Context, severity string, noFlag bool) {
	if m == nil {
		return
	}
	outcome := "flagged"
	if noFlag {
		outcome = "no_flag"
	}
	attrs := FilterAttributes(
		attribute.String("severity", strings.TrimSpace(severity)),
		attribute.String("outcome", outcome),
	)
	m.riskEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRuleFired increments fired rule counts by rule code.
func (m *Metrics) RecordRuleFired(ctx context.Context, rule string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("rule", strings.TrimSpace(rule)))
	m.rulesFired.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRescoreSignal increments raised re-score signal counts by cause.
func (m *Metrics) RecordRescoreSignal(ctx context.Context, cause string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("cause", strings.TrimSpace(cause)))
	m.rescoreSignals.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":    {},
	"status_code": {},
	"route":       {},
	"method":      {},
	"outcome":     {},
	"reason":      {},
	"severity":    {},
	"rule":        {},
	"cause":       {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}

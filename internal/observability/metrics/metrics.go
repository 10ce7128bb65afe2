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

// Metrics exposes application-level instruments. All methods tolerate a
// nil receiver so instrumentation stays optional in wiring and tests.
type Metrics struct {
	awards          metric.Int64Counter
	spends          metric.Int64Counter
	velocityAllowed metric.Int64Counter
	velocityDenied  metric.Int64Counter
	expiredPoints   metric.Int64Counter
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

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "playpoints"
	}
	meter := provider.Meter(name)

	awards, err := meter.Int64Counter("playpoints_awards_total")
	if err != nil {
		return nil, err
	}
	spends, err := meter.Int64Counter("playpoints_spends_total")
	if err != nil {
		return nil, err
	}
	velocityAllowed, err := meter.Int64Counter("playpoints_velocity_allowed_total")
	if err != nil {
		return nil, err
	}
	velocityDenied, err := meter.Int64Counter("playpoints_velocity_denied_total")
	if err != nil {
		return nil, err
	}
	expiredPoints, err := meter.Int64Counter("playpoints_expired_points_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		awards:          awards,
		spends:          spends,
		velocityAllowed: velocityAllowed,
		velocityDenied:  velocityDenied,
		expiredPoints:   expiredPoints,
	}, nil
}

// RecordAward increments awarded-entry counts per earning type.
func (m *Metrics) RecordAward(ctx context.Context, entryType string) {
	if m == nil {
		return
	}
	m.awards.Add(ctx, 1, metric.WithAttributes(attribute.String("type", entryType)))
}

// RecordSpend increments spend-entry counts per category.
func (m *Metrics) RecordSpend(ctx context.Context, entryType string) {
	if m == nil {
		return
	}
	m.spends.Add(ctx, 1, metric.WithAttributes(attribute.String("type", entryType)))
}

// RecordVelocityDecision counts guard outcomes, keyed by reject reason.
func (m *Metrics) RecordVelocityDecision(ctx context.Context, allowed bool, reason string) {
	if m == nil {
		return
	}
	if allowed {
		m.velocityAllowed.Add(ctx, 1)
		return
	}
	m.velocityDenied.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordExpiredPoints adds the amount retracted for one user.
func (m *Metrics) RecordExpiredPoints(ctx context.Context, amount int64) {
	if m == nil {
		return
	}
	m.expiredPoints.Add(ctx, amount)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "http", "http/protobuf":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported otlp protocol %q", protocol)
	}
}

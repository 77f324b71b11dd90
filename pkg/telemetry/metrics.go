// Package telemetry exports tracking-engine metrics over OTLP.
package telemetry

import (
	"context"
	"time"

	"atypik-backend/internal/config"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const meterName = "atypik-backend/tracking"

// Sample outcomes
const (
	OutcomeAccepted  = "accepted"
	OutcomeStale     = "stale"
	OutcomeThrottled = "throttled"
	OutcomeDropped   = "dropped"
)

// Metrics holds the engine's instruments. A nil *Metrics records nothing.
type Metrics struct {
	provider       *sdkmetric.MeterProvider
	samples        metric.Int64Counter
	missionEvents  metric.Int64Counter
	ingestDuration metric.Float64Histogram
	feedDrops      metric.Int64Counter
}

// New builds a meter provider exporting to the configured OTLP endpoint. When
// telemetry is disabled it returns nil, nil.
func New(ctx context.Context, cfg config.TelemetryConfig, env string) (*Metrics, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create metric exporter")
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(env),
		),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create resource")
	}

	m, err := NewWithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval)), res)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"endpoint": cfg.OTLPEndpoint,
		"interval": interval,
	}).Info("Metrics export enabled")
	return m, nil
}

// NewWithReader builds the instruments on a provider fed to reader.
func NewWithReader(reader sdkmetric.Reader, res *resource.Resource) (*Metrics, error) {
	opts := []sdkmetric.Option{sdkmetric.WithReader(reader)}
	if res != nil {
		opts = append(opts, sdkmetric.WithResource(res))
	}
	provider := sdkmetric.NewMeterProvider(opts...)
	meter := provider.Meter(meterName)

	m := &Metrics{provider: provider}
	var err error

	if m.samples, err = meter.Int64Counter("tracking.samples",
		metric.WithDescription("GPS samples received, by outcome"),
		metric.WithUnit("{sample}"),
	); err != nil {
		return nil, errors.Wrap(err, "failed to create samples counter")
	}

	if m.missionEvents, err = meter.Int64Counter("tracking.mission.events",
		metric.WithDescription("Mission lifecycle transitions"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, errors.Wrap(err, "failed to create mission counter")
	}

	if m.ingestDuration, err = meter.Float64Histogram("tracking.ingest.duration",
		metric.WithDescription("Time spent ingesting one sample"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0),
	); err != nil {
		return nil, errors.Wrap(err, "failed to create ingest histogram")
	}

	if m.feedDrops, err = meter.Int64Counter("tracking.feed.dropped",
		metric.WithDescription("Change-feed updates dropped because the feed was full"),
		metric.WithUnit("{update}"),
	); err != nil {
		return nil, errors.Wrap(err, "failed to create feed counter")
	}

	return m, nil
}

func (m *Metrics) RecordSample(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.samples.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) RecordMissionEvent(ctx context.Context, event string) {
	if m == nil {
		return
	}
	m.missionEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

func (m *Metrics) RecordIngestDuration(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.ingestDuration.Record(ctx, d.Seconds())
}

func (m *Metrics) RecordFeedDrop(ctx context.Context) {
	if m == nil {
		return
	}
	m.feedDrops.Add(ctx, 1)
}

// Shutdown flushes pending metrics.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

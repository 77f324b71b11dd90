package telemetry

import (
	"context"
	"testing"
	"time"

	"atypik-backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestRecordSampleByOutcome(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	m, err := NewWithReader(reader, nil)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordSample(ctx, OutcomeAccepted)
	m.RecordSample(ctx, OutcomeAccepted)
	m.RecordSample(ctx, OutcomeThrottled)
	m.RecordIngestDuration(ctx, 3*time.Millisecond)

	got := collect(t, reader)
	samples, ok := got["tracking.samples"].Data.(metricdata.Sum[int64])
	require.True(t, ok)

	counts := map[string]int64{}
	for _, dp := range samples.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("outcome"))
		counts[v.AsString()] = dp.Value
	}
	assert.Equal(t, int64(2), counts[OutcomeAccepted])
	assert.Equal(t, int64(1), counts[OutcomeThrottled])

	_, ok = got["tracking.ingest.duration"].Data.(metricdata.Histogram[float64])
	assert.True(t, ok)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSample(context.Background(), OutcomeDropped)
		m.RecordMissionEvent(context.Background(), "started")
		m.RecordFeedDrop(context.Background())
		_ = m.Shutdown(context.Background())
	})
}

func TestNewDisabled(t *testing.T) {
	m, err := New(context.Background(), config.TelemetryConfig{Enabled: false}, "test")
	require.NoError(t, err)
	assert.Nil(t, m)
}

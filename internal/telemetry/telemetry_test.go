package telemetry

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestMetrics_RecordsOutcomesAndAppends(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.TaskFinished(ctx, "buy", "succeeded", 20*time.Millisecond)
	m.TaskFinished(ctx, "buy", "fatal", 10*time.Millisecond)
	m.EventAppended(ctx, "USDC_RECEIVED")

	got := collect(t, reader)

	outcomes, ok := got["saga.task.outcomes"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range outcomes.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(2), total)
	assert.Len(t, outcomes.DataPoints, 2)

	appended, ok := got["saga.events.appended"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, appended.DataPoints, 1)
	assert.Equal(t, int64(1), appended.DataPoints[0].Value)

	_, ok = got["saga.task.duration"].Data.(metricdata.Histogram[float64])
	assert.True(t, ok)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.TaskFinished(context.Background(), "mint", "succeeded", time.Second)
	m.EventAppended(context.Background(), "SPY_ETF_PURCHASED")
}

func TestSetup_WithoutEndpoint(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	shutdown, err := Setup(context.Background(), "", time.Second, logger)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

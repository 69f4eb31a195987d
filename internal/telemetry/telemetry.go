// Package telemetry records pipeline metrics through OpenTelemetry.
//
// Setup installs a meter provider that pushes to an OTLP collector over
// gRPC. Without an endpoint the global no-op provider stays in place and
// every instrument is free to call.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/Priya8975/token-settlement-orchestrator"

// Setup configures the global meter provider. The returned function flushes
// and stops the exporter.
func Setup(ctx context.Context, endpoint string, interval time.Duration, logger *slog.Logger) (func(context.Context) error, error) {
	if endpoint == "" {
		logger.Info("otlp endpoint not set, metrics export disabled")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating otlp metric exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(interval),
		)),
	)
	otel.SetMeterProvider(provider)

	logger.Info("metrics export enabled", "endpoint", endpoint, "interval", interval.String())
	return provider.Shutdown, nil
}

// Metrics holds the instruments the pipeline reports to. A nil *Metrics
// records nothing.
type Metrics struct {
	outcomes metric.Int64Counter
	appended metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates the pipeline instruments on meter. Pass nil to use the global
// meter provider.
func New(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}

	outcomes, err := meter.Int64Counter("saga.task.outcomes",
		metric.WithDescription("Finished pipeline tasks by stage and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating outcomes counter: %w", err)
	}

	appended, err := meter.Int64Counter("saga.events.appended",
		metric.WithDescription("Events appended to the log by kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating appended counter: %w", err)
	}

	duration, err := meter.Float64Histogram("saga.task.duration",
		metric.WithDescription("Pipeline task duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return &Metrics{outcomes: outcomes, appended: appended, duration: duration}, nil
}

// TaskFinished records one processed task.
func (m *Metrics) TaskFinished(ctx context.Context, stage, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("outcome", outcome),
	)
	m.outcomes.Add(ctx, 1, attrs)
	m.duration.Record(ctx, took.Seconds(), attrs)
}

// EventAppended records one durable append.
func (m *Metrics) EventAppended(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.appended.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// Package telemetry provides OpenTelemetry instrumentation for the sandbox
// orchestrator.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// LifecycleMetricsMeterName is the name used for the lifecycle metrics meter
const LifecycleMetricsMeterName = "github.com/sandkit/sandboxd/lifecycle"

// LifecycleMetrics holds the OpenTelemetry instruments for lifecycle operations
type LifecycleMetrics struct {
	operationsTotal metric.Int64Counter
	startDuration   metric.Float64Histogram
}

// NewLifecycleMetrics creates a new LifecycleMetrics instance with the given
// meter provider. If provider is nil, it returns nil (no-op metrics).
func NewLifecycleMetrics(provider metric.MeterProvider) (*LifecycleMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(LifecycleMetricsMeterName)

	operationsTotal, err := meter.Int64Counter(
		"sandboxd_lifecycle_operations_total",
		metric.WithDescription("Number of lifecycle operations by operation and outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	startDuration, err := meter.Float64Histogram(
		"sandboxd_start_duration_seconds",
		metric.WithDescription("Duration of background start sequences in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, err
	}

	return &LifecycleMetrics{
		operationsTotal: operationsTotal,
		startDuration:   startDuration,
	}, nil
}

// RecordOperation records the outcome of one lifecycle operation
func (m *LifecycleMetrics) RecordOperation(ctx context.Context, operation string, success bool) {
	if m == nil || m.operationsTotal == nil {
		return
	}

	outcome := "success"
	if !success {
		outcome = "failure"
	}
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	}

	m.operationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordStartDuration records how long a background start sequence took
func (m *LifecycleMetrics) RecordStartDuration(ctx context.Context, duration time.Duration, success bool) {
	if m == nil || m.startDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Bool("success", success),
	}

	m.startDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

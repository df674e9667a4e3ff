package pipeline

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/jimdaga/reelpipe/pipeline"

// stageMetrics counts terminal outcomes per stage. With no meter provider
// installed the global no-op provider makes these free.
type stageMetrics struct {
	successCounter metric.Int64Counter
	errorCounter   metric.Int64Counter
	requeueCounter metric.Int64Counter
}

func newStageMetrics() *stageMetrics {
	meter := otel.Meter(meterName)
	m := &stageMetrics{}
	m.successCounter, _ = meter.Int64Counter("pipeline.stage.counter.success")
	m.errorCounter, _ = meter.Int64Counter("pipeline.stage.counter.error")
	m.requeueCounter, _ = meter.Int64Counter("pipeline.reconciler.counter.requeue")
	return m
}

func (m *stageMetrics) success(ctx context.Context, stage string) {
	if m.successCounter != nil {
		m.successCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	}
}

func (m *stageMetrics) failure(ctx context.Context, stage string) {
	if m.errorCounter != nil {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	}
}

func (m *stageMetrics) requeue(ctx context.Context, stage string) {
	if m.requeueCounter != nil {
		m.requeueCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	}
}

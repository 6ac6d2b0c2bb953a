package pipeline

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the meter scope for pipeline instruments.
const InstrumentationName = "github.com/fyrsmithlabs/rulelearn/internal/pipeline"

type metrics struct {
	generated metric.Int64Counter
	decisions metric.Int64Counter
	failures  metric.Int64Counter
	threshold metric.Float64Gauge
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &metrics{}
	var err error

	m.generated, err = meter.Int64Counter(
		"rulelearn.rules.generated_total",
		metric.WithDescription("Candidate rules produced by the generator"),
		metric.WithUnit("{rule}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating generated counter: %w", err)
	}

	m.decisions, err = meter.Int64Counter(
		"rulelearn.rules.decisions_total",
		metric.WithDescription("Approval decisions by action"),
		metric.WithUnit("{rule}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating decisions counter: %w", err)
	}

	m.failures, err = meter.Int64Counter(
		"rulelearn.llm.failures_total",
		metric.WithDescription("Text generation calls that degraded to a fallback"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failures counter: %w", err)
	}

	m.threshold, err = meter.Float64Gauge(
		"rulelearn.threshold.current",
		metric.WithDescription("Auto-approval confidence threshold in effect"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating threshold gauge: %w", err)
	}

	return m, nil
}

func (m *metrics) recordGenerated(ctx context.Context, source string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.generated.Add(ctx, int64(n), metric.WithAttributes(attribute.String("source", source)))
}

func (m *metrics) recordDecision(ctx context.Context, action string) {
	if m == nil {
		return
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

func (m *metrics) recordFailure(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *metrics) recordThreshold(ctx context.Context, v float64) {
	if m == nil {
		return
	}
	m.threshold.Record(ctx, v)
}

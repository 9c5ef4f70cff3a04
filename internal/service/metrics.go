package service

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// engineMetrics counts deal lifecycle events. Without a configured meter
// provider the global no-op provider swallows them.
type engineMetrics struct {
	outcomes       metric.Int64Counter
	notifyFailures metric.Int64Counter
}

func newEngineMetrics() engineMetrics {
	meter := otel.Meter("dealengine.service")
	fallback := noop.NewMeterProvider().Meter("dealengine.service")

	outcomes, err := meter.Int64Counter("dealengine.deal.outcomes",
		metric.WithDescription("Deal phase transitions reached by service operations"),
		metric.WithUnit("{deal}"),
	)
	if err != nil {
		outcomes, _ = fallback.Int64Counter("dealengine.deal.outcomes")
	}
	notifyFailures, err := meter.Int64Counter("dealengine.notify.failures",
		metric.WithDescription("Confirmation links that could not be delivered"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		notifyFailures, _ = fallback.Int64Counter("dealengine.notify.failures")
	}
	return engineMetrics{outcomes: outcomes, notifyFailures: notifyFailures}
}

func (m engineMetrics) phase(ctx context.Context, phase string) {
	m.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", phase)))
}

func (m engineMetrics) notifyFailed(ctx context.Context) {
	m.notifyFailures.Add(ctx, 1)
}

package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Meter returns the netpool meter from the global provider. Instruments
// created before otel.SetMeterProvider forward to the provider set later.
func Meter() metric.Meter {
	return otel.Meter(InstrumentationName)
}

var (
	instrumentsOnce sync.Once
	acquireCount    metric.Int64Counter
	acquireDuration metric.Float64Histogram
)

func initInstruments() {
	m := Meter()
	var err error
	if acquireCount, err = m.Int64Counter("netpool.acquire.count",
		metric.WithDescription("Connection acquires by outcome")); err != nil {
		otel.Handle(err)
	}
	if acquireDuration, err = m.Float64Histogram("netpool.acquire.duration",
		metric.WithDescription("Time spent acquiring a connection"),
		metric.WithUnit("s")); err != nil {
		otel.Handle(err)
	}
}

// RecordAcquire records one acquire on the OpenTelemetry instruments.
func RecordAcquire(ctx context.Context, provider, outcome string, d time.Duration) {
	instrumentsOnce.Do(initInstruments)
	attrs := metric.WithAttributes(
		attribute.String("netpool.provider", provider),
		attribute.String("netpool.outcome", outcome),
	)
	if acquireCount != nil {
		acquireCount.Add(ctx, 1, attrs)
	}
	if acquireDuration != nil {
		acquireDuration.Record(ctx, d.Seconds(), attrs)
	}
}

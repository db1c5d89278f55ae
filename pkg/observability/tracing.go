// Package observability provides OpenTelemetry tracing for netpool
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the tracer name used for every netpool span.
const InstrumentationName = "github.com/ajitpratap0/netpool"

// Tracer returns the netpool tracer from the global provider. Until
// InitTracing (or otel.SetTracerProvider) runs this is a no-op tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// Span wraps a trace.Span and batches attributes until End.
type Span struct {
	span       trace.Span
	startTime  time.Time
	attributes []attribute.KeyValue
}

// NewSpan starts a span named operationName.
func NewSpan(ctx context.Context, operationName string) (context.Context, *Span) {
	ctx, span := Tracer().Start(ctx, operationName)

	return ctx, &Span{
		span:      span,
		startTime: time.Now(),
	}
}

// SetAttribute adds an attribute to the span (batched until End)
func (s *Span) SetAttribute(key string, value interface{}) {
	var attr attribute.KeyValue

	switch v := value.(type) {
	case string:
		attr = attribute.String(key, v)
	case int:
		attr = attribute.Int(key, v)
	case int64:
		attr = attribute.Int64(key, v)
	case uint32:
		attr = attribute.Int64(key, int64(v))
	case float64:
		attr = attribute.Float64(key, v)
	case bool:
		attr = attribute.Bool(key, v)
	default:
		attr = attribute.String(key, fmt.Sprintf("%v", v))
	}

	s.attributes = append(s.attributes, attr)
}

// AddEvent adds an event to the span
func (s *Span) AddEvent(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Finish records the outcome of the traced operation. A nil err marks the
// span Ok.
func (s *Span) Finish(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.End()
}

// End ends the span
func (s *Span) End() {
	if len(s.attributes) > 0 {
		s.span.SetAttributes(s.attributes...)
	}
	s.span.SetAttributes(attribute.Int64("duration_us", time.Since(s.startTime).Microseconds()))
	s.span.End()
}

// StartAcquire starts the span wrapping one connection acquire.
func StartAcquire(ctx context.Context, provider, remote string, poolID uint32) (context.Context, *Span) {
	ctx, span := NewSpan(ctx, "netpool.acquire")
	span.SetAttribute("netpool.provider", provider)
	span.SetAttribute("netpool.remote", remote)
	span.SetAttribute("netpool.pool_id", poolID)
	return ctx, span
}

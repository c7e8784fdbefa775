package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/S-Corkum/ragcore"

// Span wraps an OpenTelemetry span with the small surface the core's
// suspension points actually use.
type Span struct {
	raw trace.Span
}

// SetAttribute records a diagnostic attribute on the span.
func (s *Span) SetAttribute(key string, value interface{}) {
	if s == nil || s.raw == nil {
		return
	}
	switch v := value.(type) {
	case string:
		s.raw.SetAttributes(attribute.String(key, v))
	case int:
		s.raw.SetAttributes(attribute.Int(key, v))
	case int64:
		s.raw.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.raw.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.raw.SetAttributes(attribute.Bool(key, v))
	default:
		s.raw.SetAttributes(attribute.String(key, "unsupported-type"))
	}
}

// RecordError attaches an error to the span without changing control flow.
func (s *Span) RecordError(err error) {
	if s == nil || s.raw == nil || err == nil {
		return
	}
	s.raw.RecordError(err)
}

// End closes the span.
func (s *Span) End() {
	if s == nil || s.raw == nil {
		return
	}
	s.raw.End()
}

// StartSpan begins a span under the module's tracer.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	return ctx, &Span{raw: span}
}

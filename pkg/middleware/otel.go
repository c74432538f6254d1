package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/databench/databench/pkg/server"
)

// Default tracer name for Databench applications.
const defaultTracerName = "databench"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "databench").
	TracerName string

	// IncludeConnID includes the connection ID in spans. Connection IDs
	// are random and high-cardinality; disabled by default.
	IncludeConnID bool

	// Filter determines which invocations to trace. Return true to trace
	// the invocation, false to skip. If nil, all invocations are traced.
	Filter func(inv *server.Invocation) bool

	// tracer is the resolved tracer instance.
	tracer trace.Tracer
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithIncludeConnID enables including the connection ID in spans.
func WithIncludeConnID(include bool) OTelOption {
	return func(c *OTelConfig) {
		c.IncludeConnID = include
	}
}

// WithFilter sets a filter function for invocations.
func WithFilter(filter func(inv *server.Invocation) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// OTel creates middleware that opens one span per handler invocation,
// named "analysis.signal", with the analysis and signal as attributes.
// A panicking handler marks the span as errored.
func OTel(opts ...OTelOption) server.Middleware {
	config := &OTelConfig{
		TracerName: defaultTracerName,
	}
	for _, opt := range opts {
		opt(config)
	}
	config.tracer = otel.Tracer(config.TracerName)

	return func(next server.InvokeFunc) server.InvokeFunc {
		return func(ctx context.Context, inv *server.Invocation) error {
			if config.Filter != nil && !config.Filter(inv) {
				return next(ctx, inv)
			}

			attrs := []attribute.KeyValue{
				attribute.String("databench.analysis", inv.Analysis),
				attribute.String("databench.signal", inv.Signal),
				attribute.Int("databench.handlers", inv.Handlers),
			}
			if config.IncludeConnID {
				attrs = append(attrs, attribute.String("databench.conn_id", inv.ConnID))
			}

			ctx, span := config.tracer.Start(ctx, inv.Analysis+"."+inv.Signal,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...))
			defer span.End()

			err := next(ctx, inv)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "handler panic")
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return err
		}
	}
}

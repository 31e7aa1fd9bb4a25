// Package tracing is a small tracing abstraction so the transport and the
// refresh path can emit spans without depending on OpenTelemetry throughout
// the codebase. Production wiring uses the OTel adapter, tests use the noop.
package tracing

import "context"

// Span tracks one operation. End must be called exactly once.
type Span interface {
	// End completes the span. A non-nil err marks the span as failed.
	End(err error)

	// SetAttributes adds key-value pairs to the span.
	SetAttributes(attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute is a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

func Int(key string, value int) Attribute {
	return Attribute{Key: key, Value: value}
}

func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

package monitor

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"safe-code-gate/internal/gate"
)

const tracerName = "safe-code-gate"

// Tracer wraps OpenTelemetry tracing for the gate service.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer uses the global TracerProvider, so spans go nowhere until
// SetupTracing has run.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartSpan starts a span named "gate.<name>".
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "gate."+name, trace.WithAttributes(attrs...))
}

// StartValidation starts the span covering one validation call.
func (t *Tracer) StartValidation(ctx context.Context, verdictID string, codeLength int, policy string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "validate",
		AttrVerdictID.String(verdictID),
		AttrCodeLength.Int(codeLength),
		AttrPolicy.String(policy),
	)
}

// EndValidation annotates span with the verdict and ends it. Rejections
// mark the span as errored so they stand out in trace search.
func EndValidation(span trace.Span, v gate.Verdict, cacheHit bool) {
	span.SetAttributes(
		AttrKind.String(v.Kind.String()),
		AttrRule.String(v.Rule),
		AttrCacheHit.Bool(cacheHit),
	)
	if !v.Valid() {
		span.SetStatus(codes.Error, v.Kind.String())
	}
	span.End()
}

// Attribute keys for gate spans.
var (
	AttrVerdictID  = attribute.Key("gate.verdict.id")
	AttrKind       = attribute.Key("gate.verdict.kind")
	AttrRule       = attribute.Key("gate.verdict.rule")
	AttrCodeLength = attribute.Key("gate.code_length")
	AttrPolicy     = attribute.Key("gate.policy.fingerprint")
	AttrCacheHit   = attribute.Key("gate.cache_hit")
)

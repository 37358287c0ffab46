package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for the dataflow lifecycle
// spans. Those are the only traced operations: they cross a process
// boundary (the launcher) and are slow enough to be worth a timeline.
const tracerName = "github.com/mofa-org/mofa-studio"

// TraceDataflowStart opens the span covering launcher invocation and
// bridge spawn. The returned end func records the outcome and finishes the
// span; call it exactly once, with the start error or nil.
func TraceDataflowStart(ctx context.Context, specPath string) (context.Context, func(error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "dataflow.start",
		trace.WithAttributes(attribute.String("mofa.dataflow.spec", specPath)),
	)
	return ctx, endWith(span)
}

// TraceDataflowStop opens the span covering the cooperative bridge
// shutdown and the launcher stop with its grace duration.
func TraceDataflowStop(ctx context.Context, grace time.Duration) (context.Context, func(error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "dataflow.stop",
		trace.WithAttributes(attribute.Float64("mofa.dataflow.grace_seconds", grace.Seconds())),
	)
	return ctx, endWith(span)
}

// endWith finishes a span with error status when the operation failed.
func endWith(span trace.Span) func(error) {
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

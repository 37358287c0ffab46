package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// Global-provider tests: not parallel, they mutate otel's registered SDK.

func TestSetupShutdownRoundTrip(t *testing.T) {
	tel, err := Setup(context.Background(), WithServiceVersion("0.0.0-test"))
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestDataflowSpansRecordOutcome(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tel, err := Setup(context.Background(), WithSpanExporter(exp))
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	_, endStart := TraceDataflowStart(context.Background(), "voice-chat.yml")
	endStart(errors.New("launcher exploded"))

	_, endStop := TraceDataflowStop(context.Background(), 15*time.Second)
	endStop(nil)

	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	spans := exp.GetSpans()
	byName := map[string]tracetest.SpanStub{}
	for _, s := range spans {
		byName[s.Name] = s
	}

	start, ok := byName["dataflow.start"]
	if !ok {
		t.Fatalf("dataflow.start span not exported, got %v", spans)
	}
	if start.Status.Code != codes.Error {
		t.Fatalf("failed start must carry error status, got %v", start.Status)
	}

	stop, ok := byName["dataflow.stop"]
	if !ok {
		t.Fatal("dataflow.stop span not exported")
	}
	if stop.Status.Code != codes.Ok {
		t.Fatalf("clean stop must carry ok status, got %v", stop.Status)
	}
}

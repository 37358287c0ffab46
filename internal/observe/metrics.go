// Package observe provides application-wide observability primitives for
// MoFA Studio: OpenTelemetry metrics, tracing helpers, and the Prometheus
// exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// via the Prometheus reader set up in [Setup], so the standard /metrics
// endpoint keeps working. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all MoFA Studio
// metrics.
const meterName = "github.com/mofa-org/mofa-studio"

// Metrics holds all OpenTelemetry metric instruments for the audio runtime.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// AudioChunks counts TTS chunks accepted by the audio player bridge.
	// Use with attribute.String("participant", ...).
	AudioChunks metric.Int64Counter

	// DroppedSamples counts samples discarded by the smart-reset gate and
	// by shared-state queue overflow. Use with attribute.String("reason", ...).
	DroppedSamples metric.Int64Counter

	// BufferFill tracks the playback ring fill percentage (0..100).
	BufferFill metric.Float64Gauge

	// BridgeEvents counts inbound dataflow events per bridge. Use with
	// attribute.String("node", ...), attribute.String("input", ...).
	BridgeEvents metric.Int64Counter

	// SessionStarts counts session_start emissions (exactly one per
	// question id when the protocol holds).
	SessionStarts metric.Int64Counter

	// VADUtterances counts speech segments emitted by the mic bridge.
	VADUtterances metric.Int64Counter

	// DataflowStartDuration tracks external dataflow start latency.
	DataflowStartDuration metric.Float64Histogram
}

// startBuckets defines histogram bucket boundaries (in seconds) for the
// dataflow start path, which includes spawning external node processes.
var startBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.AudioChunks, err = m.Int64Counter("mofa.audio.chunks",
		metric.WithDescription("TTS audio chunks accepted by the player bridge."),
	); err != nil {
		return nil, err
	}
	if met.DroppedSamples, err = m.Int64Counter("mofa.audio.dropped_samples",
		metric.WithDescription("Samples discarded by the smart-reset gate or queue overflow."),
	); err != nil {
		return nil, err
	}
	if met.BufferFill, err = m.Float64Gauge("mofa.audio.buffer_fill",
		metric.WithDescription("Playback ring buffer fill percentage."),
		metric.WithUnit("%"),
	); err != nil {
		return nil, err
	}
	if met.BridgeEvents, err = m.Int64Counter("mofa.bridge.events",
		metric.WithDescription("Inbound dataflow events by node and input."),
	); err != nil {
		return nil, err
	}
	if met.SessionStarts, err = m.Int64Counter("mofa.session.starts",
		metric.WithDescription("session_start signals emitted to the turn controller."),
	); err != nil {
		return nil, err
	}
	if met.VADUtterances, err = m.Int64Counter("mofa.vad.utterances",
		metric.WithDescription("Speech segments emitted by the mic input bridge."),
	); err != nil {
		return nil, err
	}
	if met.DataflowStartDuration, err = m.Float64Histogram("mofa.dataflow.start.duration",
		metric.WithDescription("External dataflow start latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(startBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordDrop records discarded samples with the standard reason attribute.
func (m *Metrics) RecordDrop(ctx context.Context, reason string, samples int) {
	m.DroppedSamples.Add(ctx, int64(samples),
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordBridgeEvent records one inbound event for a bridge input.
func (m *Metrics) RecordBridgeEvent(ctx context.Context, node, input string) {
	m.BridgeEvents.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("node", node),
			attribute.String("input", input),
		),
	)
}

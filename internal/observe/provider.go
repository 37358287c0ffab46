package observe

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// shutdownGrace bounds how long Shutdown waits for exporter flushes. The
// studio is a desktop process: a user quitting should never hang on
// telemetry.
const shutdownGrace = 3 * time.Second

// Option configures [Setup].
type Option func(*setupOptions)

type setupOptions struct {
	serviceVersion string
	spanExporter   sdktrace.SpanExporter
}

// WithServiceVersion sets the version reported in telemetry resources.
func WithServiceVersion(version string) Option {
	return func(o *setupOptions) { o.serviceVersion = version }
}

// WithSpanExporter enables span export. Without it the tracer provider
// still creates the dataflow lifecycle spans but neither keeps nor exports
// them — the common case for a desktop install.
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(o *setupOptions) { o.spanExporter = exp }
}

// Telemetry owns the process-wide OTel SDK state: the meter provider
// backing the /metrics endpoint and the tracer provider behind the
// dataflow lifecycle spans.
type Telemetry struct {
	meters *sdkmetric.MeterProvider
	traces *sdktrace.TracerProvider
}

// Setup initialises the OTel SDK for a studio run and registers the global
// providers. Metrics always go through a Prometheus reader — the app's
// /metrics endpoint is the only scrape surface — and each run is tagged
// with a fresh instance id so overlapping desktop sessions on one machine
// stay distinguishable.
func Setup(ctx context.Context, opts ...Option) (*Telemetry, error) {
	var o setupOptions
	for _, opt := range opts {
		opt(&o)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("mofa-studio"),
			semconv.ServiceVersion(o.serviceVersion),
			semconv.ServiceInstanceID(uuid.NewString()),
		),
	)
	if err != nil {
		return nil, err
	}

	reader, err := promexporter.New()
	if err != nil {
		return nil, err
	}

	t := &Telemetry{
		meters: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		),
	}

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if o.spanExporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(o.spanExporter))
	}
	t.traces = sdktrace.NewTracerProvider(traceOpts...)

	otel.SetMeterProvider(t.meters)
	otel.SetTracerProvider(t.traces)
	return t, nil
}

// Shutdown flushes and closes both providers. Traces drain first — a span
// batch is small and time-sensitive, while the Prometheus reader has
// nothing buffered worth waiting on. The whole teardown is capped at a few
// seconds regardless of the caller's context.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()

	var errs []error
	if t.traces != nil {
		if err := t.traces.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if t.meters != nil {
		if err := t.meters.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

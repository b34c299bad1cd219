package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingOptions configures span export.
type TracingOptions struct {
	// Endpoint is the OTLP/HTTP collector URL. Empty disables export.
	Endpoint string

	// ServiceName is reported as service.name.
	ServiceName string

	// SampleRatio in [0,1]. Zero or less samples everything.
	SampleRatio float64
}

// SetupTracing installs an OTLP/HTTP tracer provider as the global
// provider and returns a tracer from it.
//
// Tracing is opt-in: with an empty endpoint a no-op tracer is returned and
// the global provider is left alone.
//
// The returned shutdown function flushes pending spans and should be
// deferred by the caller.
func SetupTracing(ctx context.Context, opts TracingOptions) (trace.Tracer, func(context.Context) error, error) {
	noopShutdown := func(context.Context) error { return nil }

	if opts.Endpoint == "" {
		return noop.NewTracerProvider().Tracer(TracerName), noopShutdown, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(opts.Endpoint),
	)
	if err != nil {
		return nil, noopShutdown, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(opts.ServiceName),
		),
	)
	if err != nil {
		return nil, noopShutdown, fmt.Errorf("create resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if opts.SampleRatio > 0 && opts.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRatio))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Tracer(TracerName), tp.Shutdown, nil
}

// Package telemetry bundles the logger, metrics, tracer and clock that
// actions, services and stores report through.
package telemetry

import (
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/artpar/conveyr/adapters/clock"
	"github.com/artpar/conveyr/adapters/metrics"
	"github.com/artpar/conveyr/ports"
)

// TracerName is the instrumentation scope of runtime spans.
const TracerName = "github.com/artpar/conveyr"

// Kit is passed by value to every runtime object.
type Kit struct {
	Logger  zerolog.Logger
	Metrics *metrics.Collector
	Tracer  trace.Tracer
	Clock   ports.Clock
}

// Nop returns a kit that discards everything and uses the system clock.
func Nop() Kit {
	return Kit{
		Logger: zerolog.Nop(),
		Tracer: noop.NewTracerProvider().Tracer(TracerName),
		Clock:  clock.Real{},
	}
}

// WithDefaults fills a missing tracer or clock.
func (k Kit) WithDefaults() Kit {
	if k.Tracer == nil {
		k.Tracer = noop.NewTracerProvider().Tracer(TracerName)
	}
	if k.Clock == nil {
		k.Clock = clock.Real{}
	}
	return k
}

// Named returns a copy whose logger carries component=name.
func (k Kit) Named(component string) Kit {
	k.Logger = k.Logger.With().Str("component", component).Logger()
	return k
}

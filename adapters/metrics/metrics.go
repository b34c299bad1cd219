// Package metrics provides Prometheus metrics collection for conveyr.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "conveyr"

// Result label values.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultRejected = "rejected"
	ResultTimeout  = "timeout"
	ResultDenied   = "denied"
)

// Collector holds all Prometheus metrics for conveyr.
// A nil *Collector is valid and records nothing.
type Collector struct {
	// Action metrics
	ActionInvocations *prometheus.CounterVec
	ActionDuration    *prometheus.HistogramVec
	PayloadRejections *prometheus.CounterVec

	// Endpoint metrics
	EndpointInvocations *prometheus.CounterVec
	EndpointDuration    *prometheus.HistogramVec
	EndpointTimeouts    *prometheus.CounterVec
	EndpointsInFlight   prometheus.Gauge

	// Store metrics
	StoreUpdates *prometheus.CounterVec

	// Registry metrics
	Registered *prometheus.GaugeVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
	ConfigLastReload   prometheus.Gauge
}

// New creates a collector registered with the default Prometheus registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		ActionInvocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "action_invocations_total",
				Help:      "Total number of action invocations by result",
			},
			[]string{"action", "result"},
		),
		ActionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Time from action invocation to settlement in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10},
			},
			[]string{"action"},
		),
		PayloadRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payload_rejections_total",
				Help:      "Total number of payloads rejected by an action format",
			},
			[]string{"action"},
		),

		EndpointInvocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "endpoint_invocations_total",
				Help:      "Total number of endpoint invocations by result",
			},
			[]string{"service", "endpoint", "result"},
		),
		EndpointDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "endpoint_duration_seconds",
				Help:      "Endpoint handler duration in seconds",
				Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "endpoint"},
		),
		EndpointTimeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "endpoint_timeouts_total",
				Help:      "Total number of asynchronous handlers that never called done in time",
			},
			[]string{"service", "endpoint"},
		),
		EndpointsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "endpoint_invocations_in_flight",
				Help:      "Number of endpoint invocations not yet settled",
			},
		),

		StoreUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_updates_total",
				Help:      "Total number of store field updates by result",
			},
			[]string{"store", "field", "result"},
		),

		Registered: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registered_objects",
				Help:      "Number of registered actions, services and stores",
			},
			[]string{"kind"},
		),

		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
		ConfigLastReload: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "config_last_reload_timestamp",
				Help:      "Unix timestamp of last successful config reload",
			},
		),
	}
}

// ObserveAction records a settled action invocation.
func (c *Collector) ObserveAction(action, result string, d time.Duration) {
	if c == nil {
		return
	}
	c.ActionInvocations.WithLabelValues(action, result).Inc()
	c.ActionDuration.WithLabelValues(action).Observe(d.Seconds())
}

// RejectPayload records a payload that failed validation.
func (c *Collector) RejectPayload(action string) {
	if c == nil {
		return
	}
	c.PayloadRejections.WithLabelValues(action).Inc()
	c.ActionInvocations.WithLabelValues(action, ResultRejected).Inc()
}

// EndpointStarted marks an endpoint invocation in flight.
func (c *Collector) EndpointStarted() {
	if c == nil {
		return
	}
	c.EndpointsInFlight.Inc()
}

// ObserveEndpoint records a settled endpoint invocation.
func (c *Collector) ObserveEndpoint(service, endpoint, result string, d time.Duration) {
	if c == nil {
		return
	}
	c.EndpointsInFlight.Dec()
	c.EndpointInvocations.WithLabelValues(service, endpoint, result).Inc()
	c.EndpointDuration.WithLabelValues(service, endpoint).Observe(d.Seconds())
	if result == ResultTimeout {
		c.EndpointTimeouts.WithLabelValues(service, endpoint).Inc()
	}
}

// ObserveStoreUpdate records a field update attempt.
func (c *Collector) ObserveStoreUpdate(store, field, result string) {
	if c == nil {
		return
	}
	c.StoreUpdates.WithLabelValues(store, field, result).Inc()
}

// SetRegistered records the number of registered objects of a kind.
func (c *Collector) SetRegistered(kind string, n int) {
	if c == nil {
		return
	}
	c.Registered.WithLabelValues(kind).Set(float64(n))
}

// ObserveReload records a config reload attempt.
func (c *Collector) ObserveReload(err error, at time.Time) {
	if c == nil {
		return
	}
	if err != nil {
		c.ConfigReloadErrors.Inc()
		return
	}
	c.ConfigReloads.Inc()
	c.ConfigLastReload.Set(float64(at.Unix()))
}

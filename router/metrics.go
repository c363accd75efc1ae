package router

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeMatched = "matched"
	outcomeNoMatch = "no_match"
	outcomeError   = "error"
)

// Reload results recorded by RecordReload.
const (
	ReloadSuccess = "success"
	ReloadError   = "error"
)

// Metrics contains dispatch metrics.
type Metrics struct {
	// dispatchTotal counts dispatches by route and outcome.
	dispatchTotal *prometheus.CounterVec

	// dispatchDuration measures time spent matching and running the
	// destination.
	dispatchDuration *prometheus.HistogramVec

	// reloadTotal counts route set reloads by result.
	reloadTotal *prometheus.CounterVec
}

// NewMetrics creates dispatch metrics registered with
// prometheus.DefaultRegisterer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates dispatch metrics registered with
// registerer. If the collectors are already registered, for example by an
// earlier call with the same registerer, the registered ones are reused.
// Any other registration error panics, as with MustRegister.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "trellis"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{}

	m.dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "dispatch_total",
			Help:      "Total number of dispatched requests",
		},
		[]string{"route", "outcome"},
	)

	m.dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "dispatch_duration_seconds",
			Help:      "Dispatch duration in seconds, including the destination",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"outcome"},
	)

	m.reloadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "reload_total",
			Help:      "Total number of route set reloads",
		},
		[]string{"result"},
	)

	m.dispatchTotal = register(registerer, m.dispatchTotal)
	m.dispatchDuration = register(registerer, m.dispatchDuration)
	m.reloadTotal = register(registerer, m.reloadTotal)

	return m
}

// register registers c, returning the collector already registered in its
// place if there is one.
func register[C prometheus.Collector](registerer prometheus.Registerer, c C) C {
	err := registerer.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(err)
}

func (m *Metrics) observe(route, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(route, outcome).Inc()
	m.dispatchDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// RecordReload records a reload of the route set. result is ReloadSuccess
// or ReloadError.
func (m *Metrics) RecordReload(result string) {
	if m == nil {
		return
	}
	m.reloadTotal.WithLabelValues(result).Inc()
}

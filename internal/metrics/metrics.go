// Package metrics exposes prometheus collectors for the entity graph client and the
// reference entity service. A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "entitygraph"

// Metrics holds the collectors. It implements transport.Observer, lazy.Observer and
// serversync.Observer.
type Metrics struct {
	requests    *prometheus.CounterVec
	loads       *prometheus.CounterVec
	changes     *prometheus.CounterVec
	changeBatch *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg leaves them
// unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "requests_total",
			Help:      "Requests sent to the entity service by operation and outcome.",
		}, []string{"operation", "outcome"}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lazy",
			Name:      "loads_total",
			Help:      "Lazy loads by kind, whether the load was shared with a concurrent caller, and outcome.",
		}, []string{"kind", "shared", "outcome"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "changes_captured_total",
			Help:      "Graph changes captured for submission by change type.",
		}, []string{"type"}),
		changeBatch: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "change_batch_size",
			Help:      "Number of changes per submission received by the entity service.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.loads, m.changes, m.changeBatch)
	}
	return m
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveRequest counts one transport request.
func (m *Metrics) ObserveRequest(operation string, err error) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(operation, outcome(err)).Inc()
}

// ObserveLoad counts one lazy load.
func (m *Metrics) ObserveLoad(kind string, shared bool, err error) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(kind, strconv.FormatBool(shared), outcome(err)).Inc()
}

// ObserveChange counts one captured change.
func (m *Metrics) ObserveChange(kind string) {
	if m == nil {
		return
	}
	m.changes.WithLabelValues(kind).Inc()
}

// ObserveChangeBatch records the size of a change submission handled by the service.
func (m *Metrics) ObserveChangeBatch(n int, err error) {
	if m == nil {
		return
	}
	m.changeBatch.WithLabelValues(outcome(err)).Observe(float64(n))
}

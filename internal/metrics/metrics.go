// Package metrics holds toastd's prometheus collectors.
//
// All methods are nil-safe so components can run without metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "toastd"

type Metrics struct {
	gatherer prometheus.Gatherer

	scheduled  prometheus.Counter
	fired      prometheus.Counter
	cancelled  prometheus.Counter
	missed     *prometheus.CounterVec
	dispatches *prometheus.CounterVec
	dispatchT  prometheus.Histogram
	armed      prometheus.Gauge
}

// New registers the collectors on a fresh registry (plus Go and process
// collectors) and returns them.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWith(reg, reg)
}

// NewWith registers on reg and serves from g.
func NewWith(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	m := &Metrics{
		gatherer: g,
		scheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "scheduled_total",
			Help: "Scheduled toasts accepted.",
		}),
		fired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "fired_total",
			Help: "Scheduled toasts whose trigger fired and were processed.",
		}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cancelled_total",
			Help: "Scheduled toasts cancelled before firing.",
		}),
		missed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "missed_total",
			Help: "Past-due toasts found by the reconciliation sweep, by policy.",
		}, []string{"policy"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dispatch_total",
			Help: "Dispatch attempts by result.",
		}, []string{"result"}),
		dispatchT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "dispatch_duration_seconds",
			Help:    "Dispatch latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		armed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "armed_triggers",
			Help: "Triggers currently armed in the registry.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.scheduled, m.fired, m.cancelled, m.missed, m.dispatches, m.dispatchT, m.armed)
	}
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) IncScheduled() {
	if m == nil {
		return
	}
	m.scheduled.Inc()
}

func (m *Metrics) IncFired() {
	if m == nil {
		return
	}
	m.fired.Inc()
}

func (m *Metrics) IncCancelled() {
	if m == nil {
		return
	}
	m.cancelled.Inc()
}

func (m *Metrics) IncMissed(policy string) {
	if m == nil {
		return
	}
	m.missed.WithLabelValues(normalizeLabel(policy)).Inc()
}

// ObserveDispatch records one dispatch attempt.
func (m *Metrics) ObserveDispatch(took time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.dispatches.WithLabelValues(result).Inc()
	m.dispatchT.Observe(took.Seconds())
}

func (m *Metrics) SetArmed(n int) {
	if m == nil {
		return
	}
	m.armed.Set(float64(n))
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

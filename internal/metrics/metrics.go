// Package metrics exposes the fabric's prometheus collectors. Every method
// is nil-receiver safe so components can run unmetered in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "trikernel"

// Set bundles the dispatcher and session collectors.
type Set struct {
	Inflight       prometheus.Gauge
	Pending        prometheus.Gauge
	Dispatched     prometheus.Counter
	Completed      prometheus.Counter
	Failed         *prometheus.CounterVec
	Notifications  prometheus.Counter
	MainRequests   *prometheus.CounterVec
	TickDuration   prometheus.Histogram
}

// New registers the collector set on reg.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		Inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "dispatcher", Name: "inflight",
			Help: "Tasks currently running in workers.",
		}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "dispatcher", Name: "pending",
			Help: "Claimed tasks waiting for a worker slot.",
		}),
		Dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatcher", Name: "dispatched_total",
			Help: "Tasks handed to the work channel.",
		}),
		Completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatcher", Name: "completed_total",
			Help: "Work tasks finalized as done.",
		}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatcher", Name: "failed_total",
			Help: "Work tasks finalized as failed, by error code.",
		}, []string{"code"}),
		Notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatcher", Name: "notifications_total",
			Help: "Notification tasks emitted for worker output.",
		}),
		MainRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "requests_total",
			Help: "Main-path requests by terminal state.",
		}, []string{"state"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "dispatcher", Name: "tick_seconds",
			Help:    "Duration of one dispatcher tick.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(s.Inflight, s.Pending, s.Dispatched, s.Completed, s.Failed,
		s.Notifications, s.MainRequests, s.TickDuration)
	return s
}

// SetQueueDepths updates the pending/inflight gauges.
func (s *Set) SetQueueDepths(pending, inflight int) {
	if s == nil {
		return
	}
	s.Pending.Set(float64(pending))
	s.Inflight.Set(float64(inflight))
}

// ObserveDispatch counts one task handed to a worker.
func (s *Set) ObserveDispatch() {
	if s == nil {
		return
	}
	s.Dispatched.Inc()
}

// ObserveCompleted counts one done finalization.
func (s *Set) ObserveCompleted() {
	if s == nil {
		return
	}
	s.Completed.Inc()
}

// ObserveFailed counts one failed finalization by code.
func (s *Set) ObserveFailed(code string) {
	if s == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	s.Failed.WithLabelValues(code).Inc()
}

// ObserveNotification counts one emitted notification task.
func (s *Set) ObserveNotification() {
	if s == nil {
		return
	}
	s.Notifications.Inc()
}

// ObserveMainRequest counts one main-path request by terminal state.
func (s *Set) ObserveMainRequest(state string) {
	if s == nil {
		return
	}
	s.MainRequests.WithLabelValues(state).Inc()
}

// ObserveTick records the duration of one dispatcher tick.
func (s *Set) ObserveTick(seconds float64) {
	if s == nil {
		return
	}
	s.TickDuration.Observe(seconds)
}

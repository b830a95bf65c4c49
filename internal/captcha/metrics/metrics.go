package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the challenge engine. All
// methods are safe on a nil receiver so callers can run without metrics.
type Metrics struct {
	ChallengesIssued     prometheus.Counter
	Outcomes             *prometheus.CounterVec
	Attempts             prometheus.Counter
	PendingTimers        prometheus.Gauge
	StoreOpDuration      *prometheus.HistogramVec
	CollaboratorFailures *prometheus.CounterVec
	IngressEvents        *prometheus.CounterVec
	AuditEventsDropped   prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ChallengesIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "joingate_challenges_issued_total",
			Help: "Total number of join challenges issued",
		}),
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "joingate_challenge_outcomes_total",
			Help: "Challenge transitions by outcome",
		}, []string{"outcome"}),
		Attempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "joingate_challenge_attempts_total",
			Help: "Total number of numeric answers evaluated",
		}),
		PendingTimers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "joingate_challenge_pending_timers",
			Help: "Current number of armed challenge timeouts",
		}),
		StoreOpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "joingate_challenge_store_duration_ms",
			Help:    "Latency of challenge store operations in milliseconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50},
		}, []string{"op", "status"}),
		CollaboratorFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "joingate_collaborator_failures_total",
			Help: "Failed notifier and enforcer calls by operation",
		}, []string{"op"}),
		IngressEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "joingate_ingress_events_total",
			Help: "Inbound platform events by type and disposition",
		}, []string{"type", "disposition"}),
		AuditEventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "joingate_audit_events_dropped_total",
			Help: "Audit events dropped because the buffer was full",
		}),
	}
}

func (m *Metrics) IncrementIssued() {
	if m == nil {
		return
	}
	m.ChallengesIssued.Inc()
}

func (m *Metrics) IncrementOutcome(outcome string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementAttempts() {
	if m == nil {
		return
	}
	m.Attempts.Inc()
}

func (m *Metrics) SetPendingTimers(n int) {
	if m == nil {
		return
	}
	m.PendingTimers.Set(float64(n))
}

// ObserveStoreOp matches the challenge store observer signature.
func (m *Metrics) ObserveStoreOp(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StoreOpDuration.WithLabelValues(op, status).Observe(float64(d.Microseconds()) / 1000.0)
}

func (m *Metrics) IncrementCollaboratorFailure(op string) {
	if m == nil {
		return
	}
	m.CollaboratorFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) IncrementIngress(eventType, disposition string) {
	if m == nil {
		return
	}
	m.IngressEvents.WithLabelValues(eventType, disposition).Inc()
}

func (m *Metrics) IncrementAuditDropped() {
	if m == nil {
		return
	}
	m.AuditEventsDropped.Inc()
}

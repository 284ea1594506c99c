// Package metrics exposes the prometheus collectors of the settlement service.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "settle"

// Metrics groups the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	requests      *prometheus.CounterVec
	refunds       *prometheus.CounterVec
	claims        *prometheus.CounterVec
	publishErrors prometheus.Counter
	jobRuns       *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
}

// New builds the collectors and registers them with reg when it is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "requests",
			Name:      "total",
			Help:      "Finalized settlement requests segmented by kind and outcome.",
		}, []string{"kind", "status"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refunds",
			Name:      "total",
			Help:      "Refund attempts of verified deposits segmented by outcome.",
		}, []string{"outcome"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "claims",
			Name:      "total",
			Help:      "Claim lifecycle transitions.",
		}, []string{"event"}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "publish_errors_total",
			Help:      "Transactions that could not be published to the event stream.",
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Background job runs segmented by job and outcome.",
		}, []string{"job", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Background job run latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.refunds, m.claims, m.publishErrors, m.jobRuns, m.jobDuration)
	}
	return m
}

// RecordRequest counts a finalized request.
func (m *Metrics) RecordRequest(kind, status string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(label(kind), label(status)).Inc()
}

// RecordRefund counts a refund attempt; ok is false when it fell back to a claim.
func (m *Metrics) RecordRefund(ok bool) {
	if m == nil {
		return
	}
	outcome := "sent"
	if !ok {
		outcome = "failed"
	}
	m.refunds.WithLabelValues(outcome).Inc()
}

// RecordClaim counts a claim transition such as "created", "processed" or "failed".
func (m *Metrics) RecordClaim(event string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(label(event)).Inc()
}

// RecordPublishError counts a failed event publication.
func (m *Metrics) RecordPublishError() {
	if m == nil {
		return
	}
	m.publishErrors.Inc()
}

// ObserveJob records one background job run.
func (m *Metrics) ObserveJob(job string, seconds float64, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.jobRuns.WithLabelValues(label(job), outcome).Inc()
	m.jobDuration.WithLabelValues(label(job)).Observe(seconds)
}

func label(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return "unknown"
	}
	return v
}

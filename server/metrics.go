package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records front-end observations. Implementations must be safe for
// concurrent use.
type Metrics interface {
	// IncRequest counts one request by operation and resulting status.
	IncRequest(operation, status string)

	// ObserveProposalSeconds records the commit wait of one proposal.
	ObserveProposalSeconds(seconds float64)

	// IncQuorumRound counts one cross-region round by outcome.
	IncQuorumRound(outcome string)

	// IncRateLimited counts one request rejected by the limiter.
	IncRateLimited()
}

// NoOpMetrics discards all observations.
type NoOpMetrics struct{}

func (NoOpMetrics) IncRequest(operation, status string)    {}
func (NoOpMetrics) ObserveProposalSeconds(seconds float64) {}
func (NoOpMetrics) IncQuorumRound(outcome string)          {}
func (NoOpMetrics) IncRateLimited()                        {}

// PrometheusMetrics exposes front-end observations as prometheus series.
type PrometheusMetrics struct {
	requests    *prometheus.CounterVec
	proposals   prometheus.Histogram
	quorum      *prometheus.CounterVec
	rateLimited prometheus.Counter
}

// NewPrometheusMetrics registers the lockd server series on reg and returns
// the recorder.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lockd_requests_total",
			Help: "Lock service requests by operation and status.",
		}, []string{"operation", "status"}),
		proposals: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lockd_proposal_commit_seconds",
			Help:    "Wait from proposal submission to apply.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		quorum: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lockd_quorum_rounds_total",
			Help: "Cross-region quorum rounds by outcome.",
		}, []string{"outcome"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lockd_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),
	}
	reg.MustRegister(m.requests, m.proposals, m.quorum, m.rateLimited)
	return m
}

func (m *PrometheusMetrics) IncRequest(operation, status string) {
	m.requests.WithLabelValues(operation, status).Inc()
}

func (m *PrometheusMetrics) ObserveProposalSeconds(seconds float64) {
	m.proposals.Observe(seconds)
}

func (m *PrometheusMetrics) IncQuorumRound(outcome string) {
	m.quorum.WithLabelValues(outcome).Inc()
}

func (m *PrometheusMetrics) IncRateLimited() {
	m.rateLimited.Inc()
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReplayDecisionsTotal counts guard decisions by token kind and outcome
	ReplayDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadguard_replay_decisions_total",
		Help: "Total number of replay guard decisions",
	}, []string{"kind", "decision"}) // decision: "admit" or "reject"

	// TokenRejectionsTotal counts tokens that failed verification
	TokenRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadguard_token_rejections_total",
		Help: "Total number of landing-page tokens rejected during verification",
	}, []string{"reason"})

	// StoreErrorsTotal counts key store failures by operation
	StoreErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadguard_store_errors_total",
		Help: "Total number of key store operation failures",
	}, []string{"op"})

	// KeysPurgedTotal counts keys removed by the sweeper
	KeysPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadguard_keys_purged_total",
		Help: "Total number of expired replay keys purged",
	})

	// KeyStoreSize tracks the size of the key store after each sweep
	KeyStoreSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "leadguard_key_store_size",
		Help: "Number of replay keys currently stored",
	})

	// LeadsAcceptedTotal counts leads handed to the sink
	LeadsAcceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadguard_leads_accepted_total",
		Help: "Total number of lead submissions accepted",
	})

	// RequestDuration tracks public API latency
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "leadguard_request_duration_seconds",
		Help:    "Request processing duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})
)

// RecordDecision records a replay guard decision
func RecordDecision(kind, decision string) {
	ReplayDecisionsTotal.WithLabelValues(kind, decision).Inc()
}

// RecordTokenRejected records a failed token verification
func RecordTokenRejected(reason string) {
	TokenRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordRequestDuration records request processing duration
func RecordRequestDuration(route, status string, seconds float64) {
	RequestDuration.WithLabelValues(route, status).Observe(seconds)
}

package analyze

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// QueriesTotal counts queries by outcome.
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "walkfilter_queries_total",
			Help: "Number of analyze queries by outcome",
		},
		[]string{"outcome"},
	)

	// PhaseSeconds observes the latency of each query phase.
	PhaseSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "walkfilter_phase_seconds",
			Help:    "Latency of analyze query phases",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		},
		[]string{"phase"},
	)

	// CandidatesMatched observes how many candidates survive each query.
	CandidatesMatched = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "walkfilter_candidates_matched",
			Help:    "Number of candidates returned per query",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)
)

func init() {
	prometheus.MustRegister(QueriesTotal)
	prometheus.MustRegister(PhaseSeconds)
	prometheus.MustRegister(CandidatesMatched)
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProofSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "race_proof_submissions_total",
		Help: "Checkpoint proof submissions by outcome.",
	}, []string{"outcome"})

	SessionEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "race_session_events_total",
		Help: "Session authority events (login, refresh, logout, invalidated).",
	}, []string{"event"})

	ProofDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "race_proof_duration_seconds",
		Help:    "Time spent validating a checkpoint proof.",
		Buckets: prometheus.DefBuckets,
	})
)

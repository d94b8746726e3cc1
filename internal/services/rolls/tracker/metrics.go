package tracker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "grouproll",
		Subsystem: "tracker",
		Name:      "sessions_active",
		Help:      "Group roll sessions currently held in memory.",
	})

	sessionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grouproll",
		Subsystem: "tracker",
		Name:      "sessions_opened_total",
		Help:      "Sessions placed in memory, by how they were obtained.",
	}, []string{"source"})

	sessionsEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grouproll",
		Subsystem: "tracker",
		Name:      "sessions_evicted_total",
		Help:      "Sessions dropped from memory, by reason.",
	}, []string{"reason"})

	actorsTimedOut = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "grouproll",
		Subsystem: "tracker",
		Name:      "actors_timed_out_total",
		Help:      "Actors still unreported when their session went stale.",
	})

	resultsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grouproll",
		Subsystem: "tracker",
		Name:      "results_total",
		Help:      "Result reports handled, by outcome.",
	}, []string{"outcome"})

	individualSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grouproll",
		Subsystem: "tracker",
		Name:      "individual_suppressed_total",
		Help:      "Individual artifacts suppressed in favor of a group artifact.",
	}, []string{"stage"})

	writeConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "grouproll",
		Subsystem: "tracker",
		Name:      "write_conflicts_total",
		Help:      "Group artifact writes retried after another process updated it first.",
	})

	staleDeletions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "grouproll",
		Subsystem: "tracker",
		Name:      "stale_deletions_total",
		Help:      "Scheduled deletions that found the artifact already gone.",
	})
)

const (
	sourceCreated  = "created"
	sourceAttached = "attached"

	evictCompleted = "completed"
	evictStale     = "stale"
	evictDeleted   = "artifact_deleted"

	outcomeRecorded  = "recorded"
	outcomeDuplicate = "duplicate"
	outcomeRejected  = "rejected"

	stagePreCreate  = "pre_create"
	stagePostCreate = "post_create"
)

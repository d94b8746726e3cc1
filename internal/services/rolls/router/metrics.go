package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grouproll",
		Subsystem: "router",
		Name:      "dispatches_total",
		Help:      "Dispatch calls, by whether they opened a group roll.",
	}, []string{"grouped"})

	decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grouproll",
		Subsystem: "router",
		Name:      "decisions_total",
		Help:      "Per-actor routing decisions, by kind and reason.",
	}, []string{"kind", "reason"})

	skipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grouproll",
		Subsystem: "router",
		Name:      "skipped_actors_total",
		Help:      "Actors dropped from a dispatch, by error code.",
	}, []string{"code"})

	requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grouproll",
		Subsystem: "router",
		Name:      "requests_total",
		Help:      "Roll requests handed to the transport, by result.",
	}, []string{"result"})

	localRolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grouproll",
		Subsystem: "router",
		Name:      "local_rolls_total",
		Help:      "Rolls run by the coordinator itself, by status.",
	}, []string{"status"})
)

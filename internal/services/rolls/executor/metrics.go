package executor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rollsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "grouproll",
	Subsystem: "executor",
	Name:      "rolls_total",
	Help:      "Rolls executed, by roll type and status.",
}, []string{"roll_type", "status"})

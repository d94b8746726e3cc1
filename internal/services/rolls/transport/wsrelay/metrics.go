package wsrelay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	peersOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "grouproll",
		Subsystem: "relay",
		Name:      "peers_online",
		Help:      "Participants currently joined to the hub.",
	})

	framesHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grouproll",
		Subsystem: "relay",
		Name:      "frames_total",
		Help:      "Inbound frames by type and outcome.",
	}, []string{"type", "result"})

	connectionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grouproll",
		Subsystem: "relay",
		Name:      "connections_closed_total",
		Help:      "Hub connections closed, by reason.",
	}, []string{"reason"})
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Name:      "active_connections",
		Help:      "Number of live WebSocket connections.",
	})

	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "relay",
		Name:      "active_subscriptions",
		Help:      "Number of connection-to-game subscriptions.",
	})

	BroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "broadcasts_total",
		Help:      "Updates fanned out to subscribers, by update type.",
	}, []string{"type"})

	DroppedSendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "dropped_sends_total",
		Help:      "Individual subscriber sends that failed during fan-out.",
	})

	DroppedMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "relay",
		Name:      "dropped_messages_total",
		Help:      "Inbound frames dropped as malformed.",
	})
)

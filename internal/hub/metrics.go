package hub

import "github.com/prometheus/client_golang/prometheus"

var (
	openConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_open_connections",
		Help: "Number of live websocket connections.",
	})
	onlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_online_users",
		Help: "Number of users with at least one live connection.",
	})
	publishedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_published_events_total",
		Help: "Events published to rooms, by event name.",
	}, []string{"event"})
	droppedDeliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_dropped_deliveries_total",
		Help: "Events dropped because a connection buffer was full.",
	})
)

func init() {
	prometheus.MustRegister(openConnections, onlineUsers, publishedEvents, droppedDeliveries)
}

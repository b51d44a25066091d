package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arenachat_active_connections",
		Help: "Number of live websocket connections.",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arenachat_active_rooms",
		Help: "Number of provisioned rooms.",
	})

	MessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arenachat_messages_total",
		Help: "Total chat messages accepted and sequenced.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arenachat_events_dropped_total",
		Help: "Droppable events (typing) discarded because a subscriber queue was full.",
	})

	SlowConsumerDisconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arenachat_slow_consumer_disconnects_total",
		Help: "Connections force-closed because their outbound queue overflowed.",
	})

	RateLimitedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arenachat_rate_limited_events_total",
		Help: "Inbound events rejected by the per-connection rate limiter.",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}

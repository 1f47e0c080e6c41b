// ABOUTME: Prometheus collectors for the broadcast and presence layer
// ABOUTME: Exposes the promhttp handler mounted by the server

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks the number of live websocket connections.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_connections_active",
		Help: "Number of live websocket connections.",
	})

	// BroadcastsTotal counts broadcasts issued, by kind (message, system, typing).
	BroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_broadcasts_total",
		Help: "Broadcasts issued, by kind.",
	}, []string{"kind"})

	// EventsDeliveredTotal counts events handed to connections.
	EventsDeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_events_delivered_total",
		Help: "Events handed to individual connections.",
	})

	// RateLimitRejectionsTotal counts actions rejected by the rate limiter.
	RateLimitRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_ratelimit_rejections_total",
		Help: "Actions rejected by the rate limiter, by action.",
	}, []string{"action"})

	// AckTimeoutsTotal counts tracked broadcasts that timed out before full
	// acknowledgment.
	AckTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_ack_timeouts_total",
		Help: "Tracked broadcasts that timed out before full acknowledgment.",
	})
)

// Handler exposes Prometheus metrics over HTTP.
func Handler() http.Handler {
	return promhttp.Handler()
}

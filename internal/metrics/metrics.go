// Package metrics holds the relay's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Reasons a frame can be dropped by the protocol handler.
const (
	DropMalformed   = "malformed"
	DropUnknownType = "unknown_type"
	DropRateLimited = "rate_limited"
	DropModeration  = "moderation"
)

// Metrics is a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	Connections      prometheus.Gauge
	Rooms            prometheus.Gauge
	ChatEvents       prometheus.Counter
	Deliveries       prometheus.Counter
	FramesDropped    *prometheus.CounterVec
	Moderation       *prometheus.CounterVec
	SlowDisconnects  prometheus.Counter
	RejectedUpgrades prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_connections_open",
			Help: "Open relay connections.",
		}),
		Rooms: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_rooms_active",
			Help: "Rooms with at least one member.",
		}),
		ChatEvents: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_chat_events_total",
			Help: "Chat events broadcast to a room.",
		}),
		Deliveries: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_deliveries_total",
			Help: "Payloads queued to individual members.",
		}),
		FramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_frames_dropped_total",
			Help: "Inbound frames discarded without a broadcast.",
		}, []string{"reason"}),
		Moderation: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_moderation_total",
			Help: "Moderation outcomes.",
		}, []string{"outcome"}),
		SlowDisconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_slow_consumer_disconnects_total",
			Help: "Members disconnected because their outbound queue was full.",
		}),
		RejectedUpgrades: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_rejected_upgrades_total",
			Help: "Connection requests rejected before upgrade.",
		}),
	}
}

// Handler exposes the registry at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

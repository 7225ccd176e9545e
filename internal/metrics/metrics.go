// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_connections_active",
		Help: "The current number of open WebSocket connections.",
	})
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_connections_total",
		Help: "The total number of WebSocket connections accepted.",
	})
	RequestsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_requests_rejected_total",
		Help: "Requests refused at the boundary, by reason.",
	}, []string{"reason"})

	// Routing metrics
	MessagesRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_messages_routed_total",
		Help: "Chat messages accepted for routing, by scope.",
	}, []string{"scope"})
	DeliveriesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_deliveries_dropped_total",
		Help: "Frames not delivered because the connection was closed or saturated.",
	})
	FramesDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_frames_discarded_total",
		Help: "Inbound frames dropped without a reply, by reason.",
	}, []string{"reason"})

	// Persistence metrics
	PersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_persist_failures_total",
		Help: "Failed durable store calls, by operation.",
	}, []string{"op"})
	PersistQueueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_persist_queue_dropped_total",
		Help: "Durable writes discarded because the queue was full.",
	})

	// Moderation metrics
	ModerationActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_moderation_actions_total",
		Help: "Privileged operations executed, by action.",
	}, []string{"action"})
	LoginFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_moderator_login_failures_total",
		Help: "Rejected moderator login attempts.",
	})
	BanCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parley_ban_cache_entries",
		Help: "Addresses currently denied by the ban cache.",
	})
	BanRefreshFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parley_ban_refresh_failures_total",
		Help: "Ban cache refreshes that failed and kept the previous set.",
	})
)

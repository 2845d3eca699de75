package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveListeners is the current number of online listener sessions as
	// seen by this instance's latest snapshot.
	ActiveListeners = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "presence_active_listeners",
		Help: "Current number of online listener sessions.",
	})

	// PresenceOps counts store operations by kind (join, heartbeat, track, leave).
	PresenceOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_operations_total",
		Help: "Total presence store operations by kind.",
	}, []string{"op"})

	// PresenceOpErrors counts failed store operations by kind.
	PresenceOpErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "presence_operation_errors_total",
		Help: "Total failed presence store operations by kind.",
	}, []string{"op"})

	// SessionsPruned counts sessions evicted by staleness pruning.
	SessionsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "presence_sessions_pruned_total",
		Help: "Total sessions removed because their heartbeat went stale.",
	})

	// WSConnections is the current number of WebSocket subscribers.
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections_active",
		Help: "Current number of active WebSocket connections.",
	})

	// WSMessagesReceived counts messages received from WebSocket clients.
	WSMessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_messages_received_total",
		Help: "Total messages received from WebSocket clients.",
	})

	// NotificationsEnqueued counts track-change notifications that survived
	// debounce and cooldown.
	NotificationsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notify_enqueued_total",
		Help: "Total track-change notifications enqueued.",
	})
)

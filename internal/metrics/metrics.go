// Package metrics defines the Prometheus collectors for the relay process.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay metrics
var (
	// RelayConnectedClients tracks currently attached socket clients. The
	// label is the normalized role, not the raw client type, so arbitrary
	// type strings cannot mint new series.
	RelayConnectedClients = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_connected_clients",
			Help: "Currently attached socket clients by role (worker, observer)",
		},
		[]string{"role"},
	)

	// RelayAttachesTotal counts completed attachments by role.
	RelayAttachesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_attaches_total",
			Help: "Total completed client attachments by role (worker, observer)",
		},
		[]string{"role"},
	)

	// RelayDetachesTotal counts explicit detachments by role. Connections
	// removed after a failed send count as prunes instead.
	RelayDetachesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_detaches_total",
			Help: "Total explicit client detachments by role (worker, observer)",
		},
		[]string{"role"},
	)

	// RelayPrunedConnectionsTotal counts connections removed after a failed send.
	RelayPrunedConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_pruned_connections_total",
			Help: "Connections removed from the registry after a failed send",
		},
	)

	// RelayPingFailuresTotal counts protocol pings the writer pump failed to send.
	RelayPingFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_ping_failures_total",
			Help: "Protocol pings the writer pump failed to send",
		},
	)

	// RelayMessagesTotal counts inbound socket messages by handling branch.
	RelayMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Inbound socket messages by handling branch (ping, worker, observer)",
		},
		[]string{"branch"},
	)

	// RelayCommandChannelDepth tracks the actor command channel depth.
	RelayCommandChannelDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_command_channel_depth",
			Help: "Current relay actor command channel depth",
		},
	)

	// RelayStopTimeoutsTotal counts relay stops that exceeded the stop timeout.
	RelayStopTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_stop_timeouts_total",
			Help: "Relay stops that exceeded the stop timeout",
		},
	)

	// RelayPanicsTotal counts panics recovered in the relay goroutine.
	RelayPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_panics_total",
			Help: "Panics recovered in the relay goroutine",
		},
	)
)

// Command correlation metrics
var (
	// CommandsDispatchedTotal counts observer commands that reached at least one worker.
	CommandsDispatchedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_commands_dispatched_total",
			Help: "Observer commands delivered to at least one worker",
		},
	)

	// CommandsRejectedTotal counts observer commands that reached zero workers.
	CommandsRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_commands_rejected_total",
			Help: "Observer commands rejected because no worker was connected",
		},
	)

	// ResultsForwardedTotal counts worker replies correlated back to their issuer.
	ResultsForwardedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_results_forwarded_total",
			Help: "Worker replies correlated and forwarded to the issuing observer",
		},
	)

	// UnmatchedRepliesTotal counts worker replies whose command id had no pending entry.
	UnmatchedRepliesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_unmatched_replies_total",
			Help: "Worker replies carrying a command id with no pending entry",
		},
	)

	// PendingCommands tracks commands awaiting a worker reply.
	PendingCommands = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_pending_commands",
			Help: "Commands dispatched and still awaiting a worker reply",
		},
	)

	// ExpiredCommandsTotal counts pending commands evicted by the TTL sweep.
	ExpiredCommandsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_expired_commands_total",
			Help: "Pending commands evicted by the TTL sweep",
		},
	)
)

// HTTP surface metrics
var (
	// GateRejectionsTotal counts socket upgrades refused by the connection gate.
	GateRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_rejections_total",
			Help: "Socket upgrades refused by the connection gate, by reason",
		},
		[]string{"reason"},
	)

	// DispatchRequestsTotal counts POST /dispatch calls by outcome.
	DispatchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_requests_total",
			Help: "POST /dispatch requests by outcome (sent, no_workers)",
		},
		[]string{"outcome"},
	)
)

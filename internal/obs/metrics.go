package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the counters/gauges recorded by both the orchestrator
// and the node runtime. Only the orchestrator's HTTP bridge serves them,
// on /metrics; the node binary records its counters but exposes no
// endpoint for them.
type Metrics struct {
	Registry *prometheus.Registry

	// Orchestrator-side
	NodesConnected   prometheus.Gauge
	PlansExecuted    prometheus.Counter
	StepsExecuted    *prometheus.CounterVec // labeled by step type
	EmergencyStops   prometheus.Counter
	ReconnectAttempt *prometheus.CounterVec // labeled by alias

	// Node-runtime-side
	CommandsRun     *prometheus.CounterVec // labeled by token
	RateLimited     prometheus.Counter
	WatchdogTrips   prometheus.Counter
}

// NewMetrics registers a fresh instrument set on a private registry (never
// the global default) so tests can spin up independent orchestrators/node
// runtimes without colliding on metric names.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		NodesConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "daemon_nodes_connected",
			Help: "Number of nodes currently connected to the orchestrator.",
		}),
		PlansExecuted: factory.NewCounter(prometheus.CounterOpts{
			Name: "daemon_plans_executed_total",
			Help: "Number of plans the executor has run to completion.",
		}),
		StepsExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "daemon_steps_executed_total",
			Help: "Number of plan steps executed, labeled by step type.",
		}, []string{"type"}),
		EmergencyStops: factory.NewCounter(prometheus.CounterOpts{
			Name: "daemon_emergency_stops_total",
			Help: "Number of emergency-stop sweeps issued.",
		}),
		ReconnectAttempt: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "daemon_reconnect_attempts_total",
			Help: "Number of reconnect-and-resend attempts, labeled by node alias.",
		}, []string{"alias"}),
		CommandsRun: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "daemon_node_commands_total",
			Help: "Number of RUN commands dispatched by the node runtime, labeled by token.",
		}, []string{"token"}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "daemon_node_rate_limited_total",
			Help: "Number of RUN requests rejected for exceeding rate_limit_hz.",
		}),
		WatchdogTrips: factory.NewCounter(prometheus.CounterOpts{
			Name: "daemon_node_watchdog_trips_total",
			Help: "Number of times the deadman watchdog forced a safe-stop.",
		}),
	}
}

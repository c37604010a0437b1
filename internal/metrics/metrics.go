// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultRegistry is the registry served by Handler.
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		TurnTotal, TurnSteps, TurnDuration,
		ToolCallTotal, ToolCallDuration,
		RateLimitedTotal, SessionsSwept,
	)
}

// TurnTotal counts finished turns by outcome.
var TurnTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agent_turn_total",
		Help: "Conversation turns by outcome.",
	},
	[]string{"outcome"}, // final | ask_user | confirmation | exhausted | error
)

// TurnSteps records planner invocations per turn.
var TurnSteps = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "agent_turn_steps",
		Help:    "Planner invocations per turn.",
		Buckets: []float64{1, 2, 3, 4, 5, 6},
	},
)

// TurnDuration records wall time per turn in seconds.
var TurnDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "agent_turn_duration_seconds",
		Help:    "Turn duration in seconds.",
		Buckets: prometheus.DefBuckets,
	},
)

// ToolCallTotal counts tool invocations by tool and result code ("ok" on success).
var ToolCallTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agent_tool_call_total",
		Help: "Tool invocations by tool and result code.",
	},
	[]string{"tool", "code"},
)

// ToolCallDuration records tool invocation latency in seconds.
var ToolCallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "agent_tool_call_duration_seconds",
		Help:    "Tool invocation latency in seconds.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"tool"},
)

// RateLimitedTotal counts chat requests rejected by the per-session limiter.
var RateLimitedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "agent_rate_limited_total",
		Help: "Chat requests rejected by the rate limiter.",
	},
)

// SessionsSwept counts sessions removed by the expiry sweeper.
var SessionsSwept = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "agent_sessions_swept_total",
		Help: "Expired chat sessions removed.",
	},
)

// Handler serves DefaultRegistry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(DefaultRegistry, promhttp.HandlerOpts{})
}

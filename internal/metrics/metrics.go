// Package metrics exports Prometheus collectors for playbook execution.
// The collectors live on a private registry so several servers (and
// tests) can coexist in one process.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ormasoftchile/playbook/pkg/kernel/schema"
)

// Status label values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Observer counts and times action dispatches. It satisfies
// engine.Observer and can be shared by every executor of a pool.
type Observer struct {
	registry  *prometheus.Registry
	actions   *prometheus.CounterVec
	durations *prometheus.HistogramVec
	toolCalls *prometheus.CounterVec
}

// New creates the collectors and registers them.
func New() *Observer {
	o := &Observer{
		registry: prometheus.NewRegistry(),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playbook_actions_total",
				Help: "Total number of action dispatches",
			},
			[]string{"action", "status"},
		),
		durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "playbook_action_duration_seconds",
				Help:    "Duration of action dispatches",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playbook_tool_calls_total",
				Help: "Total number of LLM tool invocations",
			},
			[]string{"tool", "status"},
		),
	}
	o.registry.MustRegister(o.actions, o.durations, o.toolCalls)
	return o
}

// Registry exposes the underlying registry.
func (o *Observer) Registry() *prometheus.Registry { return o.registry }

// Handler serves the registry in the exposition format.
func (o *Observer) Handler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})
}

// ActionStart is a no-op; timing is reported by ActionEnd.
func (o *Observer) ActionStart(*schema.Playbook, int) {}

// ActionEnd records one finished dispatch.
func (o *Observer) ActionEnd(pb *schema.Playbook, _ int, _ any, err error, elapsed time.Duration) {
	o.actions.WithLabelValues(pb.Name, status(err)).Inc()
	o.durations.WithLabelValues(pb.Name).Observe(elapsed.Seconds())
}

// ToolCall records a tool invocation made on behalf of a model. Its
// signature matches session.ToolHook.
func (o *Observer) ToolCall(tool string, err error) {
	o.toolCalls.WithLabelValues(tool, status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}

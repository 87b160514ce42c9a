// Package metrics exposes Prometheus collectors for the gateway: inbound
// events per protocol, task outcomes and durations, confirmation results and
// the depth of the task queue.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Inbound outcomes.
const (
	InboundEnqueued = "enqueued"
	InboundDiverted = "diverted"
	InboundDropped  = "dropped"
	InboundIgnored  = "ignored"
	InboundFailed   = "failed"
)

// Task outcomes.
const (
	TaskReplied = "replied"
	TaskCommand = "command"
	TaskSkipped = "skipped"
	TaskFailed  = "failed"
)

// Confirmation results.
const (
	ConfirmConfirmed = "confirmed"
	ConfirmDenied    = "denied"
	ConfirmTimedOut  = "timed_out"
)

// Collector groups the gateway metrics. A nil *Collector is valid and
// records nothing, so components can run without metrics in tests.
type Collector struct {
	registry *prometheus.Registry

	inbound       *prometheus.CounterVec
	tasks         *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	confirmations *prometheus.CounterVec
	queueDepth    prometheus.Gauge
	toolCalls     *prometheus.CounterVec
}

// New registers the gateway collectors on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Collector{
		registry: reg,
		inbound: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clawgate_inbound_events_total",
			Help: "Inbound events by protocol and outcome.",
		}, []string{"protocol", "outcome"}),
		tasks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clawgate_tasks_total",
			Help: "Finished message tasks by protocol and outcome.",
		}, []string{"protocol", "outcome"}),
		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clawgate_task_duration_seconds",
			Help:    "Message task duration in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"protocol"}),
		confirmations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clawgate_confirmations_total",
			Help: "Confirmation requests by protocol and result.",
		}, []string{"protocol", "result"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "clawgate_task_queue_depth",
			Help: "Tasks waiting for a worker.",
		}),
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clawgate_tool_calls_total",
			Help: "Tool invocations by tool and status.",
		}, []string{"tool", "status"}),
	}
}

func (c *Collector) InboundObserved(protocol, outcome string) {
	if c == nil {
		return
	}
	c.inbound.WithLabelValues(protocol, outcome).Inc()
}

func (c *Collector) TaskFinished(protocol, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.tasks.WithLabelValues(protocol, outcome).Inc()
	c.taskDuration.WithLabelValues(protocol).Observe(d.Seconds())
}

func (c *Collector) ConfirmationResolved(protocol, result string) {
	if c == nil {
		return
	}
	c.confirmations.WithLabelValues(protocol, result).Inc()
}

func (c *Collector) QueueDepth(n int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(n))
}

func (c *Collector) ToolCalled(tool, status string) {
	if c == nil {
		return
	}
	c.toolCalls.WithLabelValues(tool, status).Inc()
}

// Registry returns the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collected metrics in Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

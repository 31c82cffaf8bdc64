// Package telemetry exposes swarm activity as Prometheus metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hivemesh/swarmcore/internal/shared"
)

// Collector turns lifecycle events into Prometheus metrics. Wire its
// Observe method into the event bus.
type Collector struct {
	eventsTotal    *prometheus.CounterVec
	taskRetries    prometheus.Counter
	queueDepth     prometheus.Gauge
	agentsByStatus *prometheus.GaugeVec
}

// NewCollector creates a collector and registers its metrics. A nil
// registerer falls back to the default registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "swarmcore",
			Name:      "events_total",
			Help:      "Lifecycle events emitted by the coordinator, by kind.",
		}, []string{"kind"}),
		taskRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "swarmcore",
			Name:      "task_retries_total",
			Help:      "Task attempts that failed and were retried or exhausted.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "swarmcore",
			Name:      "pending_queue_depth",
			Help:      "Tasks waiting for assignment.",
		}),
		agentsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "swarmcore",
			Name:      "agents",
			Help:      "Registered agents by status.",
		}, []string{"status"}),
	}
	reg.MustRegister(c.eventsTotal, c.taskRetries, c.queueDepth, c.agentsByStatus)
	return c
}

// Observe records one lifecycle event.
func (c *Collector) Observe(e shared.Event) {
	c.eventsTotal.WithLabelValues(string(e.Kind)).Inc()
	if e.Kind == shared.EventTaskFailed {
		c.taskRetries.Inc()
	}
}

// SetQueueDepth records the current pending queue depth.
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// SetAgentCounts records the registry's per-status census.
func (c *Collector) SetAgentCounts(counts map[shared.AgentStatus]int) {
	for _, status := range []shared.AgentStatus{
		shared.AgentStatusIdle, shared.AgentStatusBusy,
		shared.AgentStatusUnreachable, shared.AgentStatusRetired,
	} {
		c.agentsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

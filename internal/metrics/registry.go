// Package metrics exposes the fabric's pull-scrape (Prometheus) surface over
// an isolated registry, so multiple Service instances in the same test binary
// never collide on the global default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry wraps a private prometheus.Registry with the fabric's fixed set
// of gauges, counters, and histograms.
type Registry struct {
	reg *prometheus.Registry

	TasksTotal        *prometheus.GaugeVec
	SchedulerUp       prometheus.Gauge
	TaskStalenessSecs *prometheus.GaugeVec
	AgentContextBytes *prometheus.GaugeVec

	DelegationEventsTotal      prometheus.Counter
	LockAcquisitionFailures    prometheus.Counter
	SchedulerPollFailuresTotal prometheus.Counter
	GateTransitionsTotal       prometheus.Counter
	GateRejectionsTotal        prometheus.Counter
	GateTimeoutsTotal          prometheus.Counter
	GateEscalationsTotal       prometheus.Counter

	SchedulerLoopDuration prometheus.Histogram
	GateDuration          prometheus.Histogram
}

// New builds a Registry bound to a fresh, private prometheus.Registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		TasksTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aof_tasks_total", Help: "Current task count by agent and lifecycle state.",
		}, []string{"agent", "state"}),
		SchedulerUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aof_scheduler_up", Help: "1 while the scheduler's poll loop is running.",
		}),
		TaskStalenessSecs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aof_task_staleness_seconds", Help: "Seconds since a task's lastTransitionAt.",
		}, []string{"agent", "task_id"}),
		AgentContextBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aof_agent_context_bytes", Help: "Bytes of context handed to an agent's last dispatch.",
		}, []string{"agentId"}),
		DelegationEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aof_delegation_events_total", Help: "Tasks dispatched to an agent.",
		}),
		LockAcquisitionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aof_lock_acquisition_failures_total", Help: "Lease acquisitions rejected by a conflicting holder.",
		}),
		SchedulerPollFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aof_scheduler_poll_failures_total", Help: "Poll cycles that returned an error.",
		}),
		GateTransitionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aof_gate_transitions_total", Help: "Gate advances across all workflows.",
		}),
		GateRejectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aof_gate_rejections_total", Help: "Gate reject/needs_review outcomes.",
		}),
		GateTimeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aof_gate_timeouts_total", Help: "Gates whose timeout elapsed while a task was parked at them.",
		}),
		GateEscalationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aof_gate_escalations_total", Help: "Gate timeouts escalated to the gate's escalateTo role.",
		}),
		SchedulerLoopDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aof_scheduler_loop_duration_seconds",
			Help:    "Wall-clock duration of one scheduler poll.",
			Buckets: prometheus.DefBuckets,
		}),
		GateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aof_gate_duration_seconds",
			Help:    "Time a task spends sitting at one gate before advancing.",
			Buckets: gateDurationBuckets(),
		}),
	}

	reg.MustRegister(
		r.TasksTotal, r.SchedulerUp, r.TaskStalenessSecs, r.AgentContextBytes,
		r.DelegationEventsTotal, r.LockAcquisitionFailures, r.SchedulerPollFailuresTotal,
		r.GateTransitionsTotal, r.GateRejectionsTotal, r.GateTimeoutsTotal, r.GateEscalationsTotal,
		r.SchedulerLoopDuration, r.GateDuration,
	)
	return r
}

// gateDurationBuckets spans 60s to 24h, per spec: a gate can sit open for
// anywhere from a quick automated check to a multi-day human review.
func gateDurationBuckets() []float64 {
	return []float64{
		60, 300, 900, 1800, 3600, 2 * 3600, 6 * 3600, 12 * 3600, 24 * 3600,
	}
}

// Registerer exposes the underlying prometheus.Registerer for components
// (e.g. a client library's own collectors) that need to register directly.
func (r *Registry) Registerer() prometheus.Registerer { return r.reg }

// Gatherer exposes the underlying prometheus.Gatherer for the HTTP handler.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

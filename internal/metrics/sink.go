package metrics

import "time"

// ObserveGateDuration implements gate.MetricsSink.
func (r *Registry) ObserveGateDuration(gateID string, d time.Duration) {
	_ = gateID // not currently a label; cardinality is bounded by workflow size, not worth a vec yet
	r.GateDuration.Observe(d.Seconds())
}

// IncGateTransitions implements gate.MetricsSink.
func (r *Registry) IncGateTransitions() { r.GateTransitionsTotal.Inc() }

// IncGateRejections implements gate.MetricsSink.
func (r *Registry) IncGateRejections() { r.GateRejectionsTotal.Inc() }

// IncGateTimeouts implements gate.MetricsSink.
func (r *Registry) IncGateTimeouts() { r.GateTimeoutsTotal.Inc() }

// IncGateEscalations implements gate.MetricsSink.
func (r *Registry) IncGateEscalations() { r.GateEscalationsTotal.Inc() }

// ObserveSchedulerLoop records one poll cycle's wall-clock duration.
func (r *Registry) ObserveSchedulerLoop(d time.Duration) {
	r.SchedulerLoopDuration.Observe(d.Seconds())
}

// IncSchedulerPollFailures implements scheduler.MetricsSink.
func (r *Registry) IncSchedulerPollFailures() { r.SchedulerPollFailuresTotal.Inc() }

// IncDelegationEvents implements scheduler.MetricsSink.
func (r *Registry) IncDelegationEvents() { r.DelegationEventsTotal.Inc() }

// IncLockAcquisitionFailures increments aof_lock_acquisition_failures_total.
func (r *Registry) IncLockAcquisitionFailures() { r.LockAcquisitionFailures.Inc() }

// SetSchedulerUp sets the aof_scheduler_up gauge to 1 or 0.
func (r *Registry) SetSchedulerUp(up bool) {
	if up {
		r.SchedulerUp.Set(1)
	} else {
		r.SchedulerUp.Set(0)
	}
}

// SetTasksTotal sets the aof_tasks_total gauge for one (agent, state) pair.
func (r *Registry) SetTasksTotal(agent, state string, count float64) {
	r.TasksTotal.WithLabelValues(agent, state).Set(count)
}

// SetTaskStaleness sets the aof_task_staleness_seconds gauge for one task.
func (r *Registry) SetTaskStaleness(agent, taskID string, seconds float64) {
	r.TaskStalenessSecs.WithLabelValues(agent, taskID).Set(seconds)
}

// SetAgentContextBytes sets the aof_agent_context_bytes gauge for one agent.
func (r *Registry) SetAgentContextBytes(agentID string, bytes float64) {
	r.AgentContextBytes.WithLabelValues(agentID).Set(bytes)
}

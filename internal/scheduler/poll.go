package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/d0labs/aof/internal/executor"
	"github.com/d0labs/aof/internal/lease"
	"github.com/d0labs/aof/internal/sla"
	"github.com/d0labs/aof/internal/taskstore"
)

// Poll runs one deterministic poll cycle: reconcile stale leases, snapshot
// the store, resolve stale heartbeats, plan and execute dispatches, check
// SLAs, evaluate murmur triggers, and emit a single scheduler.poll event.
// Bounded by cfg.PollTimeoutMs; on timeout the cycle is abandoned and a
// poll.timeout event is emitted instead of returning a partial result.
func (s *Scheduler) Poll(ctx context.Context) (*PollResult, error) {
	start := s.clock()
	pollCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.PollTimeoutMs)*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	var result *PollResult
	var pollErr error
	go func() {
		defer close(done)
		result, pollErr = s.poll(pollCtx)
	}()

	select {
	case <-done:
	case <-pollCtx.Done():
		s.emit("poll.timeout", "", "", map[string]any{"pollTimeoutMs": s.cfg.PollTimeoutMs})
		return nil, fmt.Errorf("scheduler: poll timed out after %dms", s.cfg.PollTimeoutMs)
	}
	if pollErr != nil {
		return nil, pollErr
	}

	result.Duration = s.clock().Sub(start)
	if s.metrics != nil {
		s.metrics.ObserveSchedulerLoop(result.Duration)
	}
	s.emitPollSummary(result)
	return result, nil
}

func (s *Scheduler) poll(ctx context.Context) (*PollResult, error) {
	result := &PollResult{DryRun: s.cfg.DryRun}

	// Step 1: reconcile stale leases.
	reclaimed, err := s.leases.Expire()
	if err != nil {
		return nil, fmt.Errorf("scheduler: reconcile leases: %w", err)
	}
	for _, r := range reclaimed {
		result.add(Action{Type: "action.lease_reclaimed", TaskID: r.TaskID, Detail: map[string]any{"newStatus": string(r.NewStatus)}})
	}

	// Step 2: snapshot.
	stats, readyTasks, inProgress, err := s.snapshot()
	if err != nil {
		return nil, fmt.Errorf("scheduler: snapshot: %w", err)
	}
	result.Stats = stats

	// Step 3: stale heartbeats.
	if err := s.resolveStaleHeartbeats(result); err != nil {
		return nil, fmt.Errorf("scheduler: stale heartbeats: %w", err)
	}

	// Step 4: plan dispatch.
	plan := s.planDispatch(readyTasks, inProgress, result)
	result.ActionsPlanned = len(plan)

	// Step 5: execute (skipped entirely in dry-run).
	if !s.cfg.DryRun {
		s.executeDispatch(ctx, plan, result)
	}

	// Step 6: SLA check.
	if s.sla != nil {
		violations, err := s.sla.Check()
		if err != nil {
			return nil, fmt.Errorf("scheduler: sla check: %w", err)
		}
		for _, v := range violations {
			reason := ""
			if v.RateLimited {
				reason = "rate-limited"
			}
			result.add(Action{Type: "action.sla_violation", TaskID: v.TaskID, Reason: reason, Detail: map[string]any{
				"ageMs": v.Age.Milliseconds(), "thresholdMs": v.Threshold.Milliseconds(),
			}})
			if !v.RateLimited {
				s.dispatchSLAAction(v, result)
			}
		}
	}

	// Step 6.5: gate escalation check.
	if s.gate != nil {
		gateTasks, err := s.gatedTasks()
		if err != nil {
			return nil, fmt.Errorf("scheduler: list gated tasks: %w", err)
		}
		escalated, err := s.gate.CheckEscalations(gateTasks)
		if err != nil {
			return nil, fmt.Errorf("scheduler: gate escalation check: %w", err)
		}
		for _, task := range escalated {
			result.add(Action{Type: "action.gate_escalated", TaskID: task.ID, Detail: map[string]any{
				"escalatedTo": task.Gate.EscalatedTo,
			}})
		}
	}

	// Step 7: murmur.
	if s.org != nil {
		if err := s.evaluateMurmur(result); err != nil {
			return nil, fmt.Errorf("scheduler: murmur: %w", err)
		}
	}

	if result.ActionsFailed > 0 {
		result.Reason = "action_failed"
	} else if s.cfg.DryRun {
		result.Reason = "dry_run_mode"
	}
	return result, nil
}

func (s *Scheduler) snapshot() (Stats, []*taskstore.Task, []*taskstore.Task, error) {
	counts := map[string]int{}
	for _, status := range taskstore.Statuses {
		tasks, err := s.store.List(taskstore.ListFilter{Status: status})
		if err != nil {
			return Stats{}, nil, nil, err
		}
		counts[string(status)] = len(tasks)
	}
	ready, err := s.store.List(taskstore.ListFilter{Status: taskstore.StatusReady})
	if err != nil {
		return Stats{}, nil, nil, err
	}
	inProgress, err := s.store.List(taskstore.ListFilter{Status: taskstore.StatusInProgress})
	if err != nil {
		return Stats{}, nil, nil, err
	}
	return Stats{CountsByStatus: counts, ReadyCount: len(ready), InProgress: len(inProgress)}, ready, inProgress, nil
}

// dispatchSLAAction reads the breaching task's sla.onViolation and acts on
// it: alert (the default) is already covered by the sla.violation event
// emitted in Step 6, block parks the task pending intervention, deadletter
// quarantines it outright. Only called for non-rate-limited violations,
// matching the checker's own once-per-cooldown alert emission.
func (s *Scheduler) dispatchSLAAction(v sla.Violation, result *PollResult) {
	task, err := s.store.Get(v.TaskID)
	if err != nil {
		return
	}
	action := taskstore.SLAActionAlert
	if task.SLA != nil && task.SLA.OnViolation != "" {
		action = task.SLA.OnViolation
	}

	switch action {
	case taskstore.SLAActionBlock:
		if _, err := s.store.Block(v.TaskID, "sla_violation", ""); err == nil {
			result.add(Action{Type: "action.sla_blocked", TaskID: v.TaskID, Detail: map[string]any{
				"ageMs": v.Age.Milliseconds(), "thresholdMs": v.Threshold.Milliseconds(),
			}})
		}
	case taskstore.SLAActionDeadletter:
		if s.deadletter == nil {
			return
		}
		if _, err := s.deadletter.TransitionToDeadletter(v.TaskID, "sla_violation"); err == nil {
			result.add(Action{Type: "action.sla_deadletter", TaskID: v.TaskID, Detail: map[string]any{
				"ageMs": v.Age.Milliseconds(), "thresholdMs": v.Threshold.Milliseconds(),
			}})
		}
	case taskstore.SLAActionAlert:
		// Already covered by the sla.violation event emitted above.
	}
}

// gatedTasks lists every non-terminal task still carrying a gate state, the
// candidate set for the gate engine's escalation check.
func (s *Scheduler) gatedTasks() ([]*taskstore.Task, error) {
	var out []*taskstore.Task
	for _, status := range taskstore.Statuses {
		if status == taskstore.StatusDone || status == taskstore.StatusCancelled {
			continue
		}
		tasks, err := s.store.List(taskstore.ListFilter{Status: status})
		if err != nil {
			return nil, err
		}
		for _, t := range tasks {
			if t.Gate != nil {
				out = append(out, t)
			}
		}
	}
	return out, nil
}

// resolveStaleHeartbeats implements step 3's resolution table.
func (s *Scheduler) resolveStaleHeartbeats(result *PollResult) error {
	stale, err := s.leases.CheckStaleHeartbeats()
	if err != nil {
		return err
	}
	root := s.store.Root()
	for _, sh := range stale {
		runResult, err := lease.ReadResult(root, sh.TaskID)
		if err != nil {
			return err
		}
		var newStatus taskstore.Status
		switch {
		case runResult == nil:
			newStatus = taskstore.StatusReady
			now := s.clock()
			if run, err := lease.ReadRun(root, sh.TaskID); err == nil && run != nil {
				run.Status = lease.RunFailed
				run.ExpiredAt = &now
				_ = lease.WriteRun(root, *run)
			}
		case runResult.Outcome == lease.OutcomePartial || runResult.Outcome == lease.OutcomeNeedsReview:
			newStatus = taskstore.StatusReview
		case runResult.Outcome == lease.OutcomeBlocked:
			newStatus = taskstore.StatusBlocked
		case runResult.Outcome == lease.OutcomeDone:
			newStatus = taskstore.StatusReview
		default:
			newStatus = taskstore.StatusReview
		}

		if _, err := s.store.SetLease(sh.TaskID, nil); err != nil {
			return err
		}
		task, err := s.store.ForceTransition(sh.TaskID, newStatus, taskstore.TransitionOptions{Reason: "stale_heartbeat"})
		if err != nil {
			return err
		}
		if runResult != nil && runResult.Outcome == lease.OutcomeDone && newStatus == taskstore.StatusReview {
			if _, err := s.store.Transition(sh.TaskID, taskstore.StatusDone, taskstore.TransitionOptions{Reason: "stale_heartbeat_done"}); err != nil {
				return err
			}
		}
		if s.cfg.CascadeBlocks && newStatus == taskstore.StatusBlocked {
			s.cascadeBlock(task, result)
		}
		result.add(Action{Type: "action.stale_heartbeat", TaskID: sh.TaskID, Detail: map[string]any{"newStatus": string(newStatus)}})
	}
	return nil
}

// cascadeBlock blocks direct backlog|ready dependents of a newly-blocked
// task, per the cascadeBlocks config flag.
func (s *Scheduler) cascadeBlock(blocked *taskstore.Task, result *PollResult) {
	for _, status := range []taskstore.Status{taskstore.StatusBacklog, taskstore.StatusReady} {
		tasks, err := s.store.List(taskstore.ListFilter{Status: status})
		if err != nil {
			continue
		}
		for _, t := range tasks {
			for _, dep := range t.DependsOn {
				if dep == blocked.ID {
					if _, err := s.store.Block(t.ID, "dependency "+blocked.ID+" blocked", ""); err == nil {
						result.add(Action{Type: "action.cascade_block", TaskID: t.ID, Detail: map[string]any{"dependsOn": blocked.ID}})
					}
					break
				}
			}
		}
	}
}

// dispatchPlan is one task this poll intends to assign, paired with the
// agent it resolved to.
type dispatchPlan struct {
	task  *taskstore.Task
	agent string
}

// planDispatch filters ready tasks down to dispatchable ones (step 4): no
// unresolved deps, not blocked by open subtasks, no resource conflict (an
// agent already running a task is a busy resource), and — in multi-project
// mode — the routed agent is a declared participant. Ordered by priority
// then id, capped at the available concurrency slots.
func (s *Scheduler) planDispatch(ready, inProgress []*taskstore.Task, result *PollResult) []dispatchPlan {
	sortReadyTasks(ready)

	busyAgents := map[string]bool{}
	for _, t := range inProgress {
		if t.Lease != nil {
			busyAgents[t.Lease.Agent] = true
		}
	}

	availableSlots := s.cfg.MaxConcurrentDispatches - len(inProgress)
	if availableSlots < 0 {
		availableSlots = 0
	}

	var plan []dispatchPlan
	for _, t := range ready {
		agent := t.Routing.Agent
		if agent == "" {
			continue // unrouted tasks have no assignee yet; nothing to dispatch
		}

		if !s.dependenciesResolved(t) {
			continue
		}
		if s.blockedBySubtasks(t) {
			continue
		}
		if busyAgents[agent] {
			result.add(Action{Type: "action.skipped", TaskID: t.ID, Agent: agent, Reason: "resource_conflict"})
			continue
		}
		if s.project != nil && !s.project.IsParticipant(agent) {
			result.add(Action{Type: "action.alert", TaskID: t.ID, Agent: agent, Reason: "not a participant"})
			continue
		}

		if len(plan) >= availableSlots {
			continue
		}
		plan = append(plan, dispatchPlan{task: t, agent: agent})
		busyAgents[agent] = true
	}
	return plan
}

func (s *Scheduler) dependenciesResolved(t *taskstore.Task) bool {
	for _, depID := range t.DependsOn {
		dep, err := s.store.Get(depID)
		if err != nil || dep.Status != taskstore.StatusDone {
			return false
		}
	}
	return true
}

// blockedBySubtasks reports whether t has any subtask (a task whose
// ParentID is t.ID) that has not reached done or cancelled.
func (s *Scheduler) blockedBySubtasks(t *taskstore.Task) bool {
	for _, status := range taskstore.Statuses {
		if status == taskstore.StatusDone || status == taskstore.StatusCancelled {
			continue
		}
		tasks, err := s.store.List(taskstore.ListFilter{Status: status})
		if err != nil {
			continue
		}
		for _, candidate := range tasks {
			if candidate.ParentID == t.ID {
				return true
			}
		}
	}
	return false
}

// executeDispatch runs step 5: acquire a lease and spawn a session for each
// planned task, wrapped per-agent in a circuit breaker.
func (s *Scheduler) executeDispatch(ctx context.Context, plan []dispatchPlan, result *PollResult) {
	for _, p := range plan {
		breaker := s.breakerFor(p.agent)
		if breaker.State() == gobreaker.StateOpen {
			result.add(Action{Type: "action.skipped", TaskID: p.task.ID, Agent: p.agent, Reason: "circuit_open"})
			continue
		}

		_, err := breaker.Execute(func() (any, error) {
			return nil, s.dispatchOne(ctx, p)
		})
		if err != nil {
			result.ActionsFailed++
			result.add(Action{Type: "action.completed", TaskID: p.task.ID, Agent: p.agent, Success: false, Error: err.Error()})
			if s.deadletter != nil {
				task, trackErr := s.deadletter.TrackDispatchFailure(p.task.ID, err.Error())
				if trackErr == nil && s.deadletter.ShouldTransitionToDeadletter(task) {
					_, _ = s.deadletter.TransitionToDeadletter(p.task.ID, err.Error())
				}
			}
			continue
		}
		result.ActionsExecuted++
		result.add(Action{Type: "action.started", TaskID: p.task.ID, Agent: p.agent, Success: true})
	}
}

func (s *Scheduler) dispatchOne(ctx context.Context, p dispatchPlan) error {
	task, err := s.leases.Acquire(p.task.ID, p.agent, lease.AcquireOptions{
		TTLMs: s.cfg.LeaseTTLMs, HeartbeatTTLMs: s.cfg.HeartbeatTTLMs, WriteRunArtifacts: true,
	})
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.PollTimeoutMs)*time.Millisecond)
	defer cancel()

	tc := executor.TaskContext{Task: task, ProjectID: task.Project, Lease: task.Lease, Ctx: dispatchCtx}
	spawnResult, spawnErr := s.session.SpawnSession(dispatchCtx, tc, executor.SpawnOptions{TimeoutMs: s.cfg.PollTimeoutMs})
	if spawnErr == nil && spawnResult.Started {
		return nil
	}

	// The lease was acquired optimistically; release it back to ready so
	// next poll's dispatch planning can retry (unless the caller transitions
	// the task to deadletter right after this returns, which force-moves it
	// regardless of the state this leaves it in).
	if _, releaseErr := s.leases.Release(p.task.ID, p.agent); releaseErr != nil {
		s.logger.Warn("scheduler: release lease for %s after failed dispatch: %v", p.task.ID, releaseErr)
	}
	if spawnErr != nil {
		return fmt.Errorf("spawn session exception: %w", spawnErr)
	}
	return fmt.Errorf("spawn session failed: %s", spawnResult.Error)
}

func (s *Scheduler) emitPollSummary(result *PollResult) {
	payload := map[string]any{
		"actionsPlanned":  result.ActionsPlanned,
		"actionsExecuted": result.ActionsExecuted,
		"actionsFailed":   result.ActionsFailed,
		"dryRun":          result.DryRun,
	}
	if result.Reason != "" {
		payload["reason"] = result.Reason
	}
	s.emit("scheduler.poll", "", "", payload)
}

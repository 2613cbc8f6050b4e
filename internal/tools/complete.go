package tools

import (
	"fmt"
	"time"

	"github.com/d0labs/aof/internal/gate"
	"github.com/d0labs/aof/internal/taskstore"
)

// CompleteInput is what a caller supplies to Complete. Outcome is only
// meaningful for gate-workflow tasks; a non-gate task ignores it and walks
// its lifecycle automatically.
type CompleteInput struct {
	Outcome        gate.Outcome
	CallerRole     string
	Summary        string
	RejectionNotes string
	Blockers       []string
}

// Complete enforces the lifecycle guard: a non-gate task is walked
// current → [ready →] in-progress → review → done automatically; a
// gate-workflow task must report an outcome through the gate engine, and
// is rejected with a teaching error when Outcome is empty.
func (t *Tools) Complete(actor, idOrPrefix string, in CompleteInput) (Envelope, error) {
	start := t.clock()
	task, err := t.resolve(idOrPrefix)
	if err != nil {
		return Envelope{}, err
	}

	if task.Gate != nil {
		return t.completeGateTask(start, actor, task, in)
	}
	return t.completeLifecycleTask(start, actor, task)
}

// completeLifecycleTask walks a non-gate task through its remaining
// lifecycle states to done, skipping states already passed.
func (t *Tools) completeLifecycleTask(start time.Time, actor string, task *taskstore.Task) (Envelope, error) {
	path := map[taskstore.Status][]taskstore.Status{
		taskstore.StatusBacklog:    {taskstore.StatusReady, taskstore.StatusInProgress, taskstore.StatusReview, taskstore.StatusDone},
		taskstore.StatusReady:      {taskstore.StatusInProgress, taskstore.StatusReview, taskstore.StatusDone},
		taskstore.StatusInProgress: {taskstore.StatusReview, taskstore.StatusDone},
		taskstore.StatusReview:     {taskstore.StatusDone},
	}
	steps, ok := path[task.Status]
	if !ok {
		return Envelope{}, fmt.Errorf("tools: %s cannot be completed from status %s", task.ID, task.Status)
	}

	current := task
	for _, next := range steps {
		updated, err := t.store.Transition(current.ID, next, taskstore.TransitionOptions{Agent: actor, Reason: "tool.complete"})
		if err != nil {
			return Envelope{}, fmt.Errorf("tools: complete %s: advance to %s: %w", current.ID, next, err)
		}
		current = updated
	}
	t.emit("tool.complete", actor, current.ID, nil)
	return t.envelope(start, fmt.Sprintf("completed %s", current.ID), current, nil), nil
}

// completeGateTask routes a gate-workflow task's completion through the
// gate engine. Rejects with a teaching error when no outcome (or no gate
// engine) is available, rather than silently falling back to the
// lifecycle walk — gate tasks never auto-advance.
func (t *Tools) completeGateTask(start time.Time, actor string, task *taskstore.Task, in CompleteInput) (Envelope, error) {
	if t.gate == nil {
		return Envelope{}, fmt.Errorf("tools: %s is a gate-workflow task but no gate engine is configured", task.ID)
	}
	if in.Outcome == "" {
		return Envelope{}, fmt.Errorf(
			"tools: %s is a gate-workflow task (workflow %q, gate %q) — complete() requires an outcome; "+
				`call complete(id, {outcome: "complete"|"needs_review"|"blocked", ...}) instead of a bare complete(id)`,
			task.ID, task.Gate.Workflow, task.Gate.Current,
		)
	}

	updated, err := t.gate.Complete(task.ID, gate.CompletionInput{
		Outcome:        in.Outcome,
		CallerRole:     in.CallerRole,
		Agent:          actor,
		Summary:        in.Summary,
		RejectionNotes: in.RejectionNotes,
		Blockers:       in.Blockers,
	})
	if err != nil {
		return Envelope{}, err
	}
	t.emit("tool.complete", actor, updated.ID, map[string]any{"outcome": string(in.Outcome)})
	return t.envelope(start, fmt.Sprintf("gate outcome %s recorded for %s", in.Outcome, updated.ID), updated, nil), nil
}

package gate

import (
	"fmt"
	"time"

	"github.com/d0labs/aof/internal/logging"
	"github.com/d0labs/aof/internal/taskstore"
)

// Outcome is the caller-reported disposition of a gate completion call.
type Outcome string

const (
	OutcomeComplete    Outcome = "complete"
	OutcomeNeedsReview Outcome = "needs_review"
	OutcomeBlocked     Outcome = "blocked"
)

// MetricsSink receives gate workflow observations. Nil-safe: an Engine with
// no sink configured simply skips the calls.
type MetricsSink interface {
	ObserveGateDuration(gateID string, d time.Duration)
	IncGateTransitions()
	IncGateRejections()
	IncGateTimeouts()
	IncGateEscalations()
}

// EventSink receives gate domain events.
type EventSink interface {
	Emit(eventType, actor, taskID string, payload map[string]any)
}

// CompletionInput is what a caller supplies when reporting a gate outcome.
type CompletionInput struct {
	Outcome        Outcome
	CallerRole     string
	Agent          string
	Summary        string
	RejectionNotes string
	Blockers       []string
}

// Engine advances tasks through their declared gate workflow.
type Engine struct {
	store     *taskstore.Store
	workflows Lookup
	eval      *Evaluator
	metrics   MetricsSink
	sink      EventSink
	logger    logging.Logger
	clock     func() time.Time
}

// Option customizes a new Engine.
type Option func(*Engine)

func WithMetrics(m MetricsSink) Option    { return func(e *Engine) { e.metrics = m } }
func WithEventSink(sink EventSink) Option { return func(e *Engine) { e.sink = sink } }
func WithLogger(l logging.Logger) Option  { return func(e *Engine) { e.logger = logging.OrNop(l) } }
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// New returns an Engine operating over store, resolving workflows via lookup.
func New(store *taskstore.Store, lookup Lookup, eval *Evaluator, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		workflows: lookup,
		eval:      eval,
		logger:    logging.Nop,
		clock:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) emit(eventType, actor, taskID string, payload map[string]any) {
	if e.sink == nil {
		return
	}
	e.sink.Emit(eventType, actor, taskID, payload)
}

// Complete reports a gate outcome for taskID's current gate. Requires the
// task to carry a gate structure (gate-workflow tasks only — non-gate tasks
// never reach the gate engine; see the tools layer's lifecycle guard).
func (e *Engine) Complete(taskID string, in CompletionInput) (*taskstore.Task, error) {
	task, err := e.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	if task.Gate == nil {
		return nil, fmt.Errorf("gate: task %s has no gate workflow", taskID)
	}
	wf, err := e.workflows(task.Gate.Workflow)
	if err != nil {
		return nil, fmt.Errorf("gate: resolve workflow %q: %w", task.Gate.Workflow, err)
	}
	current, idx, ok := wf.Gate(task.Gate.Current)
	if !ok {
		return nil, fmt.Errorf("gate: unknown current gate %q in workflow %q", task.Gate.Current, wf.Name)
	}
	if in.CallerRole != "" && in.CallerRole != current.Role {
		return nil, fmt.Errorf("gate: caller role %q does not match gate role %q", in.CallerRole, current.Role)
	}

	duration := e.clock().Sub(e.lastEnteredAt(task, current.ID))
	if e.metrics != nil {
		e.metrics.ObserveGateDuration(current.ID, duration)
	}

	switch in.Outcome {
	case OutcomeComplete:
		return e.advance(task, wf, idx, current, in, duration)
	case OutcomeNeedsReview:
		if in.RejectionNotes == "" {
			return nil, fmt.Errorf("gate: rejectionNotes required for needs_review")
		}
		if !current.CanReject {
			return nil, fmt.Errorf("gate: gate %q does not allow rejection", current.ID)
		}
		return e.reject(task, wf, idx, current, in, duration)
	case OutcomeBlocked:
		if len(in.Blockers) == 0 {
			return nil, fmt.Errorf("gate: blockers required for blocked outcome")
		}
		return e.block(task, current, in, duration)
	default:
		return nil, fmt.Errorf("gate: unknown outcome %q", in.Outcome)
	}
}

// lastEnteredAt returns when the task entered its current gate: the
// timestamp of the most recent gateHistory entry whose ToGate matches, or
// the task's lastTransitionAt if this is the first gate.
func (e *Engine) lastEnteredAt(task *taskstore.Task, gateID string) time.Time {
	for i := len(task.GateHistory) - 1; i >= 0; i-- {
		if task.GateHistory[i].ToGate == gateID {
			return task.GateHistory[i].Timestamp
		}
	}
	return task.LastTransitionAt
}

func (e *Engine) evalContext(task *taskstore.Task) EvalContext {
	history := make([]map[string]any, 0, len(task.GateHistory))
	for _, h := range task.GateHistory {
		history = append(history, map[string]any{
			"fromGate": h.FromGate,
			"toGate":   h.ToGate,
			"outcome":  h.Outcome,
			"role":     h.Role,
		})
	}
	return EvalContext{Tags: task.Routing.Tags, Metadata: task.Metadata, GateHistory: history}
}

// advance moves the task to the next gate whose `when` resolves true,
// recording skipped gates along the way. Reaching the end of the workflow
// transitions the task to done.
func (e *Engine) advance(task *taskstore.Task, wf *Workflow, idx int, current *GateDef, in CompletionInput, duration time.Duration) (*taskstore.Task, error) {
	ctx := e.evalContext(task)
	var skipped []string
	nextIdx := -1
	for i := idx + 1; i < len(wf.Gates); i++ {
		if e.eval.Eval(wf.Gates[i].When, ctx) {
			nextIdx = i
			break
		}
		skipped = append(skipped, wf.Gates[i].ID)
	}

	now := e.clock()
	entry := taskstore.GateTransition{
		FromGate: current.ID, Outcome: string(OutcomeComplete), Role: current.Role,
		Duration: duration, Timestamp: now,
	}

	var updated *taskstore.Task
	var err error
	if nextIdx < 0 {
		entry.ToGate = ""
		updated, err = e.store.Mutate(task.ID, func(t *taskstore.Task) {
			t.GateHistory = append(t.GateHistory, entry)
			t.Gate.Current = current.ID
		})
		if err != nil {
			return nil, err
		}
		updated, err = e.store.Transition(task.ID, taskstore.StatusDone, taskstore.TransitionOptions{Agent: in.Agent, Reason: "gate_complete"})
		if err != nil {
			return nil, err
		}
	} else {
		next := wf.Gates[nextIdx]
		entry.ToGate = next.ID
		updated, err = e.store.Mutate(task.ID, func(t *taskstore.Task) {
			t.GateHistory = append(t.GateHistory, entry)
			t.Gate.Current = next.ID
		})
		if err != nil {
			return nil, err
		}
	}

	if e.metrics != nil {
		e.metrics.IncGateTransitions()
	}
	e.emit("gate_transition", in.Agent, task.ID, map[string]any{
		"fromGate": current.ID, "toGate": entry.ToGate, "outcome": string(OutcomeComplete),
		"duration": duration, "skipped": skipped,
	})
	return updated, nil
}

// reject routes the task back to the gate preceding current, populating
// reviewContext with the rejection details.
func (e *Engine) reject(task *taskstore.Task, wf *Workflow, idx int, current *GateDef, in CompletionInput, duration time.Duration) (*taskstore.Task, error) {
	backIdx := idx - 1
	if backIdx < 0 {
		backIdx = 0
	}
	target := wf.Gates[backIdx]
	now := e.clock()

	updated, err := e.store.Mutate(task.ID, func(t *taskstore.Task) {
		t.GateHistory = append(t.GateHistory, taskstore.GateTransition{
			FromGate: current.ID, ToGate: target.ID, Outcome: string(OutcomeNeedsReview),
			Role: current.Role, Duration: duration, Timestamp: now,
		})
		t.Gate.Current = target.ID
		t.ReviewContext = &taskstore.ReviewContext{
			FromGate: current.ID, FromRole: current.Role, Timestamp: now,
			Blockers: in.Blockers, Notes: in.RejectionNotes,
		}
	})
	if err != nil {
		return nil, err
	}

	if task.Status != taskstore.StatusReview {
		updated, err = e.store.Transition(task.ID, taskstore.StatusReview, taskstore.TransitionOptions{Agent: in.Agent, Reason: "needs_review"})
		if err != nil {
			return nil, err
		}
	}

	if e.metrics != nil {
		e.metrics.IncGateRejections()
	}
	e.emit("gate_transition", in.Agent, task.ID, map[string]any{
		"fromGate": current.ID, "toGate": target.ID, "outcome": string(OutcomeNeedsReview),
		"duration": duration,
	})
	return updated, nil
}

// CheckEscalations scans tasks for one whose current gate's timeout has
// elapsed while it is still parked there, escalating each to the gate's
// escalateTo role. A scheduler poll-time check rather than a goroutine
// timer, matching the single-threaded-poll discipline the rest of the
// fabric's time-based checks (SLA, stale heartbeats) follow. Tasks with no
// gate, an unknown workflow/gate, no declared timeout, or already escalated
// are skipped silently.
func (e *Engine) CheckEscalations(tasks []*taskstore.Task) ([]*taskstore.Task, error) {
	var escalated []*taskstore.Task
	now := e.clock()
	for _, task := range tasks {
		if task.Gate == nil || task.Gate.EscalatedTo != "" {
			continue
		}
		wf, err := e.workflows(task.Gate.Workflow)
		if err != nil {
			continue
		}
		current, _, ok := wf.Gate(task.Gate.Current)
		if !ok || current.Timeout <= 0 || current.EscalateTo == "" {
			continue
		}
		if now.Sub(e.lastEnteredAt(task, current.ID)) < current.Timeout {
			continue
		}

		updated, err := e.store.Mutate(task.ID, func(t *taskstore.Task) {
			t.Gate.EscalatedTo = current.EscalateTo
			t.GateHistory = append(t.GateHistory, taskstore.GateTransition{
				FromGate: current.ID, ToGate: current.ID, Outcome: "escalated",
				Role: current.Role, Timestamp: now,
			})
		})
		if err != nil {
			return escalated, fmt.Errorf("gate: escalate %s: %w", task.ID, err)
		}

		if e.metrics != nil {
			e.metrics.IncGateTimeouts()
			e.metrics.IncGateEscalations()
		}
		e.emit("gate_transition", "", task.ID, map[string]any{
			"fromGate": current.ID, "toGate": current.ID, "outcome": "escalated",
			"escalatedTo": current.EscalateTo,
		})
		escalated = append(escalated, updated)
	}
	return escalated, nil
}

// block moves the task to blocked status with blockers recorded in metadata.
func (e *Engine) block(task *taskstore.Task, current *GateDef, in CompletionInput, duration time.Duration) (*taskstore.Task, error) {
	now := e.clock()
	if _, err := e.store.Mutate(task.ID, func(t *taskstore.Task) {
		t.GateHistory = append(t.GateHistory, taskstore.GateTransition{
			FromGate: current.ID, ToGate: current.ID, Outcome: string(OutcomeBlocked),
			Role: current.Role, Duration: duration, Timestamp: now,
		})
		t.SetMeta(taskstore.MetaBlockReason, in.Blockers)
	}); err != nil {
		return nil, err
	}

	updated, err := e.store.Transition(task.ID, taskstore.StatusBlocked, taskstore.TransitionOptions{Agent: in.Agent, Reason: "gate_blocked"})
	if err != nil {
		return nil, err
	}
	e.emit("gate_transition", in.Agent, task.ID, map[string]any{
		"fromGate": current.ID, "outcome": string(OutcomeBlocked), "blockers": in.Blockers,
	})
	return updated, nil
}

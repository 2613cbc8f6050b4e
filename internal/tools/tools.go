// Package tools is the thin verb surface external actors (CLI, agents,
// timers) call to mutate the task store: create, update, edit, cancel,
// complete, block, unblock, dependency edit, resurrect, status-report.
package tools

import (
	"fmt"
	"time"

	"github.com/d0labs/aof/internal/deadletter"
	"github.com/d0labs/aof/internal/gate"
	"github.com/d0labs/aof/internal/logging"
	"github.com/d0labs/aof/internal/taskstore"
)

// EventSink receives tool-invocation domain events.
type EventSink interface {
	Emit(eventType, actor, taskID string, payload map[string]any)
}

// Envelope is the shape every tool call returns.
type Envelope struct {
	Summary   string           `json:"summary"`
	TaskID    string           `json:"taskId"`
	Status    taskstore.Status `json:"status,omitempty"`
	ElapsedMs int64            `json:"elapsedMs"`
	Fields    map[string]any   `json:"fields,omitempty"`
}

// Tools bundles the store and companion services the verb API dispatches
// into. Gate is optional — a nil gate means gate-workflow tasks cannot be
// completed (the caller wired no workflow lookup for this project).
type Tools struct {
	store  *taskstore.Store
	dead   *deadletter.Tracker
	gate   *gate.Engine
	sink   EventSink
	clock  func() time.Time
	logger logging.Logger
}

// Option customizes a new Tools.
type Option func(*Tools)

func WithDeadletter(tr *deadletter.Tracker) Option { return func(t *Tools) { t.dead = tr } }
func WithGateEngine(e *gate.Engine) Option         { return func(t *Tools) { t.gate = e } }
func WithEventSink(sink EventSink) Option          { return func(t *Tools) { t.sink = sink } }
func WithLogger(l logging.Logger) Option           { return func(t *Tools) { t.logger = logging.OrNop(l) } }
func WithClock(clock func() time.Time) Option {
	return func(t *Tools) { t.clock = clock }
}

// New returns a Tools verb surface over store.
func New(store *taskstore.Store, opts ...Option) *Tools {
	t := &Tools{
		store:  store,
		logger: logging.Nop,
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tools) emit(eventType, actor, taskID string, payload map[string]any) {
	if t.sink == nil {
		return
	}
	t.sink.Emit(eventType, actor, taskID, payload)
}

func (t *Tools) envelope(start time.Time, summary string, task *taskstore.Task, fields map[string]any) Envelope {
	env := Envelope{Summary: summary, ElapsedMs: t.clock().Sub(start).Milliseconds(), Fields: fields}
	if task != nil {
		env.TaskID = task.ID
		env.Status = task.Status
	}
	return env
}

// Create allocates a new task in backlog.
func (t *Tools) Create(actor string, opts taskstore.CreateOptions) (Envelope, error) {
	start := t.clock()
	task, err := t.store.Create(opts)
	if err != nil {
		return Envelope{}, err
	}
	t.emit("tool.create", actor, task.ID, map[string]any{"title": task.Title})
	return t.envelope(start, fmt.Sprintf("created %s", task.ID), task, nil), nil
}

// Update patches title/priority/routing on an existing task, resolved by
// full id or unique prefix.
func (t *Tools) Update(actor, idOrPrefix string, patch taskstore.UpdatePatch) (Envelope, error) {
	start := t.clock()
	task, err := t.resolve(idOrPrefix)
	if err != nil {
		return Envelope{}, err
	}
	updated, err := t.store.Update(task.ID, patch)
	if err != nil {
		return Envelope{}, err
	}
	t.emit("tool.update", actor, updated.ID, nil)
	return t.envelope(start, fmt.Sprintf("updated %s", updated.ID), updated, nil), nil
}

// Edit replaces the markdown body (the free-form Instructions/Guidance
// sections) of an existing task.
func (t *Tools) Edit(actor, idOrPrefix, body string) (Envelope, error) {
	start := t.clock()
	task, err := t.resolve(idOrPrefix)
	if err != nil {
		return Envelope{}, err
	}
	updated, err := t.store.UpdateBody(task.ID, body)
	if err != nil {
		return Envelope{}, err
	}
	t.emit("tool.edit", actor, updated.ID, nil)
	return t.envelope(start, fmt.Sprintf("edited %s", updated.ID), updated, nil), nil
}

// Cancel terminates a task. Rejected if already done or cancelled.
func (t *Tools) Cancel(actor, idOrPrefix, reason string) (Envelope, error) {
	start := t.clock()
	task, err := t.resolve(idOrPrefix)
	if err != nil {
		return Envelope{}, err
	}
	updated, err := t.store.Cancel(task.ID, reason)
	if err != nil {
		return Envelope{}, err
	}
	t.emit("tool.cancel", actor, updated.ID, map[string]any{"reason": reason})
	return t.envelope(start, fmt.Sprintf("cancelled %s", updated.ID), updated, nil), nil
}

// Block moves a task to blocked with reason recorded in metadata.
func (t *Tools) Block(actor, idOrPrefix, reason string) (Envelope, error) {
	start := t.clock()
	task, err := t.resolve(idOrPrefix)
	if err != nil {
		return Envelope{}, err
	}
	updated, err := t.store.Block(task.ID, reason, actor)
	if err != nil {
		return Envelope{}, err
	}
	t.emit("tool.block", actor, updated.ID, map[string]any{"reason": reason})
	return t.envelope(start, fmt.Sprintf("blocked %s", updated.ID), updated, nil), nil
}

// Unblock moves a blocked task back to ready, clearing blockReason.
func (t *Tools) Unblock(actor, idOrPrefix string) (Envelope, error) {
	start := t.clock()
	task, err := t.resolve(idOrPrefix)
	if err != nil {
		return Envelope{}, err
	}
	updated, err := t.store.Unblock(task.ID)
	if err != nil {
		return Envelope{}, err
	}
	t.emit("tool.unblock", actor, updated.ID, nil)
	return t.envelope(start, fmt.Sprintf("unblocked %s", updated.ID), updated, nil), nil
}

// AddDependency adds blockerID to idOrPrefix's dependsOn, rejecting cycles.
func (t *Tools) AddDependency(actor, idOrPrefix, blockerID string) (Envelope, error) {
	start := t.clock()
	task, err := t.resolve(idOrPrefix)
	if err != nil {
		return Envelope{}, err
	}
	updated, err := t.store.AddDependency(task.ID, blockerID)
	if err != nil {
		return Envelope{}, err
	}
	t.emit("tool.dep_add", actor, updated.ID, map[string]any{"blockerId": blockerID})
	return t.envelope(start, fmt.Sprintf("%s now depends on %s", updated.ID, blockerID), updated, nil), nil
}

// RemoveDependency removes blockerID from idOrPrefix's dependsOn.
func (t *Tools) RemoveDependency(actor, idOrPrefix, blockerID string) (Envelope, error) {
	start := t.clock()
	task, err := t.resolve(idOrPrefix)
	if err != nil {
		return Envelope{}, err
	}
	updated, err := t.store.RemoveDependency(task.ID, blockerID)
	if err != nil {
		return Envelope{}, err
	}
	t.emit("tool.dep_remove", actor, updated.ID, map[string]any{"blockerId": blockerID})
	return t.envelope(start, fmt.Sprintf("%s no longer depends on %s", updated.ID, blockerID), updated, nil), nil
}

// Resurrect restores a deadletter task to ready. Requires a deadletter
// tracker to have been wired via WithDeadletter.
func (t *Tools) Resurrect(actor, idOrPrefix string) (Envelope, error) {
	start := t.clock()
	if t.dead == nil {
		return Envelope{}, fmt.Errorf("tools: resurrect requires a deadletter tracker")
	}
	task, err := t.resolve(idOrPrefix)
	if err != nil {
		return Envelope{}, err
	}
	updated, err := t.dead.Resurrect(task.ID, actor)
	if err != nil {
		return Envelope{}, err
	}
	t.emit("tool.resurrect", actor, updated.ID, nil)
	return t.envelope(start, fmt.Sprintf("resurrected %s", updated.ID), updated, nil), nil
}

// StatusReportEntry is one task's row in a status-report listing.
type StatusReportEntry struct {
	TaskID   string
	Title    string
	Status   taskstore.Status
	Agent    string
	Priority taskstore.Priority
	Estimate *time.Duration
}

// StatusReport lists tasks matching filter, operator-facing (includes the
// purely-informational Estimate field the scheduler never reads).
func (t *Tools) StatusReport(filter taskstore.ListFilter) (Envelope, []StatusReportEntry, error) {
	start := t.clock()
	tasks, err := t.store.List(filter)
	if err != nil {
		return Envelope{}, nil, err
	}
	entries := make([]StatusReportEntry, 0, len(tasks))
	for _, task := range tasks {
		agent := ""
		if task.Lease != nil {
			agent = task.Lease.Agent
		}
		entries = append(entries, StatusReportEntry{
			TaskID: task.ID, Title: task.Title, Status: task.Status,
			Agent: agent, Priority: task.Priority, Estimate: task.Estimate,
		})
	}
	env := Envelope{
		Summary:   fmt.Sprintf("%d task(s)", len(entries)),
		ElapsedMs: t.clock().Sub(start).Milliseconds(),
	}
	return env, entries, nil
}

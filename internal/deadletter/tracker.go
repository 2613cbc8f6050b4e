// Package deadletter tracks dispatch failures per task and quarantines
// tasks that fail beyond a threshold, with an explicit resurrect path back
// to ready.
package deadletter

import (
	"time"

	"github.com/d0labs/aof/internal/logging"
	"github.com/d0labs/aof/internal/taskstore"
)

// EventSink receives dead-letter domain events.
type EventSink interface {
	Emit(eventType, actor, taskID string, payload map[string]any)
}

// DefaultThreshold is the default number of consecutive dispatch failures
// that quarantines a task.
const DefaultThreshold = 3

// Tracker counts dispatch failures and moves tasks to deadletter once they
// cross Threshold.
type Tracker struct {
	store     *taskstore.Store
	logger    logging.Logger
	sink      EventSink
	clock     func() time.Time
	Threshold int
}

// Option customizes a new Tracker.
type Option func(*Tracker)

func WithLogger(l logging.Logger) Option  { return func(tr *Tracker) { tr.logger = logging.OrNop(l) } }
func WithEventSink(sink EventSink) Option { return func(tr *Tracker) { tr.sink = sink } }
func WithThreshold(threshold int) Option  { return func(tr *Tracker) { tr.Threshold = threshold } }
func WithClock(clock func() time.Time) Option {
	return func(tr *Tracker) { tr.clock = clock }
}

// New returns a Tracker operating over store with DefaultThreshold, overridable
// via WithThreshold.
func New(store *taskstore.Store, opts ...Option) *Tracker {
	tr := &Tracker{
		store:     store,
		logger:    logging.Nop,
		clock:     func() time.Time { return time.Now().UTC() },
		Threshold: DefaultThreshold,
	}
	for _, opt := range opts {
		opt(tr)
	}
	return tr
}

func (tr *Tracker) emit(eventType, actor, taskID string, payload map[string]any) {
	if tr.sink == nil {
		return
	}
	tr.sink.Emit(eventType, actor, taskID, payload)
}

// TrackDispatchFailure increments dispatchFailures and records reason/time.
func (tr *Tracker) TrackDispatchFailure(taskID, reason string) (*taskstore.Task, error) {
	task, err := tr.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	count := task.MetaInt(taskstore.MetaDispatchFailures) + 1

	if _, err := tr.store.SetMeta(taskID, taskstore.MetaDispatchFailures, count); err != nil {
		return nil, err
	}
	if _, err := tr.store.SetMeta(taskID, taskstore.MetaLastDispatchFailureMsg, reason); err != nil {
		return nil, err
	}
	return tr.store.SetMeta(taskID, taskstore.MetaLastDispatchFailureAt, tr.clock().UnixMilli())
}

// ShouldTransitionToDeadletter reports whether task has crossed Threshold.
func (tr *Tracker) ShouldTransitionToDeadletter(task *taskstore.Task) bool {
	return task.MetaInt(taskstore.MetaDispatchFailures) >= tr.Threshold
}

// TransitionToDeadletter quarantines task, emitting task.deadletter with the
// final failure count and reason.
func (tr *Tracker) TransitionToDeadletter(taskID, lastReason string) (*taskstore.Task, error) {
	task, err := tr.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	failureCount := task.MetaInt(taskstore.MetaDispatchFailures)

	task, err = tr.store.ForceTransition(taskID, taskstore.StatusDeadletter, taskstore.TransitionOptions{Reason: lastReason})
	if err != nil {
		return nil, err
	}
	tr.logger.Warn("task %s quarantined to deadletter after %d failures: %s", taskID, failureCount, lastReason)
	tr.emit("task.deadletter", "", taskID, map[string]any{
		"failureCount":      failureCount,
		"lastFailureReason": lastReason,
	})
	return task, nil
}

// ResetDispatchFailures zeroes the failure counter and clears last-failure
// fields without changing status.
func (tr *Tracker) ResetDispatchFailures(taskID string) (*taskstore.Task, error) {
	if _, err := tr.store.SetMeta(taskID, taskstore.MetaDispatchFailures, 0); err != nil {
		return nil, err
	}
	if _, err := tr.store.ClearMeta(taskID, taskstore.MetaLastDispatchFailureMsg); err != nil {
		return nil, err
	}
	return tr.store.ClearMeta(taskID, taskstore.MetaLastDispatchFailureAt)
}

// Resurrect restores a deadletter task to ready, resetting failure fields.
// Requires the task to currently be in deadletter status.
func (tr *Tracker) Resurrect(taskID, user string) (*taskstore.Task, error) {
	task, err := tr.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != taskstore.StatusDeadletter {
		return nil, taskstore.ErrInvalidTransition
	}

	if _, err := tr.ResetDispatchFailures(taskID); err != nil {
		return nil, err
	}
	task, err = tr.store.ForceTransition(taskID, taskstore.StatusReady, taskstore.TransitionOptions{Agent: user, Reason: "resurrected"})
	if err != nil {
		return nil, err
	}
	tr.emit("task.resurrected", user, taskID, map[string]any{"resurrectedBy": user})
	return task, nil
}

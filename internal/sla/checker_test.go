package sla

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d0labs/aof/internal/taskstore"
)

type recordingSink struct {
	events []map[string]any
}

func (r *recordingSink) Emit(eventType, actor, taskID string, payload map[string]any) {
	evt := map[string]any{"type": eventType, "taskId": taskID}
	for k, v := range payload {
		evt[k] = v
	}
	r.events = append(r.events, evt)
}

// S3 SLA rate-limit.
func TestCheckRateLimitsRepeatedAlerts(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	store := taskstore.New(root, "acme", taskstore.WithClock(func() time.Time { return now }))
	require.NoError(t, store.Init())

	task, err := store.Create(taskstore.CreateOptions{Title: "slow task"})
	require.NoError(t, err)
	_, err = store.Transition(task.ID, taskstore.StatusReady, taskstore.TransitionOptions{})
	require.NoError(t, err)
	_, err = store.Transition(task.ID, taskstore.StatusInProgress, taskstore.TransitionOptions{Agent: "agent-a"})
	require.NoError(t, err)

	now = now.Add(2 * time.Hour) // 2h ago relative to the check below
	sink := &recordingSink{}
	checker := New(store, WithEventSink(sink), WithDefaultMaxInProgressMs(int64(time.Hour/time.Millisecond)),
		WithClock(func() time.Time { return now }))

	first, err := checker.Check()
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.False(t, first[0].RateLimited)
	require.Len(t, sink.events, 1)
	assert.Equal(t, "sla.violation", sink.events[0]["type"])

	second, err := checker.Check()
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.True(t, second[0].RateLimited)
	assert.Len(t, sink.events, 1) // no additional log emission
}

func TestCheckSkipsTasksWithinThreshold(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	store := taskstore.New(root, "acme", taskstore.WithClock(func() time.Time { return now }))
	require.NoError(t, store.Init())

	task, err := store.Create(taskstore.CreateOptions{Title: "fresh task"})
	require.NoError(t, err)
	_, err = store.Transition(task.ID, taskstore.StatusReady, taskstore.TransitionOptions{})
	require.NoError(t, err)
	_, err = store.Transition(task.ID, taskstore.StatusInProgress, taskstore.TransitionOptions{Agent: "agent-a"})
	require.NoError(t, err)

	checker := New(store, WithClock(func() time.Time { return now }))
	violations, err := checker.Check()
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestCheckHonorsPerTaskSLAOverride(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	store := taskstore.New(root, "acme", taskstore.WithClock(func() time.Time { return now }))
	require.NoError(t, store.Init())

	task, err := store.Create(taskstore.CreateOptions{
		Title: "tight sla",
		SLA:   &taskstore.SLA{MaxInProgressMs: 1000, OnViolation: taskstore.SLAActionAlert},
	})
	require.NoError(t, err)
	_, err = store.Transition(task.ID, taskstore.StatusReady, taskstore.TransitionOptions{})
	require.NoError(t, err)
	_, err = store.Transition(task.ID, taskstore.StatusInProgress, taskstore.TransitionOptions{Agent: "agent-a"})
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	checker := New(store, WithClock(func() time.Time { return now }))
	violations, err := checker.Check()
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, time.Second, violations[0].Threshold)
}

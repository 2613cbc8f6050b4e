package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleEventFansOutToMatchedAdapters(t *testing.T) {
	mock := NewMockNotificationAdapter()
	engine := New([]Adapter{mock}, []Rule{
		{EventTypePrefix: "task.deadletter", Adapters: []string{"mock"}},
	})

	engine.HandleEvent(context.Background(), "task.deadletter", "", "TASK-001", map[string]any{"failureCount": 3})

	require.Len(t, mock.Sent(), 1)
	assert.Equal(t, "TASK-001", mock.Sent()[0].TaskID)
}

func TestHandleEventIgnoresNonMatchingEvents(t *testing.T) {
	mock := NewMockNotificationAdapter()
	engine := New([]Adapter{mock}, []Rule{
		{EventTypePrefix: "task.deadletter", Adapters: []string{"mock"}},
	})

	engine.HandleEvent(context.Background(), "task.created", "", "TASK-001", nil)
	assert.Empty(t, mock.Sent())
}

func TestHandleEventDedupsWithinWindow(t *testing.T) {
	mock := NewMockNotificationAdapter()
	engine := New([]Adapter{mock}, []Rule{
		{EventTypePrefix: "task.deadletter", Adapters: []string{"mock"}},
	}, WithDedupWindow(time.Hour))

	engine.HandleEvent(context.Background(), "task.deadletter", "", "TASK-001", nil)
	engine.HandleEvent(context.Background(), "task.deadletter", "", "TASK-001", nil)

	assert.Len(t, mock.Sent(), 1)
}

func TestPayloadMatchNarrowsRule(t *testing.T) {
	mock := NewMockNotificationAdapter()
	engine := New([]Adapter{mock}, []Rule{
		{EventTypePrefix: "sla.", PayloadMatch: map[string]any{"severity": "critical"}, Adapters: []string{"mock"}},
	})

	engine.HandleEvent(context.Background(), "sla.violation", "", "TASK-002", map[string]any{"severity": "warning"})
	assert.Empty(t, mock.Sent())

	engine.HandleEvent(context.Background(), "sla.violation", "", "TASK-003", map[string]any{"severity": "critical"})
	require.Len(t, mock.Sent(), 1)
}

type namedMockAdapter struct {
	*MockNotificationAdapter
	name string
}

func (a *namedMockAdapter) Name() string { return a.name }

func TestHandleEventFirstMatchingRuleWins(t *testing.T) {
	broad := &namedMockAdapter{MockNotificationAdapter: NewMockNotificationAdapter(), name: "broad"}
	narrow := &namedMockAdapter{MockNotificationAdapter: NewMockNotificationAdapter(), name: "narrow"}
	engine := New([]Adapter{broad, narrow}, []Rule{
		{EventTypePrefix: "task.", Adapters: []string{"broad"}},
		{EventTypePrefix: "task.deadletter", Adapters: []string{"narrow"}},
	})

	engine.HandleEvent(context.Background(), "task.deadletter", "", "TASK-001", nil)

	assert.Len(t, broad.Sent(), 1, "the first matching rule must win, not every matching rule")
	assert.Empty(t, narrow.Sent())
}

func TestHandleEventFallsBackToDefaultRuleWhenNoneMatch(t *testing.T) {
	mock := NewMockNotificationAdapter()
	engine := New([]Adapter{mock}, []Rule{
		{EventTypePrefix: "task.deadletter", Adapters: []string{"mock"}},
	}, WithDefaultRule(Rule{Adapters: []string{"mock"}}))

	engine.HandleEvent(context.Background(), "system.startup", "", "", nil)

	require.Len(t, mock.Sent(), 1)
	assert.Equal(t, "system.startup", mock.Sent()[0].EventType)
}

func TestHandleEventNoDefaultRuleDropsUnmatchedEvent(t *testing.T) {
	mock := NewMockNotificationAdapter()
	engine := New([]Adapter{mock}, []Rule{
		{EventTypePrefix: "task.deadletter", Adapters: []string{"mock"}},
	})

	engine.HandleEvent(context.Background(), "system.startup", "", "", nil)
	assert.Empty(t, mock.Sent())
}

package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d0labs/aof/internal/taskstore"
)

type fakeMetrics struct {
	transitions, rejections, timeouts, escalations int
	durations                                      []time.Duration
}

func (m *fakeMetrics) ObserveGateDuration(gateID string, d time.Duration) {
	m.durations = append(m.durations, d)
}
func (m *fakeMetrics) IncGateTransitions() { m.transitions++ }
func (m *fakeMetrics) IncGateRejections()  { m.rejections++ }
func (m *fakeMetrics) IncGateTimeouts()    { m.timeouts++ }
func (m *fakeMetrics) IncGateEscalations() { m.escalations++ }

type fakeSink struct {
	events []map[string]any
}

func (s *fakeSink) Emit(eventType, actor, taskID string, payload map[string]any) {
	evt := map[string]any{"type": eventType, "actor": actor, "taskId": taskID}
	for k, v := range payload {
		evt[k] = v
	}
	s.events = append(s.events, evt)
}

func devQaDeployWorkflow() *Workflow {
	return &Workflow{
		Name: "dev-qa-deploy",
		Gates: []GateDef{
			{ID: "dev", Role: "swe-backend", CanReject: true},
			{ID: "qa", Role: "qa", CanReject: true},
			{ID: "deploy", Role: "ops"},
		},
	}
}

func newGateRig(t *testing.T) (*taskstore.Store, *Engine, *fakeMetrics, *fakeSink) {
	t.Helper()
	root := t.TempDir()
	store := taskstore.New(root, "acme")
	require.NoError(t, store.Init())

	eval, err := NewEvaluator()
	require.NoError(t, err)

	metrics := &fakeMetrics{}
	sink := &fakeSink{}
	lookup := func(name string) (*Workflow, error) { return devQaDeployWorkflow(), nil }
	engine := New(store, lookup, eval, WithMetrics(metrics), WithEventSink(sink))
	return store, engine, metrics, sink
}

func gateTask(t *testing.T, store *taskstore.Store, current string) *taskstore.Task {
	t.Helper()
	task, err := store.Create(taskstore.CreateOptions{Title: "gated work"})
	require.NoError(t, err)
	task, err = store.Transition(task.ID, taskstore.StatusReady, taskstore.TransitionOptions{})
	require.NoError(t, err)
	task, err = store.Transition(task.ID, taskstore.StatusInProgress, taskstore.TransitionOptions{Agent: "agent-a"})
	require.NoError(t, err)
	task, err = store.Transition(task.ID, taskstore.StatusReview, taskstore.TransitionOptions{})
	require.NoError(t, err)
	task, err = store.Mutate(task.ID, func(t *taskstore.Task) {
		t.Gate = &taskstore.GateState{Workflow: "dev-qa-deploy", Current: current, Gates: []string{"dev", "qa", "deploy"}}
	})
	require.NoError(t, err)
	return task
}

// S4 Gate completion (happy path).
func TestGateCompleteHappyPathAdvances(t *testing.T) {
	_, engine, metrics, sink := newGateRig(t)
	store := engine.store
	task := gateTask(t, store, "dev")

	updated, err := engine.Complete(task.ID, CompletionInput{
		Outcome: OutcomeComplete, CallerRole: "swe-backend", Summary: "done", Agent: "agent-a",
	})
	require.NoError(t, err)
	require.Len(t, updated.GateHistory, 1)
	assert.NotZero(t, updated.GateHistory[0].Duration)
	assert.Equal(t, "qa", updated.Gate.Current)
	assert.Equal(t, 1, metrics.transitions)

	last := sink.events[len(sink.events)-1]
	assert.Equal(t, "gate_transition", last["type"])
	assert.Equal(t, "dev", last["fromGate"])
	assert.Equal(t, "qa", last["toGate"])
}

func TestGateCompleteRejectsRoleMismatch(t *testing.T) {
	_, engine, _, _ := newGateRig(t)
	store := engine.store
	task := gateTask(t, store, "dev")

	_, err := engine.Complete(task.ID, CompletionInput{Outcome: OutcomeComplete, CallerRole: "qa"})
	assert.Error(t, err)
}

func TestGateCompleteReachingEndTransitionsDone(t *testing.T) {
	_, engine, _, _ := newGateRig(t)
	store := engine.store
	task := gateTask(t, store, "deploy")

	updated, err := engine.Complete(task.ID, CompletionInput{Outcome: OutcomeComplete, CallerRole: "ops", Agent: "agent-a"})
	require.NoError(t, err)
	assert.Equal(t, taskstore.StatusDone, updated.Status)
}

func TestGateNeedsReviewRoutesBackAndPopulatesReviewContext(t *testing.T) {
	_, engine, metrics, _ := newGateRig(t)
	store := engine.store
	task := gateTask(t, store, "qa")

	updated, err := engine.Complete(task.ID, CompletionInput{
		Outcome: OutcomeNeedsReview, CallerRole: "qa", RejectionNotes: "flaky test", Blockers: []string{"test-x"},
	})
	require.NoError(t, err)
	assert.Equal(t, "dev", updated.Gate.Current)
	require.NotNil(t, updated.ReviewContext)
	assert.Equal(t, "qa", updated.ReviewContext.FromRole)
	assert.Equal(t, "flaky test", updated.ReviewContext.Notes)
	assert.Equal(t, 1, metrics.rejections)
}

func TestGateBlockedMovesTaskToBlocked(t *testing.T) {
	_, engine, _, _ := newGateRig(t)
	store := engine.store
	task := gateTask(t, store, "dev")

	updated, err := engine.Complete(task.ID, CompletionInput{
		Outcome: OutcomeBlocked, CallerRole: "swe-backend", Blockers: []string{"waiting on infra"},
	})
	require.NoError(t, err)
	assert.Equal(t, taskstore.StatusBlocked, updated.Status)
}

func TestEvaluatorSkipsGateWhenWhenResolvesFalse(t *testing.T) {
	root := t.TempDir()
	store := taskstore.New(root, "acme")
	require.NoError(t, store.Init())
	eval, err := NewEvaluator()
	require.NoError(t, err)

	wf := &Workflow{
		Name: "conditional",
		Gates: []GateDef{
			{ID: "dev", Role: "swe-backend"},
			{ID: "security-review", Role: "security", When: `"security" in tags`},
			{ID: "deploy", Role: "ops"},
		},
	}
	lookup := func(string) (*Workflow, error) { return wf, nil }
	engine := New(store, lookup, eval)

	task, err := store.Create(taskstore.CreateOptions{Title: "no security tag"})
	require.NoError(t, err)
	task, err = store.Transition(task.ID, taskstore.StatusReady, taskstore.TransitionOptions{})
	require.NoError(t, err)
	task, err = store.Transition(task.ID, taskstore.StatusInProgress, taskstore.TransitionOptions{Agent: "a"})
	require.NoError(t, err)
	task, err = store.Transition(task.ID, taskstore.StatusReview, taskstore.TransitionOptions{})
	require.NoError(t, err)
	task, err = store.Mutate(task.ID, func(t *taskstore.Task) {
		t.Gate = &taskstore.GateState{Workflow: "conditional", Current: "dev", Gates: []string{"dev", "security-review", "deploy"}}
	})
	require.NoError(t, err)

	updated, err := engine.Complete(task.ID, CompletionInput{Outcome: OutcomeComplete, CallerRole: "swe-backend"})
	require.NoError(t, err)
	assert.Equal(t, "deploy", updated.Gate.Current)
}

func timeoutWorkflow() *Workflow {
	return &Workflow{
		Name: "reviewed",
		Gates: []GateDef{
			{ID: "draft", Role: "writer", Timeout: time.Hour, EscalateTo: "lead-writer"},
			{ID: "review", Role: "reviewer"},
		},
	}
}

func TestCheckEscalationsEscalatesAfterTimeout(t *testing.T) {
	root := t.TempDir()
	store := taskstore.New(root, "acme")
	require.NoError(t, store.Init())
	eval, err := NewEvaluator()
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	metrics := &fakeMetrics{}
	sink := &fakeSink{}
	lookup := func(string) (*Workflow, error) { return timeoutWorkflow(), nil }
	engine := New(store, lookup, eval, WithMetrics(metrics), WithEventSink(sink), WithClock(clock))

	task := gateTask(t, store, "draft")
	task, err = store.Mutate(task.ID, func(t *taskstore.Task) {
		t.LastTransitionAt = now.Add(-2 * time.Hour)
	})
	require.NoError(t, err)

	escalated, err := engine.CheckEscalations([]*taskstore.Task{task})
	require.NoError(t, err)
	require.Len(t, escalated, 1)
	assert.Equal(t, "lead-writer", escalated[0].Gate.EscalatedTo)
	assert.Equal(t, 1, metrics.timeouts)
	assert.Equal(t, 1, metrics.escalations)
	require.NotEmpty(t, sink.events)
	assert.Equal(t, "escalated", sink.events[len(sink.events)-1]["outcome"])
}

func TestCheckEscalationsSkipsBeforeTimeout(t *testing.T) {
	root := t.TempDir()
	store := taskstore.New(root, "acme")
	require.NoError(t, store.Init())
	eval, err := NewEvaluator()
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	metrics := &fakeMetrics{}
	lookup := func(string) (*Workflow, error) { return timeoutWorkflow(), nil }
	engine := New(store, lookup, eval, WithMetrics(metrics), WithClock(func() time.Time { return now }))

	task := gateTask(t, store, "draft")

	escalated, err := engine.CheckEscalations([]*taskstore.Task{task})
	require.NoError(t, err)
	assert.Empty(t, escalated)
	assert.Equal(t, 0, metrics.escalations)
}

func TestCheckEscalationsSkipsAlreadyEscalated(t *testing.T) {
	root := t.TempDir()
	store := taskstore.New(root, "acme")
	require.NoError(t, store.Init())
	eval, err := NewEvaluator()
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	metrics := &fakeMetrics{}
	lookup := func(string) (*Workflow, error) { return timeoutWorkflow(), nil }
	engine := New(store, lookup, eval, WithMetrics(metrics), WithClock(func() time.Time { return now }))

	task := gateTask(t, store, "draft")
	task, err = store.Mutate(task.ID, func(t *taskstore.Task) {
		t.LastTransitionAt = now.Add(-2 * time.Hour)
		t.Gate.EscalatedTo = "lead-writer"
	})
	require.NoError(t, err)

	escalated, err := engine.CheckEscalations([]*taskstore.Task{task})
	require.NoError(t, err)
	assert.Empty(t, escalated)
	assert.Equal(t, 0, metrics.escalations)
}

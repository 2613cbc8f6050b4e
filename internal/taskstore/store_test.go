package taskstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	now := time.Date(2026, 2, 13, 9, 0, 0, 0, time.UTC)
	s := New(root, "acme", WithClock(func() time.Time { return now }))
	require.NoError(t, s.Init())
	return s
}

func TestCreateAllocatesIDAndWritesToBacklog(t *testing.T) {
	s := newTestStore(t)

	task, err := s.Create(CreateOptions{Title: "first task", Body: "## Instructions\ndo it\n"})
	require.NoError(t, err)
	assert.Equal(t, "TASK-2026-02-13-001", task.ID)
	assert.Equal(t, StatusBacklog, task.Status)
	assert.NotEmpty(t, task.ContentHash)

	second, err := s.Create(CreateOptions{Title: "second task"})
	require.NoError(t, err)
	assert.Equal(t, "TASK-2026-02-13-002", second.ID)
}

// P1 Status/Path agreement: every loaded task lives in the directory
// matching its frontmatter status.
func TestStatusPathAgreement(t *testing.T) {
	s := newTestStore(t)
	task, err := s.Create(CreateOptions{Title: "agree"})
	require.NoError(t, err)

	path := s.taskPath(task.Status, task.ID)
	_, statErr := filepath.Abs(path)
	require.NoError(t, statErr)

	loaded, err := s.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusBacklog, loaded.Status)

	expectedPath := filepath.Join(s.root, "tasks", "backlog", task.ID+".md")
	assert.Equal(t, expectedPath, path)
}

// P2 Transition legality: illegal edges are rejected, legal edges succeed,
// self-transitions are a no-op.
func TestTransitionLegality(t *testing.T) {
	s := newTestStore(t)
	task, err := s.Create(CreateOptions{Title: "flow"})
	require.NoError(t, err)

	_, err = s.Transition(task.ID, StatusDone, TransitionOptions{})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	ready, err := s.Transition(task.ID, StatusReady, TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusReady, ready.Status)

	noop, err := s.Transition(task.ID, StatusReady, TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, ready.LastTransitionAt, noop.LastTransitionAt)

	inProgress, err := s.Transition(task.ID, StatusInProgress, TransitionOptions{Agent: "agent-a"})
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, inProgress.Status)

	review, err := s.Transition(task.ID, StatusReview, TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusReview, review.Status)

	done, err := s.Transition(task.ID, StatusDone, TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusDone, done.Status)

	_, err = s.Transition(task.ID, StatusReady, TransitionOptions{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionClearsLeaseOnReady(t *testing.T) {
	s := newTestStore(t)
	task, err := s.Create(CreateOptions{Title: "lease"})
	require.NoError(t, err)
	_, err = s.Transition(task.ID, StatusReady, TransitionOptions{})
	require.NoError(t, err)
	_, err = s.Transition(task.ID, StatusInProgress, TransitionOptions{Agent: "agent-a"})
	require.NoError(t, err)

	task, err = s.Get(task.ID)
	require.NoError(t, err)
	task.Lease = &Lease{Agent: "agent-a"}

	s.mu.Lock()
	require.NoError(t, s.writeLocked(task))
	s.mu.Unlock()

	back, err := s.Transition(task.ID, StatusReady, TransitionOptions{})
	require.NoError(t, err)
	assert.Nil(t, back.Lease)
}

// P8 Dependency DAG: adding a dependency that would create a cycle is
// rejected at add time.
func TestDependencyCycleRejected(t *testing.T) {
	s := newTestStore(t)
	a, err := s.Create(CreateOptions{Title: "a"})
	require.NoError(t, err)
	b, err := s.Create(CreateOptions{Title: "b"})
	require.NoError(t, err)

	_, err = s.AddDependency(b.ID, a.ID)
	require.NoError(t, err)

	_, err = s.AddDependency(a.ID, b.ID)
	assert.ErrorIs(t, err, ErrCycle)

	_, err = s.AddDependency(a.ID, a.ID)
	assert.ErrorIs(t, err, ErrCycle)
}

func TestBlockAndUnblockClearsReason(t *testing.T) {
	s := newTestStore(t)
	task, err := s.Create(CreateOptions{Title: "blockable"})
	require.NoError(t, err)
	_, err = s.Transition(task.ID, StatusReady, TransitionOptions{})
	require.NoError(t, err)

	blocked, err := s.Block(task.ID, "waiting on design", "")
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, blocked.Status)
	assert.Equal(t, "waiting on design", blocked.MetaString(MetaBlockReason))

	unblocked, err := s.Unblock(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, unblocked.Status)
	assert.Empty(t, unblocked.MetaString(MetaBlockReason))
}

func TestCancelRejectsTerminalTasks(t *testing.T) {
	s := newTestStore(t)
	task, err := s.Create(CreateOptions{Title: "cancel me"})
	require.NoError(t, err)
	_, err = s.Cancel(task.ID, "no longer needed")
	require.NoError(t, err)

	_, err = s.Cancel(task.ID, "again")
	assert.ErrorIs(t, err, ErrTerminalTask)
}

func TestLintDetectsStatusDrift(t *testing.T) {
	s := newTestStore(t)
	task, err := s.Create(CreateOptions{Title: "drift"})
	require.NoError(t, err)

	s.mu.Lock()
	task.Status = StatusReady // frontmatter claims ready while the file stays under backlog/
	data, err2 := renderFile(task)
	require.NoError(t, err2)
	require.NoError(t, atomicWrite(s.taskPath(StatusBacklog, task.ID), data, 0o644))
	s.mu.Unlock()

	violations, err := s.Lint()
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "status_drift", violations[0].Kind)
	assert.Equal(t, task.ID, violations[0].TaskID)
}

func TestGetByPrefixAmbiguous(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(CreateOptions{Title: "one"})
	require.NoError(t, err)
	_, err = s.Create(CreateOptions{Title: "two"})
	require.NoError(t, err)

	_, err = s.GetByPrefix("TASK-2026-02-13-00")
	assert.ErrorIs(t, err, ErrAmbiguousPrefix)

	task, err := s.GetByPrefix("TASK-2026-02-13-001")
	require.NoError(t, err)
	assert.Equal(t, "TASK-2026-02-13-001", task.ID)
}

func TestLintDetectsContentHashStale(t *testing.T) {
	s := newTestStore(t)
	task, err := s.Create(CreateOptions{Title: "hash drift", Body: "## Instructions\ndo it\n"})
	require.NoError(t, err)

	s.mu.Lock()
	task.ContentHash = "deadbeef"
	data, err2 := renderFile(task)
	require.NoError(t, err2)
	require.NoError(t, atomicWrite(s.taskPath(StatusBacklog, task.ID), data, 0o644))
	s.mu.Unlock()

	violations, err := s.Lint()
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "content_hash_stale", violations[0].Kind)
}

func TestLintDetectsLeaseInvariant(t *testing.T) {
	s := newTestStore(t)
	task, err := s.Create(CreateOptions{Title: "leased while backlog"})
	require.NoError(t, err)

	s.mu.Lock()
	task.Lease = &Lease{Agent: "agent-a"}
	data, err2 := renderFile(task)
	require.NoError(t, err2)
	require.NoError(t, atomicWrite(s.taskPath(StatusBacklog, task.ID), data, 0o644))
	s.mu.Unlock()

	violations, err := s.Lint()
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "lease_invariant", violations[0].Kind)
}

func TestValidateRejectsMissingTitle(t *testing.T) {
	task := &Task{ID: "TASK-2026-02-13-001", Project: "acme", Priority: PriorityNormal, Status: StatusBacklog}
	err := task.Validate()
	assert.ErrorIs(t, err, ErrValidation)
}

func TestValidateRejectsMalformedDependsOn(t *testing.T) {
	task := &Task{
		ID: "TASK-2026-02-13-001", Project: "acme", Title: "x",
		Priority: PriorityNormal, Status: StatusBacklog, DependsOn: []string{"not-a-task-id"},
	}
	err := task.Validate()
	assert.ErrorIs(t, err, ErrValidation)
}

func TestValidateRejectsUnknownGateCurrent(t *testing.T) {
	task := &Task{
		ID: "TASK-2026-02-13-001", Project: "acme", Title: "x",
		Priority: PriorityNormal, Status: StatusBacklog,
		Gate: &GateState{Workflow: "review", Current: "missing", Gates: []string{"draft", "review"}},
	}
	err := task.Validate()
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateRejectsMalformedDependsOn(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(CreateOptions{Title: "bad dep", DependsOn: []string{"not-a-task-id"}})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestContentHashIgnoresCosmeticBodyEdits(t *testing.T) {
	s := newTestStore(t)
	task, err := s.Create(CreateOptions{
		Title: "hash",
		Body:  "intro\n\n## Instructions\nDo the thing.\n\n## Notes\nirrelevant\n",
	})
	require.NoError(t, err)
	original := task.ContentHash

	updated, err := s.UpdateBody(task.ID, "different intro\n\n## Instructions\nDo   the thing.\n\n## Notes\nchanged\n")
	require.NoError(t, err)
	assert.Equal(t, original, updated.ContentHash)
}

package lease

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d0labs/aof/internal/taskstore"
)

func newTestRig(t *testing.T) (*taskstore.Store, *Manager, *fakeClock) {
	t.Helper()
	root := t.TempDir()
	clock := &fakeClock{now: time.Date(2026, 2, 13, 9, 0, 0, 0, time.UTC)}
	store := taskstore.New(root, "acme", taskstore.WithClock(clock.Now))
	require.NoError(t, store.Init())
	mgr := New(store, WithClock(clock.Now))
	return store, mgr, clock
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func readyTask(t *testing.T, store *taskstore.Store, title string) *taskstore.Task {
	t.Helper()
	task, err := store.Create(taskstore.CreateOptions{Title: title})
	require.NoError(t, err)
	ready, err := store.Transition(task.ID, taskstore.StatusReady, taskstore.TransitionOptions{})
	require.NoError(t, err)
	return ready
}

func TestAcquireFailsWhenHeldByAnotherAgent(t *testing.T) {
	store, mgr, _ := newTestRig(t)
	task := readyTask(t, store, "contested")

	_, err := mgr.Acquire(task.ID, "agent-a", AcquireOptions{TTLMs: 60_000, MaxRenewals: 3})
	require.NoError(t, err)

	_, err = mgr.Acquire(task.ID, "agent-b", AcquireOptions{TTLMs: 60_000, MaxRenewals: 3})
	assert.ErrorIs(t, err, taskstore.ErrLeaseHeld)
}

func TestAcquireWritesRunArtifacts(t *testing.T) {
	store, mgr, _ := newTestRig(t)
	task := readyTask(t, store, "artifacts")

	got, err := mgr.Acquire(task.ID, "agent-a", AcquireOptions{
		TTLMs: 60_000, MaxRenewals: 3, HeartbeatTTLMs: 5_000, WriteRunArtifacts: true,
	})
	require.NoError(t, err)
	assert.Equal(t, taskstore.StatusInProgress, got.Status)

	run, err := ReadRun(store.Root(), task.ID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, RunRunning, run.Status)

	hb, err := ReadHeartbeat(store.Root(), task.ID)
	require.NoError(t, err)
	require.NotNil(t, hb)
	assert.Equal(t, 0, hb.BeatCount)
}

func TestRenewRejectsAfterMaxRenewals(t *testing.T) {
	store, mgr, _ := newTestRig(t)
	task := readyTask(t, store, "renewable")
	_, err := mgr.Acquire(task.ID, "agent-a", AcquireOptions{TTLMs: 1000, MaxRenewals: 1})
	require.NoError(t, err)

	_, err = mgr.Renew(task.ID, "agent-a", 1000)
	require.NoError(t, err)

	_, err = mgr.Renew(task.ID, "agent-a", 1000)
	assert.Error(t, err)
}

func TestReleaseReturnsTaskToReady(t *testing.T) {
	store, mgr, _ := newTestRig(t)
	task := readyTask(t, store, "releasable")
	_, err := mgr.Acquire(task.ID, "agent-a", AcquireOptions{TTLMs: 60_000, MaxRenewals: 3})
	require.NoError(t, err)

	released, err := mgr.Release(task.ID, "agent-a")
	require.NoError(t, err)
	assert.Equal(t, taskstore.StatusReady, released.Status)
	assert.Nil(t, released.Lease)
}

func TestExpireReclaimsInProgressToReady(t *testing.T) {
	store, mgr, clock := newTestRig(t)
	task := readyTask(t, store, "expiring")
	_, err := mgr.Acquire(task.ID, "agent-a", AcquireOptions{TTLMs: 1000, MaxRenewals: 3})
	require.NoError(t, err)

	clock.Advance(2 * time.Second)

	reclaimed, err := mgr.Expire()
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, taskstore.StatusReady, reclaimed[0].NewStatus)

	after, err := store.Get(task.ID)
	require.NoError(t, err)
	assert.Nil(t, after.Lease)
}

func TestExpireKeepsBlockedTaskBlockedWhenDepsIncomplete(t *testing.T) {
	store, mgr, clock := newTestRig(t)
	dep, err := store.Create(taskstore.CreateOptions{Title: "dependency"})
	require.NoError(t, err)

	task := readyTask(t, store, "blocked-owner")
	_, err = store.AddDependency(task.ID, dep.ID)
	require.NoError(t, err)
	_, err = mgr.Acquire(task.ID, "agent-a", AcquireOptions{TTLMs: 1000, MaxRenewals: 3})
	require.NoError(t, err)
	_, err = store.Transition(task.ID, taskstore.StatusBlocked, taskstore.TransitionOptions{})
	require.NoError(t, err)
	_, err = store.SetLease(task.ID, &taskstore.Lease{Agent: "agent-a", ExpiresAt: clock.Now().Add(time.Second)})
	require.NoError(t, err)

	clock.Advance(2 * time.Second)

	reclaimed, err := mgr.Expire()
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, taskstore.StatusBlocked, reclaimed[0].NewStatus)
}

// S6 Crash recovery with partial outcome, lease-manager half: a stale
// heartbeat with a run_result.json{outcome:"partial"} is classified stale;
// the scheduler maps it to review.
func TestGetResumeInfoClassifiesStaleHeartbeat(t *testing.T) {
	store, mgr, clock := newTestRig(t)
	task := readyTask(t, store, "crash-recoverable")
	_, err := mgr.Acquire(task.ID, "agent-a", AcquireOptions{
		TTLMs: 60_000, MaxRenewals: 3, HeartbeatTTLMs: 1, WriteRunArtifacts: true,
	})
	require.NoError(t, err)
	require.NoError(t, WriteResult(store.Root(), Result{TaskID: task.ID, AgentID: "agent-a", Outcome: OutcomePartial}))

	clock.Advance(time.Second)

	infos, err := mgr.GetResumeInfo()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, ResumeStale, infos[0].Disposition)
}

func TestGetResumeInfoNeverStartedIsResumable(t *testing.T) {
	store, mgr, _ := newTestRig(t)
	task := readyTask(t, store, "no-artifacts")
	_, err := store.Transition(task.ID, taskstore.StatusInProgress, taskstore.TransitionOptions{Agent: "agent-a"})
	require.NoError(t, err)

	infos, err := mgr.GetResumeInfo()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, ResumeResumable, infos[0].Disposition)
}

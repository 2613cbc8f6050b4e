package lease

import (
	"fmt"
	"time"

	"github.com/d0labs/aof/internal/logging"
	"github.com/d0labs/aof/internal/taskstore"
)

// EventSink mirrors taskstore.EventSink so the lease manager can emit
// lease.* events without importing the scheduler's concrete sink type.
type EventSink interface {
	Emit(eventType, actor, taskID string, payload map[string]any)
}

// Manager owns lease acquire/renew/release/expire and heartbeat bookkeeping
// for a single project's task store.
type Manager struct {
	store  *taskstore.Store
	logger logging.Logger
	sink   EventSink
	clock  func() time.Time
}

// Option customizes a new Manager.
type Option func(*Manager)

func WithLogger(l logging.Logger) Option  { return func(m *Manager) { m.logger = logging.OrNop(l) } }
func WithEventSink(sink EventSink) Option { return func(m *Manager) { m.sink = sink } }
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// New returns a Manager operating over store.
func New(store *taskstore.Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		logger: logging.Nop,
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) emit(eventType, actor, taskID string, payload map[string]any) {
	if m.sink == nil {
		return
	}
	m.sink.Emit(eventType, actor, taskID, payload)
}

// AcquireOptions configures a lease acquisition.
type AcquireOptions struct {
	TTLMs             int64
	MaxRenewals       int
	HeartbeatTTLMs    int64
	WriteRunArtifacts bool
}

// Acquire assigns a ready (or already in-progress) task to agent. Fails if a
// non-expired lease held by a different agent already exists. On success:
// writes the lease, transitions ready->in-progress (no-op if already
// in-progress), and — if WriteRunArtifacts — writes the initial run.json and
// run_heartbeat.json (beatCount=0).
func (m *Manager) Acquire(taskID, agent string, opts AcquireOptions) (*taskstore.Task, error) {
	task, err := m.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != taskstore.StatusReady && task.Status != taskstore.StatusInProgress {
		return nil, fmt.Errorf("lease: task %s is not acquirable from status %s", taskID, task.Status)
	}
	now := m.clock()
	if task.Lease != nil && task.Lease.Agent != agent && task.Lease.ExpiresAt.After(now) {
		return nil, fmt.Errorf("%w: %s holds %s until %s", taskstore.ErrLeaseHeld, task.Lease.Agent, taskID, task.Lease.ExpiresAt)
	}

	newLease := &taskstore.Lease{
		Agent:             agent,
		AcquiredAt:        now,
		ExpiresAt:         now.Add(time.Duration(opts.TTLMs) * time.Millisecond),
		RenewCount:        0,
		MaxRenewals:       opts.MaxRenewals,
		HeartbeatTTLMs:    opts.HeartbeatTTLMs,
		WriteRunArtifacts: opts.WriteRunArtifacts,
	}
	if _, err := m.store.SetLease(taskID, newLease); err != nil {
		return nil, err
	}

	task, err = m.store.Transition(taskID, taskstore.StatusInProgress, taskstore.TransitionOptions{Agent: agent, Reason: "lease_acquired"})
	if err != nil {
		return nil, err
	}

	if opts.WriteRunArtifacts {
		if err := WriteRun(m.store.Root(), Run{TaskID: taskID, AgentID: agent, StartedAt: now, Status: RunRunning}); err != nil {
			return nil, err
		}
		if err := WriteHeartbeat(m.store.Root(), Heartbeat{
			TaskID: taskID, AgentID: agent, LastHeartbeat: now, BeatCount: 0,
			ExpiresAt: now.Add(time.Duration(opts.HeartbeatTTLMs) * time.Millisecond),
		}); err != nil {
			return nil, err
		}
	}

	m.logger.Info("lease acquired for %s by %s", taskID, agent)
	m.emit("lease.acquired", agent, taskID, map[string]any{"ttlMs": opts.TTLMs})
	return task, nil
}

// Renew extends a lease held by agent, failing once renewCount reaches
// maxRenewals.
func (m *Manager) Renew(taskID, agent string, ttlMs int64) (*taskstore.Task, error) {
	task, err := m.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	if task.Lease == nil || task.Lease.Agent != agent {
		return nil, fmt.Errorf("%w: %s is not leased by %s", taskstore.ErrLeaseHeld, taskID, agent)
	}
	if task.Lease.RenewCount >= task.Lease.MaxRenewals {
		return nil, fmt.Errorf("lease: %s has exhausted its %d renewals", taskID, task.Lease.MaxRenewals)
	}
	now := m.clock()
	renewed := *task.Lease
	renewed.RenewCount++
	renewed.ExpiresAt = now.Add(time.Duration(ttlMs) * time.Millisecond)

	task, err = m.store.SetLease(taskID, &renewed)
	if err != nil {
		return nil, err
	}
	m.emit("lease.renewed", agent, taskID, map[string]any{"renewCount": renewed.RenewCount})
	return task, nil
}

// Release clears agent's lease and returns the task to ready. Only the
// leaseholder may release.
func (m *Manager) Release(taskID, agent string) (*taskstore.Task, error) {
	task, err := m.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	if task.Lease == nil || task.Lease.Agent != agent {
		return nil, fmt.Errorf("%w: %s is not leased by %s", taskstore.ErrLeaseHeld, taskID, agent)
	}
	task, err = m.store.Transition(taskID, taskstore.StatusReady, taskstore.TransitionOptions{Agent: agent, Reason: "lease_released"})
	if err != nil {
		return nil, err
	}
	m.emit("lease.released", agent, taskID, nil)
	return task, nil
}

// ExpireResult reports one reclaimed task from an Expire sweep.
type ExpireResult struct {
	TaskID    string
	NewStatus taskstore.Status
}

// Expire scans in-progress and blocked tasks for leases with expiresAt <=
// now, clearing them. Blocked tasks whose dependsOn are all done move to
// ready; otherwise they remain blocked with the lease cleared. Emits
// lease.expired per reclaimed task.
func (m *Manager) Expire() ([]ExpireResult, error) {
	now := m.clock()
	var reclaimed []ExpireResult

	for _, status := range []taskstore.Status{taskstore.StatusInProgress, taskstore.StatusBlocked} {
		tasks, err := m.store.List(taskstore.ListFilter{Status: status})
		if err != nil {
			return nil, err
		}
		for _, task := range tasks {
			if task.Lease == nil || task.Lease.ExpiresAt.After(now) {
				continue
			}
			agent := task.Lease.Agent
			if _, err := m.store.SetLease(task.ID, nil); err != nil {
				return nil, err
			}

			target := taskstore.StatusReady
			if status == taskstore.StatusBlocked {
				if !m.allDependenciesDone(task) {
					target = taskstore.StatusBlocked
				}
			}
			if target != status {
				if _, err := m.store.Transition(task.ID, target, taskstore.TransitionOptions{Agent: agent, Reason: "lease_expired"}); err != nil {
					return nil, err
				}
			}
			reclaimed = append(reclaimed, ExpireResult{TaskID: task.ID, NewStatus: target})
			m.emit("lease.expired", agent, task.ID, map[string]any{"newStatus": string(target)})
		}
	}
	return reclaimed, nil
}

func (m *Manager) allDependenciesDone(task *taskstore.Task) bool {
	for _, depID := range task.DependsOn {
		dep, err := m.store.Get(depID)
		if err != nil || dep.Status != taskstore.StatusDone {
			return false
		}
	}
	return true
}

// WriteHeartbeat updates the heartbeat for taskID, incrementing beatCount
// and extending expiresAt by ttlMs.
func (m *Manager) WriteHeartbeat(taskID, agent string, ttlMs int64) error {
	now := m.clock()
	existing, err := ReadHeartbeat(m.store.Root(), taskID)
	if err != nil {
		return err
	}
	count := 0
	if existing != nil {
		count = existing.BeatCount
	}
	return WriteHeartbeat(m.store.Root(), Heartbeat{
		TaskID:        taskID,
		AgentID:       agent,
		LastHeartbeat: now,
		BeatCount:     count + 1,
		ExpiresAt:     now.Add(time.Duration(ttlMs) * time.Millisecond),
	})
}

// StaleHeartbeat is a heartbeat found expired by CheckStaleHeartbeats.
type StaleHeartbeat struct {
	TaskID    string
	Heartbeat Heartbeat
}

// CheckStaleHeartbeats returns heartbeats with expiresAt <= now for every
// in-progress task.
func (m *Manager) CheckStaleHeartbeats() ([]StaleHeartbeat, error) {
	now := m.clock()
	tasks, err := m.store.List(taskstore.ListFilter{Status: taskstore.StatusInProgress})
	if err != nil {
		return nil, err
	}
	var stale []StaleHeartbeat
	for _, task := range tasks {
		hb, err := ReadHeartbeat(m.store.Root(), task.ID)
		if err != nil {
			return nil, err
		}
		if hb == nil || hb.ExpiresAt.After(now) {
			continue
		}
		stale = append(stale, StaleHeartbeat{TaskID: task.ID, Heartbeat: *hb})
	}
	return stale, nil
}

// ResumeDisposition is the crash-recovery classification for an in-progress
// task found at scheduler startup or stale-heartbeat sweep.
type ResumeDisposition string

const (
	ResumeResumable ResumeDisposition = "resumable"
	ResumeStale     ResumeDisposition = "stale"
	ResumeCompleted ResumeDisposition = "completed"
)

// ResumeInfo is the outcome of GetResumeInfo for one in-progress task.
type ResumeInfo struct {
	TaskID      string
	Disposition ResumeDisposition
	Run         *Run
	Heartbeat   *Heartbeat
}

// GetResumeInfo classifies every in-progress task's crash-recovery state:
// no artifacts at all means the run never started (resumable); an expired
// heartbeat means the agent died mid-run (stale); a done task is completed;
// anything else is resumable.
func (m *Manager) GetResumeInfo() ([]ResumeInfo, error) {
	now := m.clock()
	tasks, err := m.store.List(taskstore.ListFilter{Status: taskstore.StatusInProgress})
	if err != nil {
		return nil, err
	}
	var infos []ResumeInfo
	for _, task := range tasks {
		run, err := ReadRun(m.store.Root(), task.ID)
		if err != nil {
			return nil, err
		}
		hb, err := ReadHeartbeat(m.store.Root(), task.ID)
		if err != nil {
			return nil, err
		}

		info := ResumeInfo{TaskID: task.ID, Run: run, Heartbeat: hb}
		switch {
		case task.Status == taskstore.StatusDone:
			info.Disposition = ResumeCompleted
		case run == nil && hb == nil:
			info.Disposition = ResumeResumable
		case hb != nil && !hb.ExpiresAt.After(now):
			info.Disposition = ResumeStale
		default:
			info.Disposition = ResumeResumable
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Package service hosts one or more projects' task stores and schedulers
// under a single process lifecycle: discovery, orphan reconciliation on
// startup, interval polling, and graceful drain.
package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/d0labs/aof/internal/executor"
	"github.com/d0labs/aof/internal/gate"
	"github.com/d0labs/aof/internal/lease"
	"github.com/d0labs/aof/internal/logging"
	"github.com/d0labs/aof/internal/orgchart"
	"github.com/d0labs/aof/internal/project"
	"github.com/d0labs/aof/internal/protocol"
	"github.com/d0labs/aof/internal/scheduler"
	"github.com/d0labs/aof/internal/taskstore"
)

// DefaultDrainTimeout bounds how long Drain waits for an in-flight poll.
const DefaultDrainTimeout = 10 * time.Second

// EventSink receives system.* events.
type EventSink interface {
	Emit(eventType, actor, taskID string, payload map[string]any)
}

// MetricsSink receives host-level observations. Nil-safe.
type MetricsSink interface {
	scheduler.MetricsSink
}

// projectRuntime bundles one project's store and scheduler together.
type projectRuntime struct {
	id        string
	store     *taskstore.Store
	leases    *lease.Manager
	scheduler *scheduler.Scheduler
	router    *protocol.Router
	manifest  *project.Manifest
}

// Config tunes a Host.
type Config struct {
	VaultRoot       string
	PollIntervalMs  int64
	DrainTimeout    time.Duration
	SchedulerConfig scheduler.Config
	SingleProjectID string // when set, skips <vaultRoot>/Projects discovery entirely
}

// Host owns every project's store and scheduler under one poll loop. Only
// one poll runs at a time across all projects, preserving the single-writer
// discipline the fabric's concurrency model requires.
type Host struct {
	cfg        Config
	org        *orgchart.Chart
	newSession func(proj *project.Manifest) executor.Session

	sink    EventSink
	metrics MetricsSink
	logger  logging.Logger
	clock   func() time.Time

	mu             sync.Mutex
	projects       map[string]*projectRuntime
	discoveryDirty bool

	watcher  *fsnotify.Watcher
	poke     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	polling  sync.Mutex // held for the duration of one PollAll, serializing triggers

	gateEvalOnce sync.Once
	gateEval     *gate.Evaluator
	gateEvalErr  error
}

// Option customizes a new Host.
type Option func(*Host)

func WithOrgChart(c *orgchart.Chart) Option { return func(h *Host) { h.org = c } }
func WithEventSink(sink EventSink) Option   { return func(h *Host) { h.sink = sink } }
func WithMetrics(m MetricsSink) Option      { return func(h *Host) { h.metrics = m } }
func WithLogger(l logging.Logger) Option    { return func(h *Host) { h.logger = logging.OrNop(l) } }
func WithSessionFactory(f func(proj *project.Manifest) executor.Session) Option {
	return func(h *Host) { h.newSession = f }
}
func WithClock(clock func() time.Time) Option {
	return func(h *Host) { h.clock = clock }
}

// New returns a Host rooted at cfg.VaultRoot.
func New(cfg Config, opts ...Option) *Host {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	h := &Host{
		cfg:        cfg,
		logger:     logging.Nop,
		clock:      func() time.Time { return time.Now().UTC() },
		projects:   map[string]*projectRuntime{},
		poke:       make(chan struct{}, 1),
		stopped:    make(chan struct{}),
		newSession: func(*project.Manifest) executor.Session { return executor.NewStubSession() },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Host) emit(eventType, actor, taskID string, payload map[string]any) {
	if h.sink == nil {
		return
	}
	h.sink.Emit(eventType, actor, taskID, payload)
}

// Start discovers projects, runs orphan reconciliation, emits
// system.startup, kicks an immediate poll, and begins the interval poll
// loop plus (multi-project mode) an fsnotify watch on <vaultRoot>/Projects.
func (h *Host) Start(ctx context.Context) error {
	if err := h.discover(); err != nil {
		return fmt.Errorf("service: discover projects: %w", err)
	}
	for _, p := range h.allProjects() {
		n, err := h.reconcileOrphans(p)
		if err != nil {
			return fmt.Errorf("service: reconcile orphans for %s: %w", p.id, err)
		}
		if n > 0 {
			h.logger.Info("service: reclaimed %d orphaned in-progress task(s) for project %s", n, p.id)
		}
	}
	h.emit("system.startup", "", "", map[string]any{"projects": h.projectIDs()})

	if h.cfg.SingleProjectID == "" {
		if err := h.startWatcher(); err != nil {
			h.logger.Warn("service: project discovery watch disabled: %v", err)
		}
	}

	if _, err := h.PollAll(ctx); err != nil {
		h.logger.Error("service: startup poll failed: %v", err)
	}

	interval := time.Duration(h.cfg.PollIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = time.Duration(scheduler.DefaultPollIntervalMs) * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopped:
				return
			case <-ticker.C:
				if _, err := h.PollAll(ctx); err != nil {
					h.logger.Error("service: poll failed: %v", err)
				}
			case <-h.poke:
				if _, err := h.PollAll(ctx); err != nil {
					h.logger.Error("service: poll failed: %v", err)
				}
			case ev, ok := <-h.watcherEvents():
				if !ok {
					continue
				}
				if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					h.mu.Lock()
					h.discoveryDirty = true
					h.mu.Unlock()
				}
			}
		}
	}()
	return nil
}

// watcherEvents returns the watcher's event channel, or a nil channel (which
// blocks forever, never selected) if no watcher is running.
func (h *Host) watcherEvents() <-chan fsnotify.Event {
	if h.watcher == nil {
		return nil
	}
	return h.watcher.Events
}

func (h *Host) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Join(h.cfg.VaultRoot, "Projects")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		watcher.Close()
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}
	h.watcher = watcher
	return nil
}

// PokeNow requests an extra poll across every project as soon as the
// current one finishes. Non-blocking, collapsing like scheduler.PokeNow.
func (h *Host) PokeNow() {
	select {
	case h.poke <- struct{}{}:
	default:
	}
}

// Stop halts the poll loop and watcher without waiting for an in-flight
// poll. Use Drain to wait with a bound.
func (h *Host) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopped)
		if h.watcher != nil {
			_ = h.watcher.Close()
		}
		h.emit("system.shutdown", "", "", nil)
	})
}

// Drain stops the loop and waits up to cfg.DrainTimeout (default 10s) for
// any in-flight poll to finish. Logs a warning and returns the context's
// deadline error on timeout — orphans left in-progress are reclaimed by the
// next Start's orphan reconciliation.
func (h *Host) Drain(ctx context.Context) error {
	h.Stop()

	done := make(chan struct{})
	go func() {
		h.polling.Lock()
		h.polling.Unlock()
		close(done)
	}()

	deadline, cancel := context.WithTimeout(ctx, h.cfg.DrainTimeout)
	defer cancel()
	select {
	case <-done:
		return nil
	case <-deadline.Done():
		h.logger.Warn("service: drain timed out after %s waiting for in-flight poll", h.cfg.DrainTimeout)
		return deadline.Err()
	}
}

func (h *Host) allProjects() []*projectRuntime {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*projectRuntime, 0, len(h.projects))
	for _, p := range h.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (h *Host) projectIDs() []string {
	var ids []string
	for _, p := range h.allProjects() {
		ids = append(ids, p.id)
	}
	return ids
}

// Project returns the protocol router for projectID, or (nil, false) if the
// project is unknown.
func (h *Host) Project(projectID string) (*protocol.Router, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.projects[projectID]
	if !ok {
		return nil, false
	}
	return p.router, true
}

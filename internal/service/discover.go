package service

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/d0labs/aof/internal/deadletter"
	"github.com/d0labs/aof/internal/gate"
	"github.com/d0labs/aof/internal/lease"
	"github.com/d0labs/aof/internal/project"
	"github.com/d0labs/aof/internal/protocol"
	"github.com/d0labs/aof/internal/scheduler"
	"github.com/d0labs/aof/internal/sla"
	"github.com/d0labs/aof/internal/taskstore"
)

// discover (re)scans for projects and adds any newly-found ones to h's
// registry. Existing projects are left untouched — discovery only grows the
// set; a project directory removed at runtime is not torn down mid-process.
func (h *Host) discover() error {
	if h.cfg.SingleProjectID != "" {
		return h.ensureProject(h.cfg.VaultRoot, h.cfg.SingleProjectID)
	}

	root := filepath.Join(h.cfg.VaultRoot, "Projects")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("service: read %s: %w", root, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		manifestPath := filepath.Join(dir, "project.yaml")
		if _, err := os.Stat(manifestPath); err != nil {
			continue // not a project directory
		}
		if err := h.ensureProject(dir, ""); err != nil {
			h.logger.Warn("service: skipping invalid project at %s: %v", dir, err)
		}
	}
	return nil
}

// ensureProject loads (or reuses) the project at dir. If id is non-empty and
// no project.yaml exists there, a minimal unrestricted manifest is used —
// the single-project dev-mode case.
func (h *Host) ensureProject(dir, fallbackID string) error {
	manifestPath := filepath.Join(dir, "project.yaml")
	var manifest *project.Manifest
	if _, err := os.Stat(manifestPath); err == nil {
		m, err := project.Load(manifestPath)
		if err != nil {
			return err
		}
		manifest = m
	} else if fallbackID != "" {
		manifest = &project.Manifest{ID: fallbackID}
	} else {
		return fmt.Errorf("no project.yaml at %s", dir)
	}

	h.mu.Lock()
	_, exists := h.projects[manifest.ID]
	h.mu.Unlock()
	if exists {
		return nil
	}

	rt, err := h.newProjectRuntime(dir, manifest)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.projects[manifest.ID] = rt
	h.mu.Unlock()
	return nil
}

func (h *Host) newProjectRuntime(dir string, manifest *project.Manifest) (*projectRuntime, error) {
	store := taskstore.New(dir, manifest.ID, taskstore.WithEventSink(eventSinkAdapter{h.sink}), taskstore.WithClock(h.clock))
	if err := store.Init(); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	leases := lease.New(store, lease.WithEventSink(eventSinkAdapter{h.sink}), lease.WithClock(h.clock))
	dl := deadletter.New(store, deadletter.WithEventSink(eventSinkAdapter{h.sink}), deadletter.WithClock(h.clock))
	slaChecker := sla.New(store, sla.WithEventSink(eventSinkAdapter{h.sink}), sla.WithClock(h.clock))
	router := protocol.New(store, protocol.WithEventSink(eventSinkAdapter{h.sink}), protocol.WithClock(h.clock))

	schedOpts := []scheduler.Option{
		scheduler.WithDeadletter(dl),
		scheduler.WithSLAChecker(slaChecker),
		scheduler.WithProject(manifest),
		scheduler.WithEventSink(eventSinkAdapter{h.sink}),
		scheduler.WithClock(h.clock),
	}
	if gateEngine, err := h.newGateEngine(store, manifest); err != nil {
		h.logger.Warn("service: gate engine unavailable for project %s: %v", manifest.ID, err)
	} else {
		schedOpts = append(schedOpts, scheduler.WithGateEngine(gateEngine))
	}
	if h.org != nil {
		schedOpts = append(schedOpts, scheduler.WithOrgChart(h.org))
	}
	if h.metrics != nil {
		schedOpts = append(schedOpts, scheduler.WithMetrics(h.metrics))
	}

	sched := scheduler.New(store, leases, h.newSession(manifest), h.cfg.SchedulerConfig, schedOpts...)
	return &projectRuntime{id: manifest.ID, store: store, leases: leases, scheduler: sched, router: router, manifest: manifest}, nil
}

// newGateEngine builds the gate workflow engine for one project, resolving
// workflow names against the project manifest's own declared workflows. The
// CEL evaluator is expensive to construct and has no per-project state, so
// it's built once per Host and shared across every project's gate engine.
func (h *Host) newGateEngine(store *taskstore.Store, manifest *project.Manifest) (*gate.Engine, error) {
	h.gateEvalOnce.Do(func() {
		h.gateEval, h.gateEvalErr = gate.NewEvaluator()
	})
	if h.gateEvalErr != nil {
		return nil, h.gateEvalErr
	}
	return gate.New(store, manifest.WorkflowLookup(), h.gateEval,
		gate.WithEventSink(eventSinkAdapter{h.sink}), gate.WithClock(h.clock)), nil
}

// eventSinkAdapter lets a nil Host.sink flow into sibling packages' EventSink
// parameters without every call site needing its own nil check.
type eventSinkAdapter struct{ sink EventSink }

func (a eventSinkAdapter) Emit(eventType, actor, taskID string, payload map[string]any) {
	if a.sink == nil {
		return
	}
	a.sink.Emit(eventType, actor, taskID, payload)
}

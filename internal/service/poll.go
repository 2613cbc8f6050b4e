package service

import (
	"context"

	"github.com/d0labs/aof/internal/scheduler"
	"github.com/d0labs/aof/internal/taskstore"
)

// AggregatePollResult sums every project's PollResult for one host-level
// poll tick: stats and actions are concatenated per project, counters
// summed, matching spec.md §4.11's "sum stats, concatenate actions" rule.
type AggregatePollResult struct {
	ByProject       map[string]*scheduler.PollResult
	ActionsPlanned  int
	ActionsExecuted int
	ActionsFailed   int
}

// PollAll re-discovers projects if the fsnotify watcher marked discovery
// dirty, then polls every known project in deterministic (id-sorted) order,
// serialized behind h.polling so Drain can wait for exactly this to finish.
func (h *Host) PollAll(ctx context.Context) (*AggregatePollResult, error) {
	h.polling.Lock()
	defer h.polling.Unlock()

	h.mu.Lock()
	dirty := h.discoveryDirty
	h.discoveryDirty = false
	h.mu.Unlock()
	if dirty {
		if err := h.discover(); err != nil {
			h.logger.Warn("service: re-discovery failed: %v", err)
		}
	}

	agg := &AggregatePollResult{ByProject: map[string]*scheduler.PollResult{}}
	for _, p := range h.allProjects() {
		result, err := p.scheduler.Poll(ctx)
		if err != nil {
			h.logger.Error("service: poll failed for project %s: %v", p.id, err)
			continue
		}
		agg.ByProject[p.id] = result
		agg.ActionsPlanned += result.ActionsPlanned
		agg.ActionsExecuted += result.ActionsExecuted
		agg.ActionsFailed += result.ActionsFailed
	}
	return agg, nil
}

// reconcileOrphans reclaims every in-progress task back to ready at
// startup — whatever agent held it belonged to a prior, now-dead process
// incarnation. Returns the count reclaimed.
func (h *Host) reconcileOrphans(p *projectRuntime) (int, error) {
	tasks, err := p.store.List(taskstore.ListFilter{Status: taskstore.StatusInProgress})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, t := range tasks {
		agent := ""
		if t.Lease != nil {
			agent = t.Lease.Agent
		}
		orphanedFromOrgChart := false
		if h.org != nil && agent != "" {
			if _, _, ok := h.org.TeamFor(agent); !ok {
				orphanedFromOrgChart = true
			}
		}

		if _, err := p.store.SetLease(t.ID, nil); err != nil {
			return count, err
		}
		if _, err := p.store.ForceTransition(t.ID, taskstore.StatusReady, taskstore.TransitionOptions{
			Reason: "startup_reconciliation",
		}); err != nil {
			return count, err
		}
		count++
		h.emit("task.reclaimed", agent, t.ID, map[string]any{
			"reason":               "startup_reconciliation",
			"orphanedFromOrgChart": orphanedFromOrgChart,
		})
	}
	return count, nil
}

// Package scheduler runs the poll cycle: reconcile leases, snapshot the
// store, resolve stale heartbeats, plan and execute dispatches, check SLAs,
// evaluate murmur triggers, and emit one aggregate scheduler.poll event —
// all under a single serialized poll queue, never more than one at a time.
package scheduler

import "time"

// Action is one planned or executed step from a single poll, in the shape
// the console log and the scheduler.poll event both render from.
type Action struct {
	Type    string         `json:"type"`
	TaskID  string         `json:"taskId,omitempty"`
	Agent   string         `json:"agent,omitempty"`
	Success bool           `json:"success,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Error   string         `json:"error,omitempty"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// Stats summarizes one poll's store snapshot.
type Stats struct {
	CountsByStatus map[string]int
	ReadyCount     int
	InProgress     int
}

// PollResult is what one poll cycle produces.
type PollResult struct {
	Stats           Stats
	Actions         []Action
	ActionsPlanned  int
	ActionsExecuted int
	ActionsFailed   int
	DryRun          bool
	Reason          string
	Duration        time.Duration
}

func (r *PollResult) add(a Action) {
	r.Actions = append(r.Actions, a)
}

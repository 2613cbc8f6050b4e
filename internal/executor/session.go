// Package executor defines the narrow interface the scheduler uses to
// dispatch a task to an agent, and the two implementations this repo ships:
// a deterministic test stub and a thin external-command launcher.
package executor

import (
	"context"
	"time"

	"github.com/d0labs/aof/internal/taskstore"
)

// TaskContext is everything a session needs to work one task.
type TaskContext struct {
	Task               *taskstore.Task
	ProjectID          string
	Lease              *taskstore.Lease
	Ctx                context.Context
	AppendStatusUpdate func(progress, notes string, blockers []string)
}

// SpawnOptions bounds a single dispatch.
type SpawnOptions struct {
	TimeoutMs int64
}

// SpawnResult is what a session reports back about the dispatch attempt
// itself (not the eventual task outcome, which arrives later via the
// protocol router's completion.report).
type SpawnResult struct {
	Started bool
	Error   string
}

// Session dispatches a task to an agent. The only contract the scheduler
// needs — a real implementation may shell out, call an RPC, or (in tests)
// return a canned result.
type Session interface {
	SpawnSession(ctx context.Context, tc TaskContext, opts SpawnOptions) (SpawnResult, error)
}

// timeout turns opts.TimeoutMs into a time.Duration, defaulting to 30s.
func timeout(opts SpawnOptions) time.Duration {
	if opts.TimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(opts.TimeoutMs) * time.Millisecond
}

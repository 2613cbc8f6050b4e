package protocol

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/d0labs/aof/internal/lease"
	"github.com/d0labs/aof/internal/taskstore"
)

// EventSink receives protocol.message.* and task.* events.
type EventSink interface {
	Emit(eventType, actor, taskID string, payload map[string]any)
}

// Router maps inbound envelopes to task store mutations.
type Router struct {
	store *taskstore.Store
	sink  EventSink
	clock func() time.Time
}

// Option customizes a new Router.
type Option func(*Router)

func WithEventSink(sink EventSink) Option { return func(r *Router) { r.sink = sink } }
func WithClock(clock func() time.Time) Option {
	return func(r *Router) { r.clock = clock }
}

// New returns a Router over store.
func New(store *taskstore.Store, opts ...Option) *Router {
	r := &Router{store: store, clock: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) emit(eventType, actor, taskID string, payload map[string]any) {
	if r.sink == nil {
		return
	}
	r.sink.Emit(eventType, actor, taskID, payload)
}

// Handle dispatches env to the handler for its type.
func (r *Router) Handle(env Envelope) (Result, error) {
	switch env.Type {
	case MessageCompletionReport:
		return r.handleCompletionReport(env)
	case MessageStatusUpdate:
		return r.handleStatusUpdate(env)
	case MessageSessionEnd:
		return r.handleSessionEnd(env)
	default:
		return Result{}, fmt.Errorf("protocol: unknown message type %q", env.Type)
	}
}

func (r *Router) reject(taskID, reason string) Result {
	r.emit("protocol.message.rejected", "", taskID, map[string]any{"reason": reason})
	return Result{Accepted: false, TaskID: taskID, Rejected: reason}
}

// authorize loads taskID and verifies fromAgent holds its current lease.
// Returns the reject reason (empty if authorized).
func (r *Router) authorize(taskID, fromAgent string) (*taskstore.Task, string) {
	task, err := r.store.Get(taskID)
	if err != nil {
		return nil, "task_not_found"
	}
	if task.Lease == nil {
		return task, "unassigned_task"
	}
	if task.Lease.Agent != fromAgent {
		return task, "unauthorized_agent"
	}
	return task, ""
}

func (r *Router) handleCompletionReport(env Envelope) (Result, error) {
	task, reason := r.authorize(env.TaskID, env.FromAgent)
	if reason != "" {
		return r.reject(env.TaskID, reason), nil
	}

	var tests lease.TestCounts
	if env.Payload.Tests != nil {
		tests = lease.TestCounts(*env.Payload.Tests)
	}
	result := lease.Result{
		TaskID:       task.ID,
		AgentID:      env.FromAgent,
		Outcome:      lease.Outcome(env.Payload.Outcome),
		SummaryRef:   env.Payload.SummaryRef,
		HandoffRef:   env.Payload.HandoffRef,
		Deliverables: env.Payload.Deliverables,
		Tests:        tests,
		Blockers:     env.Payload.Blockers,
		Notes:        env.Payload.Notes,
	}
	if err := lease.WriteResult(r.store.Root(), result); err != nil {
		return Result{}, fmt.Errorf("protocol: write run result: %w", err)
	}

	res := Result{Accepted: true, TaskID: task.ID}
	if env.Payload.SummaryRef != "" && !r.summaryExists(env.Payload.SummaryRef) {
		r.emit("protocol.message.warning", env.FromAgent, task.ID, map[string]any{"reason": "summary_file_not_found"})
		res.Warnings = append(res.Warnings, "summary_file_not_found")
	}

	target := r.mapOutcome(task, result.Outcome)
	updated, err := r.store.Transition(task.ID, target, taskstore.TransitionOptions{Agent: env.FromAgent, Reason: "completion.report"})
	if err != nil {
		return Result{}, fmt.Errorf("protocol: transition: %w", err)
	}
	res.NewStatus = string(updated.Status)
	r.emit("task.completed", env.FromAgent, task.ID, map[string]any{"outcome": string(result.Outcome)})
	return res, nil
}

// mapOutcome maps a reported outcome to the target status per spec: done ->
// review, unless metadata.reviewRequired is explicitly false, in which case
// done -> done directly; blocked -> blocked; needs_review|partial -> review.
func (r *Router) mapOutcome(task *taskstore.Task, outcome lease.Outcome) taskstore.Status {
	switch outcome {
	case lease.OutcomeDone:
		if v, ok := task.Metadata[taskstore.MetaReviewRequired]; ok {
			if reviewRequired, ok := v.(bool); ok && !reviewRequired {
				return taskstore.StatusDone
			}
		}
		return taskstore.StatusReview
	case lease.OutcomeBlocked:
		return taskstore.StatusBlocked
	case lease.OutcomeNeedsReview, lease.OutcomePartial:
		return taskstore.StatusReview
	default:
		return taskstore.StatusReview
	}
}

func (r *Router) summaryExists(ref string) bool {
	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.store.Root(), ref)
	}
	_, err := os.Stat(path)
	return err == nil
}

func (r *Router) handleStatusUpdate(env Envelope) (Result, error) {
	task, reason := r.authorize(env.TaskID, env.FromAgent)
	if reason != "" {
		return r.reject(env.TaskID, reason), nil
	}

	if env.Payload.Status != "" {
		updated, err := r.store.Transition(task.ID, taskstore.Status(env.Payload.Status),
			taskstore.TransitionOptions{Agent: env.FromAgent, Reason: "status.update"})
		if err != nil {
			return Result{}, fmt.Errorf("protocol: transition: %w", err)
		}
		r.emit("task.status_updated", env.FromAgent, task.ID, map[string]any{"status": string(updated.Status)})
		return Result{Accepted: true, TaskID: task.ID, NewStatus: string(updated.Status)}, nil
	}

	entry := renderWorkLogEntry(r.clock(), env.Payload.Progress, env.Payload.Notes, env.Payload.Blockers)
	body := appendWorkLog(task.Body, entry)
	if _, err := r.store.UpdateBody(task.ID, body); err != nil {
		return Result{}, fmt.Errorf("protocol: append work log: %w", err)
	}
	r.emit("task.status_updated", env.FromAgent, task.ID, map[string]any{"progress": env.Payload.Progress})
	return Result{Accepted: true, TaskID: task.ID, NewStatus: string(task.Status)}, nil
}

func renderWorkLogEntry(at time.Time, progress, notes string, blockers []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- %s", at.Format(time.RFC3339))
	if progress != "" {
		fmt.Fprintf(&b, " progress=%s", progress)
	}
	if notes != "" {
		fmt.Fprintf(&b, " notes=%q", notes)
	}
	if len(blockers) > 0 {
		fmt.Fprintf(&b, " blockers=%s", strings.Join(blockers, ","))
	}
	return b.String()
}

// appendWorkLog appends entry as a line under a "## Work Log" heading,
// creating the heading if absent. Work Log lines are never hashed (only
// Instructions/Guidance are), so repeated appends never invalidate the
// content hash.
func appendWorkLog(body, entry string) string {
	const heading = "## Work Log"
	if !strings.Contains(body, heading) {
		if body != "" && !strings.HasSuffix(body, "\n") {
			body += "\n"
		}
		body += "\n" + heading + "\n"
	}
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	return body + entry + "\n"
}

func (r *Router) handleSessionEnd(env Envelope) (Result, error) {
	tasks, err := r.store.List(taskstore.ListFilter{Status: taskstore.StatusInProgress})
	if err != nil {
		return Result{}, fmt.Errorf("protocol: list in-progress: %w", err)
	}

	var reconciled []string
	for _, task := range tasks {
		if task.Lease == nil || task.Lease.Agent != env.FromAgent {
			continue
		}
		result, err := lease.ReadResult(r.store.Root(), task.ID)
		if err != nil {
			return Result{}, fmt.Errorf("protocol: read run result for %s: %w", task.ID, err)
		}
		if result == nil {
			continue // no result yet, skip per spec
		}
		target := r.mapOutcome(task, result.Outcome)
		if _, err := r.store.Transition(task.ID, target, taskstore.TransitionOptions{
			Agent: env.FromAgent, Reason: "session_end",
		}); err != nil {
			return Result{}, fmt.Errorf("protocol: transition %s: %w", task.ID, err)
		}
		r.emit("task.completed", env.FromAgent, task.ID, map[string]any{"outcome": string(result.Outcome)})
		reconciled = append(reconciled, task.ID)
	}

	r.emit("protocol.session_ended", env.FromAgent, "", map[string]any{"reconciled": reconciled})
	return Result{Accepted: true}, nil
}

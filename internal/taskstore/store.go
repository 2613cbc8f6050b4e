package taskstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/d0labs/aof/internal/logging"
)

// companionDirs are created alongside every new task, sibling to its file.
var companionDirs = []string{"inputs", "work", "outputs", "subtasks"}

// allowedEdges is the tools-facing state machine. Edges reachable only
// through the lease manager (blocked->in-progress resume, review->in-progress
// on gate rejection) or through resurrect (deadletter->ready) are handled by
// transitionInternal and intentionally absent here.
var allowedEdges = map[Status]map[Status]bool{
	StatusBacklog:    {StatusReady: true, StatusCancelled: true},
	StatusReady:      {StatusBlocked: true, StatusInProgress: true, StatusDeadletter: true, StatusCancelled: true},
	StatusBlocked:    {StatusReady: true, StatusCancelled: true},
	StatusInProgress: {StatusReview: true, StatusBlocked: true, StatusReady: true, StatusDeadletter: true, StatusCancelled: true},
	StatusReview:     {StatusDone: true, StatusBlocked: true, StatusCancelled: true},
}

// EventSink receives domain events emitted by the store. Nil-safe: a Store
// with no sink configured simply doesn't emit.
type EventSink interface {
	Emit(eventType, actor, taskID string, payload map[string]any)
}

// Store is the filesystem-backed task store for a single project.
type Store struct {
	root    string // <projectRoot>
	project string
	logger  logging.Logger
	sink    EventSink
	clock   func() time.Time

	mu sync.Mutex
}

// Option customizes a new Store.
type Option func(*Store)

// WithLogger attaches a logger; nil is replaced with a no-op logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.logger = logging.OrNop(l) }
}

// WithEventSink attaches an event sink for emitted domain events.
func WithEventSink(sink EventSink) Option {
	return func(s *Store) { s.sink = sink }
}

// WithClock overrides time.Now, for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// New returns a Store rooted at projectRoot for the given project id.
func New(projectRoot, project string, opts ...Option) *Store {
	s := &Store{
		root:    projectRoot,
		project: project,
		logger:  logging.Nop,
		clock:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init creates the eight status directories under <root>/tasks/.
func (s *Store) Init() error {
	for _, status := range Statuses {
		if err := ensureDir(s.statusDir(status)); err != nil {
			return fmt.Errorf("taskstore: init %s: %w", status, err)
		}
	}
	return nil
}

// Root returns the project root this store is rooted at, for sibling
// packages (lease, eventlog) that need to compute paths alongside tasks/.
func (s *Store) Root() string { return s.root }

func (s *Store) statusDir(status Status) string {
	return filepath.Join(s.root, "tasks", string(status))
}

func (s *Store) taskPath(status Status, id string) string {
	return filepath.Join(s.statusDir(status), id+".md")
}

func (s *Store) companionDir(status Status, id string) string {
	return filepath.Join(s.statusDir(status), id)
}

func (s *Store) emit(eventType, actor, taskID string, payload map[string]any) {
	if s.sink == nil {
		return
	}
	s.sink.Emit(eventType, actor, taskID, payload)
}

// CreateOptions holds the fields a caller supplies when creating a task.
type CreateOptions struct {
	Title     string
	Body      string
	Priority  Priority
	Routing   Routing
	DependsOn []string
	ParentID  string
	Labels    []string
	Estimate  *time.Duration
	SLA       *SLA
	Metadata  map[string]any
	CreatedBy string
}

// Create allocates the next task id and writes it atomically into backlog/,
// with empty companion directories alongside it.
func (s *Store) Create(opts CreateOptions) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	priority := opts.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	now := s.clock()
	id, err := nextID(s.root, now)
	if err != nil {
		return nil, err
	}

	if len(opts.DependsOn) > 0 {
		if err := checkNoCycle(id, opts.DependsOn, s.dependsOnLookupLocked); err != nil {
			return nil, err
		}
	}

	task := &Task{
		ID:               id,
		Project:          s.project,
		Title:            opts.Title,
		Priority:         priority,
		Status:           StatusBacklog,
		Routing:          opts.Routing,
		DependsOn:        opts.DependsOn,
		ParentID:         opts.ParentID,
		Labels:           opts.Labels,
		Estimate:         opts.Estimate,
		SLA:              opts.SLA,
		Metadata:         opts.Metadata,
		CreatedAt:        now,
		UpdatedAt:        now,
		LastTransitionAt: now,
		CreatedBy:        opts.CreatedBy,
		Body:             opts.Body,
	}
	task.ContentHash = computeContentHash(task.Body)

	if err := task.Validate(); err != nil {
		return nil, err
	}
	if err := s.writeLocked(task); err != nil {
		return nil, err
	}
	for _, sub := range companionDirs {
		if err := ensureDir(filepath.Join(s.companionDir(task.Status, task.ID), sub)); err != nil {
			return nil, fmt.Errorf("taskstore: create companion dir: %w", err)
		}
	}

	s.logger.Info("created task %s in backlog", task.ID)
	s.emit("task.created", opts.CreatedBy, task.ID, map[string]any{"title": task.Title})
	return task, nil
}

// writeLocked renders and atomically writes task to its current status path.
// Caller must hold s.mu.
func (s *Store) writeLocked(task *Task) error {
	data, err := renderFile(task)
	if err != nil {
		return err
	}
	return atomicWrite(s.taskPath(task.Status, task.ID), data, 0o644)
}

// Get loads a task by exact id, scanning status directories in fixed order.
func (s *Store) Get(id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *Store) getLocked(id string) (*Task, error) {
	for _, status := range Statuses {
		path := s.taskPath(status, id)
		data, err := readFileOrEmpty(path)
		if err != nil {
			return nil, fmt.Errorf("taskstore: read %s: %w", path, err)
		}
		if data == nil {
			continue
		}
		task, err := parseFile(data)
		if err != nil {
			return nil, fmt.Errorf("taskstore: parse %s: %w", path, err)
		}
		return task, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// GetByPrefix resolves a unique id prefix to a task. Returns
// ErrAmbiguousPrefix if more than one task matches.
func (s *Store) GetByPrefix(prefix string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []*Task
	for _, status := range Statuses {
		dir := s.statusDir(status)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("taskstore: scan %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".md" {
				continue
			}
			id := entry.Name()[:len(entry.Name())-len(".md")]
			if !hasPrefix(id, prefix) {
				continue
			}
			task, err := s.getLocked(id)
			if err != nil {
				continue
			}
			matches = append(matches, task)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, prefix)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%w: %s matches %d tasks", ErrAmbiguousPrefix, prefix, len(matches))
	}
}

func hasPrefix(id, prefix string) bool {
	return len(id) >= len(prefix) && id[:len(prefix)] == prefix
}

// ListFilter narrows List results. Zero value matches everything.
type ListFilter struct {
	Status Status
	Agent  string
	Team   string
}

// List returns tasks matching filter across all (or one) status directory.
// Malformed files are skipped and logged rather than failing the whole list.
func (s *Store) List(filter ListFilter) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := Statuses
	if filter.Status != "" {
		statuses = []Status{filter.Status}
	}

	var out []*Task
	for _, status := range statuses {
		dir := s.statusDir(status)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("taskstore: scan %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".md" {
				continue
			}
			id := entry.Name()[:len(entry.Name())-len(".md")]
			task, err := s.getLocked(id)
			if err != nil {
				s.logger.Warn("skipping malformed task file %s: %v", entry.Name(), err)
				s.emit("task.validation.failed", "", id, map[string]any{"error": err.Error()})
				continue
			}
			if filter.Agent != "" && task.Routing.Agent != filter.Agent {
				continue
			}
			if filter.Team != "" && task.Routing.Team != filter.Team {
				continue
			}
			out = append(out, task)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() < out[j].Priority.Rank()
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// dependsOnLookupLocked resolves another task's dependsOn list for cycle
// detection. Caller must hold s.mu. Unknown ids return nil (no edges).
func (s *Store) dependsOnLookupLocked(id string) []string {
	task, err := s.getLocked(id)
	if err != nil {
		return nil
	}
	return task.DependsOn
}

// TransitionOptions customizes a Transition call.
type TransitionOptions struct {
	Reason string
	Agent  string
}

// Transition moves a task to newStatus if the edge is legal, performing the
// two-phase write-then-rename: (1) updated frontmatter written to the old
// path, (2) file renamed into the new status dir, (3) companion dir renamed.
// Self-transition is a no-op. Clears the lease when entering ready, backlog,
// or done.
func (s *Store) Transition(id string, newStatus Status, opts TransitionOptions) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	if task.Status == newStatus {
		return task, nil // idempotent no-op
	}
	if !allowedEdges[task.Status][newStatus] {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, task.Status, newStatus)
	}
	return s.doTransitionLocked(task, newStatus, opts)
}

// transitionInternal performs a transition bypassing allowedEdges, for use
// by the lease manager (blocked/review -> in-progress resume) and the
// failure tracker / resurrect flow (deadletter -> ready). Unexported;
// callers in sibling packages go through ForceTransition instead.
func (s *Store) transitionInternal(id string, newStatus Status, opts TransitionOptions) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	if task.Status == newStatus {
		return task, nil
	}
	return s.doTransitionLocked(task, newStatus, opts)
}

// ForceTransition performs a transition bypassing allowedEdges. Exported for
// sibling packages that own edges outside the tools-facing state machine:
// internal/lease (blocked/review -> in-progress resume) and
// internal/deadletter (deadletter -> ready via resurrect).
func (s *Store) ForceTransition(id string, newStatus Status, opts TransitionOptions) (*Task, error) {
	return s.transitionInternal(id, newStatus, opts)
}

// SetLease overwrites a task's lease field in place without transitioning
// its status, persisting the change atomically. Pass lease=nil to clear it.
func (s *Store) SetLease(id string, lease *Lease) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	task.Lease = lease
	task.UpdatedAt = s.clock()
	if err := s.writeLocked(task); err != nil {
		return nil, err
	}
	return task, nil
}

// SetMeta writes a reserved metadata key on the stored task and persists it.
func (s *Store) SetMeta(id, key string, value any) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	task.SetMeta(key, value)
	task.UpdatedAt = s.clock()
	if err := s.writeLocked(task); err != nil {
		return nil, err
	}
	return task, nil
}

// ClearMeta removes a reserved metadata key and persists the change.
func (s *Store) ClearMeta(id, key string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	task.ClearMeta(key)
	task.UpdatedAt = s.clock()
	if err := s.writeLocked(task); err != nil {
		return nil, err
	}
	return task, nil
}

// Mutate loads task id, applies fn to it, and persists the result without
// transitioning status. For sibling packages (gate) that need to update
// structured fields — gate state, gateHistory, reviewContext — the rest of
// this API doesn't expose dedicated setters for.
func (s *Store) Mutate(id string, fn func(*Task)) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	fn(task)
	task.UpdatedAt = s.clock()
	if err := s.writeLocked(task); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *Store) doTransitionLocked(task *Task, newStatus Status, opts TransitionOptions) (*Task, error) {
	oldStatus := task.Status
	now := s.clock()

	task.Status = newStatus
	task.UpdatedAt = now
	task.LastTransitionAt = now

	if newStatus == StatusReady || newStatus == StatusBacklog || newStatus == StatusDone {
		task.Lease = nil
	}

	if err := task.Validate(); err != nil {
		task.Status = oldStatus
		return nil, err
	}

	oldPath := s.taskPath(oldStatus, task.ID)
	newPath := s.taskPath(newStatus, task.ID)

	data, err := renderFile(task)
	if err != nil {
		return nil, err
	}
	// Phase 1: write updated frontmatter to the old path. If this fails the
	// task is untouched at its original location.
	if err := atomicWrite(oldPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("taskstore: write before transition: %w", err)
	}
	// Phase 2: rename the file into the new status directory.
	if err := ensureDir(s.statusDir(newStatus)); err != nil {
		return nil, err
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return nil, fmt.Errorf("taskstore: rename file %s -> %s: %w", oldPath, newPath, err)
	}
	// Phase 3: rename the companion directory, best-effort if absent.
	oldCompanion := s.companionDir(oldStatus, task.ID)
	newCompanion := s.companionDir(newStatus, task.ID)
	if _, err := os.Stat(oldCompanion); err == nil {
		if err := os.Rename(oldCompanion, newCompanion); err != nil {
			return nil, fmt.Errorf("taskstore: rename companion dir: %w", err)
		}
	}

	s.logger.Info("task %s transitioned %s -> %s", task.ID, oldStatus, newStatus)
	s.emit("task.transitioned", opts.Agent, task.ID, map[string]any{
		"from":   string(oldStatus),
		"to":     string(newStatus),
		"reason": opts.Reason,
	})
	if newStatus == StatusInProgress && opts.Agent != "" {
		s.emit("task.assigned", opts.Agent, task.ID, map[string]any{"agent": opts.Agent})
	}
	return task, nil
}

// UpdatePatch describes an editable subset of a task.
type UpdatePatch struct {
	Title    *string
	Priority *Priority
	Routing  *Routing
}

// Update applies patch to a task, rejecting edits to tasks in a terminal
// status. Emits task.updated with the set of changed fields.
func (s *Store) Update(id string, patch UpdatePatch) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrTerminalTask, task.ID)
	}

	changed := []string{}
	if patch.Title != nil && *patch.Title != task.Title {
		task.Title = *patch.Title
		changed = append(changed, "title")
	}
	if patch.Priority != nil && *patch.Priority != task.Priority {
		task.Priority = *patch.Priority
		changed = append(changed, "priority")
	}
	if patch.Routing != nil {
		task.Routing = *patch.Routing
		changed = append(changed, "routing")
	}
	if len(changed) == 0 {
		return task, nil
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}
	task.UpdatedAt = s.clock()
	if err := s.writeLocked(task); err != nil {
		return nil, err
	}
	s.emit("task.updated", "", task.ID, map[string]any{"fields": changed})
	return task, nil
}

// UpdateBody replaces a task's body and recomputes its content hash.
// Rejected in terminal states.
func (s *Store) UpdateBody(id, body string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	if task.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s", ErrTerminalTask, task.ID)
	}
	task.Body = body
	task.ContentHash = computeContentHash(body)
	task.UpdatedAt = s.clock()
	if err := s.writeLocked(task); err != nil {
		return nil, err
	}
	s.emit("task.updated", "", task.ID, map[string]any{"fields": []string{"body"}})
	return task, nil
}

// Block transitions a task to blocked with reason stored in metadata.
func (s *Store) Block(id, reason, agent string) (*Task, error) {
	s.mu.Lock()
	task, err := s.getLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	task.SetMeta(MetaBlockReason, reason)
	if err := s.writeLocked(task); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	return s.Transition(id, StatusBlocked, TransitionOptions{Reason: reason, Agent: agent})
}

// Unblock transitions a blocked task back to ready, clearing blockReason
// and any retry counters.
func (s *Store) Unblock(id string) (*Task, error) {
	s.mu.Lock()
	task, err := s.getLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	task.ClearMeta(MetaBlockReason)
	task.ClearMeta(MetaDispatchFailures)
	if err := s.writeLocked(task); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	return s.Transition(id, StatusReady, TransitionOptions{Reason: "unblocked"})
}

// Cancel transitions a task to cancelled, clearing its lease. Rejected if
// the task is already done or cancelled.
func (s *Store) Cancel(id, reason string) (*Task, error) {
	s.mu.Lock()
	task, err := s.getLocked(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if task.Status == StatusDone || task.Status == StatusCancelled {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s already %s", ErrTerminalTask, task.ID, task.Status)
	}
	task.SetMeta(MetaCancellationReason, reason)
	task.Lease = nil
	if err := s.writeLocked(task); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	return s.Transition(id, StatusCancelled, TransitionOptions{Reason: reason})
}

// AddDependency adds depID to id's dependsOn after verifying no cycle
// results. Rejects at add time per the DAG invariant.
func (s *Store) AddDependency(id, depID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	for _, d := range task.DependsOn {
		if d == depID {
			return task, nil
		}
	}
	if err := checkNoCycle(id, append(append([]string{}, task.DependsOn...), depID), s.dependsOnLookupLocked); err != nil {
		return nil, err
	}
	task.DependsOn = append(task.DependsOn, depID)
	task.UpdatedAt = s.clock()
	if err := s.writeLocked(task); err != nil {
		return nil, err
	}
	return task, nil
}

// RemoveDependency removes depID from id's dependsOn, if present.
func (s *Store) RemoveDependency(id, depID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	out := task.DependsOn[:0]
	for _, d := range task.DependsOn {
		if d != depID {
			out = append(out, d)
		}
	}
	task.DependsOn = out
	task.UpdatedAt = s.clock()
	if err := s.writeLocked(task); err != nil {
		return nil, err
	}
	return task, nil
}

// LintViolation describes one consistency problem found by Lint.
type LintViolation struct {
	TaskID string
	Kind   string
	Detail string
}

// Lint scans every status directory and reports drift between a task's
// directory location and its frontmatter status, plus any malformed files.
func (s *Store) Lint() ([]LintViolation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var violations []LintViolation
	for _, status := range Statuses {
		dir := s.statusDir(status)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("taskstore: scan %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".md" {
				continue
			}
			id := entry.Name()[:len(entry.Name())-len(".md")]
			data, err := readFileOrEmpty(filepath.Join(dir, entry.Name()))
			if err != nil {
				violations = append(violations, LintViolation{TaskID: id, Kind: "read_error", Detail: err.Error()})
				continue
			}
			task, err := parseFile(data)
			if err != nil {
				violations = append(violations, LintViolation{TaskID: id, Kind: "parse_error", Detail: err.Error()})
				continue
			}
			if task.Status != status {
				violations = append(violations, LintViolation{
					TaskID: id,
					Kind:   "status_drift",
					Detail: fmt.Sprintf("directory=%s frontmatter.status=%s", status, task.Status),
				})
			}
			if task.ContentHash != "" {
				if want := computeContentHash(task.Body); want != task.ContentHash {
					violations = append(violations, LintViolation{
						TaskID: id,
						Kind:   "content_hash_stale",
						Detail: fmt.Sprintf("stored=%s recomputed=%s", task.ContentHash, want),
					})
				}
			}
			if task.HasLease() && status != StatusInProgress && status != StatusBlocked {
				violations = append(violations, LintViolation{
					TaskID: id,
					Kind:   "lease_invariant",
					Detail: fmt.Sprintf("lease held by %s while status=%s", task.Lease.Agent, status),
				})
			}
		}
	}
	return violations, nil
}

// Package taskstore implements the filesystem-backed task store: task state
// is the directory a task's file lives in, transitions are atomic renames,
// and every mutation can be reconstructed from what's on disk.
package taskstore

import "time"

// Status is the lifecycle state of a task. The containing directory under
// tasks/ is always named after the status; frontmatter.status must agree.
type Status string

const (
	StatusBacklog    Status = "backlog"
	StatusReady      Status = "ready"
	StatusInProgress Status = "in-progress"
	StatusBlocked    Status = "blocked"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
	StatusDeadletter Status = "deadletter"
)

// Statuses lists every status directory in fixed scan order, matching the
// order list/getByPrefix must walk so results are deterministic.
var Statuses = []Status{
	StatusBacklog, StatusReady, StatusInProgress, StatusBlocked,
	StatusReview, StatusDone, StatusCancelled, StatusDeadletter,
}

// IsValid reports whether s is one of the eight known statuses.
func (s Status) IsValid() bool {
	for _, candidate := range Statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s admits no further transitions on its own
// (done never transitions; cancelled never transitions; deadletter only via
// the explicit resurrect operation, handled separately by the caller).
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusCancelled, StatusDeadletter:
		return true
	default:
		return false
	}
}

// Priority ranks a task for dispatch ordering.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// priorityRank gives deterministic dispatch ordering: critical first.
var priorityRank = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityNormal:   2,
	PriorityLow:      3,
}

// Rank returns priorityRank[p], defaulting unknown priorities to "normal".
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return priorityRank[PriorityNormal]
}

// Reserved metadata keys. metadata is an open map but the fabric reads and
// writes these keys directly, so collisions with user keys are a lint error.
const (
	MetaDispatchFailures       = "dispatchFailures"
	MetaLastDispatchFailureMsg = "lastDispatchFailureReason"
	MetaLastDispatchFailureAt  = "lastDispatchFailureAt"
	MetaBlockReason            = "blockReason"
	MetaCancellationReason     = "cancellationReason"
	MetaKind                   = "kind"
	MetaReviewRequired         = "reviewRequired"
)

// Routing describes who a task should be assigned to.
type Routing struct {
	Role  string   `yaml:"role,omitempty" json:"role,omitempty"`
	Team  string   `yaml:"team,omitempty" json:"team,omitempty"`
	Agent string   `yaml:"agent,omitempty" json:"agent,omitempty"`
	Tags  []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// Lease is the ephemeral ownership token embedded in a task while it is
// being worked. Present only for in-progress tasks, and for blocked tasks
// the owning agent blocked itself (see DESIGN.md open-question decisions).
type Lease struct {
	Agent             string    `yaml:"agent" json:"agent"`
	AcquiredAt        time.Time `yaml:"acquiredAt" json:"acquiredAt"`
	ExpiresAt         time.Time `yaml:"expiresAt" json:"expiresAt"`
	RenewCount        int       `yaml:"renewCount" json:"renewCount"`
	MaxRenewals       int       `yaml:"maxRenewals" json:"maxRenewals"`
	HeartbeatTTLMs    int64     `yaml:"heartbeatTtlMs" json:"heartbeatTtlMs"`
	WriteRunArtifacts bool      `yaml:"writeRunArtifacts" json:"writeRunArtifacts"`
}

// SLAViolationAction describes what happens when a task overstays in-progress.
type SLAViolationAction string

const (
	SLAActionAlert      SLAViolationAction = "alert"
	SLAActionBlock      SLAViolationAction = "block"
	SLAActionDeadletter SLAViolationAction = "deadletter"
)

// SLA overrides the scheduler's default max in-progress duration for a task.
type SLA struct {
	MaxInProgressMs int64              `yaml:"maxInProgressMs,omitempty" json:"maxInProgressMs,omitempty"`
	OnViolation     SLAViolationAction `yaml:"onViolation,omitempty" json:"onViolation,omitempty"`
}

// GateTransition records one gate the task passed through, for gateHistory.
type GateTransition struct {
	FromGate  string        `yaml:"fromGate" json:"fromGate"`
	ToGate    string        `yaml:"toGate" json:"toGate"`
	Outcome   string        `yaml:"outcome" json:"outcome"`
	Role      string        `yaml:"role,omitempty" json:"role,omitempty"`
	Duration  time.Duration `yaml:"duration,omitempty" json:"duration,omitempty"`
	Timestamp time.Time     `yaml:"timestamp" json:"timestamp"`
}

// GateState is the task's current position in a declared gate workflow.
// Populated and owned by internal/gate; the store only persists it.
type GateState struct {
	Workflow string   `yaml:"workflow" json:"workflow"`
	Current  string   `yaml:"current" json:"current"`
	Gates    []string `yaml:"gates" json:"gates"`

	// EscalatedTo is set by the gate engine when the current gate's timeout
	// elapses with the task still parked there; it names the role the
	// engine escalated to (the gate's escalateTo), not a status change.
	EscalatedTo string `yaml:"escalatedTo,omitempty" json:"escalatedTo,omitempty"`
}

// ReviewContext is populated when a gate rejects with needs_review.
type ReviewContext struct {
	FromGate  string    `yaml:"fromGate" json:"fromGate"`
	FromRole  string    `yaml:"fromRole" json:"fromRole"`
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
	Blockers  []string  `yaml:"blockers,omitempty" json:"blockers,omitempty"`
	Notes     string    `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// Task is the canonical on-disk task record: one YAML-frontmatter file at
// tasks/<status>/<id>.md.
type Task struct {
	ID       string   `yaml:"id" json:"id"`
	Project  string   `yaml:"project" json:"project"`
	Title    string   `yaml:"title" json:"title"`
	Priority Priority `yaml:"priority" json:"priority"`
	Status   Status   `yaml:"status" json:"status"`

	Routing   Routing  `yaml:"routing" json:"routing"`
	DependsOn []string `yaml:"dependsOn,omitempty" json:"dependsOn,omitempty"`
	ParentID  string   `yaml:"parentId,omitempty" json:"parentId,omitempty"`

	// [FULL] supplemented fields, beyond the original data model.
	Labels      []string       `yaml:"labels,omitempty" json:"labels,omitempty"`
	Estimate    *time.Duration `yaml:"estimate,omitempty" json:"estimate,omitempty"`
	Attachments []string       `yaml:"attachments,omitempty" json:"attachments,omitempty"`

	Lease *Lease `yaml:"lease,omitempty" json:"lease,omitempty"`

	Metadata map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`

	SLA *SLA `yaml:"sla,omitempty" json:"sla,omitempty"`

	Gate          *GateState       `yaml:"gate,omitempty" json:"gate,omitempty"`
	GateHistory   []GateTransition `yaml:"gateHistory,omitempty" json:"gateHistory,omitempty"`
	ReviewContext *ReviewContext   `yaml:"reviewContext,omitempty" json:"reviewContext,omitempty"`

	CreatedAt        time.Time `yaml:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time `yaml:"updatedAt" json:"updatedAt"`
	LastTransitionAt time.Time `yaml:"lastTransitionAt" json:"lastTransitionAt"`
	CreatedBy        string    `yaml:"createdBy,omitempty" json:"createdBy,omitempty"`
	ContentHash      string    `yaml:"contentHash,omitempty" json:"contentHash,omitempty"`

	// Body is the freeform markdown after the frontmatter fence. Never
	// serialized into the frontmatter itself.
	Body string `yaml:"-" json:"-"`
}

// HasLease reports whether the task currently carries an active lease.
func (t *Task) HasLease() bool {
	return t.Lease != nil
}

// MetaString reads a string-valued reserved metadata key, defaulting to "".
func (t *Task) MetaString(key string) string {
	if t.Metadata == nil {
		return ""
	}
	v, ok := t.Metadata[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// MetaInt reads an int-valued reserved metadata key, defaulting to 0.
// Accounts for YAML/JSON round-trips that decode integers as float64.
func (t *Task) MetaInt(key string) int {
	if t.Metadata == nil {
		return 0
	}
	switch v := t.Metadata[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// SetMeta writes a reserved metadata key, allocating the map if needed.
func (t *Task) SetMeta(key string, value any) {
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
	t.Metadata[key] = value
}

// ClearMeta removes a reserved metadata key if present.
func (t *Task) ClearMeta(key string) {
	if t.Metadata == nil {
		return
	}
	delete(t.Metadata, key)
}

// Package protocol routes inbound agent messages (completion reports, status
// updates, session-end notifications) into task store mutations.
package protocol

import "time"

// MessageType is the envelope's type discriminator.
type MessageType string

const (
	MessageCompletionReport MessageType = "completion.report"
	MessageStatusUpdate     MessageType = "status.update"
	MessageSessionEnd       MessageType = "session_end"
)

// Envelope is the wire shape every inbound agent message arrives as.
// Unknown payload keys are accepted, not rejected, so future fields don't
// break older routers (mirrors metadata's open-map convention).
type Envelope struct {
	Protocol  string      `json:"protocol"`
	Version   int         `json:"version"`
	ProjectID string      `json:"projectId"`
	Type      MessageType `json:"type"`
	TaskID    string      `json:"taskId,omitempty"`
	FromAgent string      `json:"fromAgent"`
	ToAgent   string      `json:"toAgent,omitempty"`
	SentAt    time.Time   `json:"sentAt"`
	Payload   Payload     `json:"payload"`
}

// Payload is the union of every message type's fields. Only the fields
// relevant to Envelope.Type are populated by a well-formed caller; the
// router reads only the ones its handler needs.
type Payload struct {
	// completion.report
	Outcome      string      `json:"outcome,omitempty"`
	SummaryRef   string      `json:"summaryRef,omitempty"`
	HandoffRef   string      `json:"handoffRef,omitempty"`
	Deliverables []string    `json:"deliverables,omitempty"`
	Tests        *TestCounts `json:"tests,omitempty"`
	Blockers     []string    `json:"blockers,omitempty"`
	Notes        string      `json:"notes,omitempty"`

	// status.update
	Status   string `json:"status,omitempty"`
	Progress string `json:"progress,omitempty"`
}

// TestCounts mirrors lease.TestCounts on the wire.
type TestCounts struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// Result is what Handle returns for a processed envelope.
type Result struct {
	Accepted  bool
	TaskID    string
	NewStatus string
	Rejected  string // reason, if Accepted is false
	Warnings  []string
}

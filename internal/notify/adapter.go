// Package notify routes domain events to notification channels by rule,
// with a short dedup window to suppress duplicate sends for transitions
// logged twice (once via the store hook, once by a direct caller).
package notify

import "context"

// Notification is what an Adapter actually sends, derived from a raw event.
type Notification struct {
	EventType string
	TaskID    string
	Title     string
	Body      string
	Payload   map[string]any
}

// Adapter delivers a Notification to one channel.
type Adapter interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

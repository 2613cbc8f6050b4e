// Package sla detects in-progress SLA violations and rate-limits repeated
// alerts for the same task with a cooldown anchored to the first alert.
package sla

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/d0labs/aof/internal/taskstore"
)

// DefaultMaxInProgressMs is used for tasks without their own sla.maxInProgressMs.
const DefaultMaxInProgressMs = int64(4 * time.Hour / time.Millisecond)

// DefaultCooldown is how long a task's first alert suppresses repeats.
const DefaultCooldown = time.Hour

const cooldownCacheSize = 4096

// Violation is one SLA breach found by Check.
type Violation struct {
	TaskID      string
	Age         time.Duration
	Threshold   time.Duration
	RateLimited bool
}

// EventSink receives sla.violation events.
type EventSink interface {
	Emit(eventType, actor, taskID string, payload map[string]any)
}

// Checker scans in-progress tasks for SLA breaches.
type Checker struct {
	store        *taskstore.Store
	defaultMaxMs int64
	cooldown     time.Duration
	alerted      *expirable.LRU[string, time.Time]
	sink         EventSink
	clock        func() time.Time
}

// Option customizes a new Checker.
type Option func(*Checker)

func WithDefaultMaxInProgressMs(ms int64) Option { return func(c *Checker) { c.defaultMaxMs = ms } }
func WithCooldown(d time.Duration) Option        { return func(c *Checker) { c.cooldown = d } }
func WithEventSink(sink EventSink) Option        { return func(c *Checker) { c.sink = sink } }
func WithClock(clock func() time.Time) Option {
	return func(c *Checker) { c.clock = clock }
}

// New returns a Checker operating over store.
func New(store *taskstore.Store, opts ...Option) *Checker {
	c := &Checker{
		store:        store,
		defaultMaxMs: DefaultMaxInProgressMs,
		cooldown:     DefaultCooldown,
		clock:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	c.alerted = expirable.NewLRU[string, time.Time](cooldownCacheSize, nil, c.cooldown)
	return c
}

// Check scans every in-progress task and returns a Violation for each one
// whose age exceeds its effective maxInProgressMs. The cooldown is anchored
// to the timestamp of the first alert for a task, not a sliding window: a
// task re-checked within the cooldown reports RateLimited=true rather than
// being silently dropped, so callers can still act on sla.onViolation
// (block/deadletter) while only the log emission is suppressed.
func (c *Checker) Check() ([]Violation, error) {
	now := c.clock()
	tasks, err := c.store.List(taskstore.ListFilter{Status: taskstore.StatusInProgress})
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, task := range tasks {
		threshold := c.defaultMaxMs
		if task.SLA != nil && task.SLA.MaxInProgressMs > 0 {
			threshold = task.SLA.MaxInProgressMs
		}
		age := now.Sub(task.UpdatedAt)
		if age <= time.Duration(threshold)*time.Millisecond {
			continue
		}

		rateLimited := false
		if firstAlert, seen := c.alerted.Get(task.ID); seen {
			rateLimited = true
			_ = firstAlert
		} else {
			c.alerted.Add(task.ID, now)
			c.emit("sla.violation", task.ID, map[string]any{
				"ageMs":       age.Milliseconds(),
				"thresholdMs": threshold,
			})
		}

		violations = append(violations, Violation{
			TaskID:      task.ID,
			Age:         age,
			Threshold:   time.Duration(threshold) * time.Millisecond,
			RateLimited: rateLimited,
		})
	}
	return violations, nil
}

func (c *Checker) emit(eventType, taskID string, payload map[string]any) {
	if c.sink == nil {
		return
	}
	c.sink.Emit(eventType, "", taskID, payload)
}

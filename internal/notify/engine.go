package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/d0labs/aof/internal/logging"
)

// defaultDedupWindow suppresses duplicate sends for the same (eventType,
// taskID) pair seen twice in quick succession — once via the store hook,
// once by a direct caller, per the same underlying transition.
const defaultDedupWindow = 5 * time.Second

const dedupCacheSize = 4096

// Rule routes events matching EventTypePrefix (and, optionally, every
// key/value in PayloadMatch) to the named adapters.
type Rule struct {
	EventTypePrefix string
	PayloadMatch    map[string]any
	Adapters        []string
	Title           func(eventType, taskID string, payload map[string]any) string
	Body            func(eventType, taskID string, payload map[string]any) string
}

func (r Rule) matches(eventType string, payload map[string]any) bool {
	if !strings.HasPrefix(eventType, r.EventTypePrefix) {
		return false
	}
	for k, want := range r.PayloadMatch {
		if got, ok := payload[k]; !ok || got != want {
			return false
		}
	}
	return true
}

// Engine matches events against rules, first-match-wins, and sends to the
// matched rule's adapters, deduplicating repeats of the same (eventType,
// taskID) within a short window.
type Engine struct {
	adapters    map[string]Adapter
	rules       []Rule
	defaultRule *Rule
	dedup       *expirable.LRU[string, struct{}]
	logger      logging.Logger
}

// Option customizes a new Engine.
type Option func(*Engine)

func WithLogger(l logging.Logger) Option { return func(e *Engine) { e.logger = logging.OrNop(l) } }

// WithDedupWindow overrides the default dedup suppression window.
func WithDedupWindow(window time.Duration) Option {
	return func(e *Engine) { e.dedup = expirable.NewLRU[string, struct{}](dedupCacheSize, nil, window) }
}

// WithDefaultRule sets the rule used when no configured rule matches an
// event. Its EventTypePrefix and PayloadMatch are ignored; only Adapters,
// Title, and Body apply.
func WithDefaultRule(rule Rule) Option {
	return func(e *Engine) { e.defaultRule = &rule }
}

// New returns an Engine with the given adapters (by name) and rules.
func New(adapters []Adapter, rules []Rule, opts ...Option) *Engine {
	byName := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	e := &Engine{
		adapters: byName,
		rules:    rules,
		dedup:    expirable.NewLRU[string, struct{}](dedupCacheSize, nil, defaultDedupWindow),
		logger:   logging.Nop,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit implements taskstore.EventSink (and the equivalent sink interfaces in
// lease/deadletter/gate/scheduler), so Engine can be wired directly as the
// event logger's onEvent callback.
func (e *Engine) Emit(eventType, actor, taskID string, payload map[string]any) {
	e.HandleEvent(context.Background(), eventType, actor, taskID, payload)
}

// HandleEvent is the engine's single ingress: match rules, dedup, fan out.
func (e *Engine) HandleEvent(ctx context.Context, eventType, actor, taskID string, payload map[string]any) {
	key := eventType + "|" + taskID
	if _, seen := e.dedup.Get(key); seen {
		e.logger.Debug("notify: suppressed duplicate %s for %s", eventType, taskID)
		return
	}

	var rule *Rule
	for i := range e.rules {
		if e.rules[i].matches(eventType, payload) {
			rule = &e.rules[i]
			break
		}
	}
	if rule == nil {
		rule = e.defaultRule
	}
	if rule == nil {
		return
	}
	e.dedup.Add(key, struct{}{})

	n := Notification{
		EventType: eventType,
		TaskID:    taskID,
		Title:     renderTitle(*rule, eventType, taskID, payload),
		Body:      renderBody(*rule, eventType, taskID, payload),
		Payload:   payload,
	}
	for _, name := range rule.Adapters {
		adapter, ok := e.adapters[name]
		if !ok {
			e.logger.Warn("notify: rule references unknown adapter %q", name)
			continue
		}
		if err := adapter.Send(ctx, n); err != nil {
			e.logger.Error("notify: adapter %q failed to send %s: %v", name, eventType, err)
		}
	}
}

func renderTitle(rule Rule, eventType, taskID string, payload map[string]any) string {
	if rule.Title != nil {
		return rule.Title(eventType, taskID, payload)
	}
	return fmt.Sprintf("%s — %s", eventType, taskID)
}

func renderBody(rule Rule, eventType, taskID string, payload map[string]any) string {
	if rule.Body != nil {
		return rule.Body(eventType, taskID, payload)
	}
	return fmt.Sprintf("%v", payload)
}

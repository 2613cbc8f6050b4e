package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sony/gobreaker"

	"github.com/d0labs/aof/internal/deadletter"
	"github.com/d0labs/aof/internal/executor"
	"github.com/d0labs/aof/internal/gate"
	"github.com/d0labs/aof/internal/lease"
	"github.com/d0labs/aof/internal/logging"
	"github.com/d0labs/aof/internal/orgchart"
	"github.com/d0labs/aof/internal/project"
	"github.com/d0labs/aof/internal/sla"
	"github.com/d0labs/aof/internal/taskstore"
)

// EventSink receives scheduler.* and action.* events.
type EventSink interface {
	Emit(eventType, actor, taskID string, payload map[string]any)
}

// MetricsSink receives scheduler observations. Nil-safe.
type MetricsSink interface {
	ObserveSchedulerLoop(d time.Duration)
	IncSchedulerPollFailures()
	IncDelegationEvents()
	SetSchedulerUp(up bool)
}

// Config tunes one scheduler's poll behavior. Zero value is usable; New
// fills in every default.
type Config struct {
	PollIntervalMs          int64
	PollTimeoutMs           int64
	MaxConcurrentDispatches int
	LeaseTTLMs              int64
	HeartbeatTTLMs          int64
	DryRun                  bool
	CascadeBlocks           bool

	// CircuitBreakerFailures is consecutive dispatch failures (per agent)
	// before the breaker opens. CircuitBreakerCooldown is how long it stays
	// open before a half-open probe is allowed.
	CircuitBreakerFailures uint32
	CircuitBreakerCooldown time.Duration
}

const (
	DefaultPollIntervalMs          = int64(30_000)
	DefaultPollTimeoutMs           = int64(30_000)
	DefaultMaxConcurrentDispatches = 3
	DefaultLeaseTTLMs              = int64(10 * 60 * 1000)
	DefaultHeartbeatTTLMs          = int64(5 * 60 * 1000)
	DefaultCircuitBreakerFailures  = uint32(3)
	DefaultCircuitBreakerCooldown  = 30 * time.Second
)

func (c Config) withDefaults() Config {
	if c.PollIntervalMs <= 0 {
		c.PollIntervalMs = DefaultPollIntervalMs
	}
	if c.PollTimeoutMs <= 0 {
		c.PollTimeoutMs = DefaultPollTimeoutMs
	}
	if c.MaxConcurrentDispatches <= 0 {
		c.MaxConcurrentDispatches = DefaultMaxConcurrentDispatches
	}
	if c.LeaseTTLMs <= 0 {
		c.LeaseTTLMs = DefaultLeaseTTLMs
	}
	if c.HeartbeatTTLMs <= 0 {
		c.HeartbeatTTLMs = DefaultHeartbeatTTLMs
	}
	if c.CircuitBreakerFailures == 0 {
		c.CircuitBreakerFailures = DefaultCircuitBreakerFailures
	}
	if c.CircuitBreakerCooldown <= 0 {
		c.CircuitBreakerCooldown = DefaultCircuitBreakerCooldown
	}
	return c
}

// Scheduler runs the deterministic poll cycle described by the fabric's
// dispatch rules: one poll at a time, serialized behind a cron tick or an
// explicit PokeNow, never overlapping.
type Scheduler struct {
	cfg Config

	store      *taskstore.Store
	leases     *lease.Manager
	deadletter *deadletter.Tracker
	sla        *sla.Checker
	gate       *gate.Engine // nilable: gate escalation check is a no-op without it
	session    executor.Session
	project    *project.Manifest
	org        *orgchart.Chart // nilable: murmur is a no-op without an org chart

	sink    EventSink
	metrics MetricsSink
	logger  logging.Logger
	clock   func() time.Time

	mu        sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker
	teamState map[string]*teamCounters

	cron     *cron.Cron
	poke     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	polling  sync.Mutex // held for the duration of one runPoll, so ticks and pokes never overlap
}

// Option customizes a new Scheduler.
type Option func(*Scheduler)

func WithDeadletter(tr *deadletter.Tracker) Option { return func(s *Scheduler) { s.deadletter = tr } }
func WithSLAChecker(c *sla.Checker) Option         { return func(s *Scheduler) { s.sla = c } }
func WithGateEngine(g *gate.Engine) Option         { return func(s *Scheduler) { s.gate = g } }
func WithProject(p *project.Manifest) Option       { return func(s *Scheduler) { s.project = p } }
func WithOrgChart(c *orgchart.Chart) Option        { return func(s *Scheduler) { s.org = c } }
func WithEventSink(sink EventSink) Option          { return func(s *Scheduler) { s.sink = sink } }
func WithMetrics(m MetricsSink) Option             { return func(s *Scheduler) { s.metrics = m } }
func WithLogger(l logging.Logger) Option           { return func(s *Scheduler) { s.logger = logging.OrNop(l) } }
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) { s.clock = clock }
}

// New returns a Scheduler over store, dispatching via session and tracking
// leases via leases. Deadletter, SLA, project, and org chart wiring are
// optional — a Scheduler with none of them still runs steps 1 through 5 and
// 8 of the poll cycle.
func New(store *taskstore.Store, leases *lease.Manager, session executor.Session, cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:      cfg.withDefaults(),
		store:    store,
		leases:   leases,
		session:  session,
		logger:   logging.Nop,
		clock:    func() time.Time { return time.Now().UTC() },
		breakers: map[string]*gobreaker.CircuitBreaker{},
		poke:     make(chan struct{}, 1),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) emit(eventType, actor, taskID string, payload map[string]any) {
	if s.sink == nil {
		return
	}
	s.sink.Emit(eventType, actor, taskID, payload)
}

// breakerFor returns (creating if needed) the circuit breaker guarding
// dispatches to agent.
func (s *Scheduler) breakerFor(agent string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.breakers[agent]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "dispatch:" + agent,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.cfg.CircuitBreakerFailures
		},
		Timeout: s.cfg.CircuitBreakerCooldown,
	})
	s.breakers[agent] = b
	return b
}

// PokeNow requests an extra poll as soon as the current one (if any)
// finishes. Non-blocking: a poke already queued while a poll is running
// collapses with this one into a single extra poll.
func (s *Scheduler) PokeNow() {
	select {
	case s.poke <- struct{}{}:
	default:
	}
}

// Start runs the cron-driven poll loop until ctx is cancelled or Stop is
// called. The cron schedule is `@every <PollIntervalMs>ms` wrapped in
// cron.SkipIfStillRunning so a slow poll never overlaps the next tick;
// PokeNow feeds the same serialized queue from outside the ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %dms", s.cfg.PollIntervalMs)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(spec, func() { s.runPoll(ctx) }); err != nil {
		return fmt.Errorf("scheduler: schedule poll: %w", err)
	}
	s.cron = c
	c.Start()
	if s.metrics != nil {
		s.metrics.SetSchedulerUp(true)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopped:
				return
			case <-s.poke:
				s.runPoll(ctx)
			}
		}
	}()
	return nil
}

func (s *Scheduler) runPoll(ctx context.Context) {
	s.polling.Lock()
	defer s.polling.Unlock()

	result, err := s.Poll(ctx)
	if err != nil {
		s.logger.Error("poll failed: %v", err)
		if s.metrics != nil {
			s.metrics.IncSchedulerPollFailures()
		}
		return
	}
	s.logger.Info("poll: planned=%d, %d dispatched, %d failed, dryRun=%v reason=%q",
		result.ActionsPlanned, result.ActionsExecuted, result.ActionsFailed, result.DryRun, result.Reason)
}

// Stop halts the cron ticker and the poke loop, without waiting for an
// in-flight poll to finish. Use Drain to wait with a deadline.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		if s.cron != nil {
			s.cron.Stop()
		}
		if s.metrics != nil {
			s.metrics.SetSchedulerUp(false)
		}
		close(s.stopped)
	})
}

// Drain stops new polls from starting and waits for any in-flight poll to
// finish, bounded by ctx. Returns ctx.Err() if the deadline elapses first.
func (s *Scheduler) Drain(ctx context.Context) error {
	var cronDone context.Context
	s.stopOnce.Do(func() {
		if s.cron != nil {
			cronDone = s.cron.Stop()
		}
		if s.metrics != nil {
			s.metrics.SetSchedulerUp(false)
		}
		close(s.stopped)
	})
	idle := make(chan struct{})
	go func() {
		if cronDone != nil {
			<-cronDone.Done()
		}
		s.polling.Lock()
		s.polling.Unlock()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler: drain deadline exceeded waiting for in-flight poll")
		return ctx.Err()
	}
}

// sortReadyTasks orders ready tasks for dispatch planning: priority
// (critical > high > normal > low) then id ascending.
func sortReadyTasks(tasks []*taskstore.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		ri, rj := tasks[i].Priority.Rank(), tasks[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return tasks[i].ID < tasks[j].ID
	})
}

// Package config loads AOF's runtime configuration by layering defaults,
// an optional YAML file, and AOF_-prefixed environment variables, tracking
// where each field's value ultimately came from.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/d0labs/aof/internal/deadletter"
	"github.com/d0labs/aof/internal/lease"
	"github.com/d0labs/aof/internal/scheduler"
	"github.com/d0labs/aof/internal/service"
	"github.com/d0labs/aof/internal/sla"
)

// ValueSource describes where a configuration value originated.
type ValueSource string

const (
	SourceDefault ValueSource = "default"
	SourceFile    ValueSource = "file"
	SourceEnv     ValueSource = "environment"
	SourceFlag    ValueSource = "flag"
)

// Defaults per spec §6: dispatch concurrency cap, heartbeat and lease
// defaults, drain/poll timeouts.
const (
	DefaultLeaseTTLMs              = int64(600_000)
	DefaultHeartbeatTTLMs          = int64(300_000)
	DefaultMaxRenewals             = 3
	DefaultMaxConcurrentDispatches = 3
	DefaultDeadletterThreshold     = 3
	DefaultDrainTimeoutMs          = int64(10_000)
	DefaultPollIntervalMs          = int64(30_000)
	DefaultPollTimeoutMs           = int64(30_000)
	DefaultSLAMaxInProgressMs      = int64(time.Hour / time.Millisecond)
	DefaultSLACooldownMs           = int64(time.Hour / time.Millisecond)
	DefaultMetricsAddr             = ":9090"
	DefaultLogLevel                = "info"
)

// Config is AOF's full runtime configuration: vault location, scheduler
// tuning, lease/deadletter/SLA defaults, observability wiring.
type Config struct {
	VaultRoot       string `yaml:"vaultRoot"`
	SingleProjectID string `yaml:"singleProjectId"`

	PollIntervalMs          int64 `yaml:"pollIntervalMs"`
	PollTimeoutMs           int64 `yaml:"pollTimeoutMs"`
	MaxConcurrentDispatches int   `yaml:"maxConcurrentDispatches"`
	LeaseTTLMs              int64 `yaml:"leaseTtlMs"`
	HeartbeatTTLMs          int64 `yaml:"heartbeatTtlMs"`
	MaxRenewals             int   `yaml:"maxRenewals"`
	DeadletterThreshold     int   `yaml:"deadletterThreshold"`
	DrainTimeoutMs          int64 `yaml:"drainTimeoutMs"`
	DryRun                  bool  `yaml:"dryRun"`
	CascadeBlocks           bool  `yaml:"cascadeBlocks"`

	SLAMaxInProgressMs int64 `yaml:"slaMaxInProgressMs"`
	SLACooldownMs      int64 `yaml:"slaCooldownMs"`

	MetricsAddr string `yaml:"metricsAddr"`
	LogLevel    string `yaml:"logLevel"`
	LogJSON     bool   `yaml:"logJson"`
}

// Metadata records provenance for loaded fields. Fields never set by the
// caller default to SourceDefault.
type Metadata struct {
	sources map[string]ValueSource
}

func (m Metadata) Source(field string) ValueSource {
	if m.sources == nil {
		return SourceDefault
	}
	if src, ok := m.sources[field]; ok {
		return src
	}
	return SourceDefault
}

// EnvLookup resolves the value for an environment variable, overridable
// for tests.
type EnvLookup func(string) (string, bool)

// Option customizes Load.
type Option func(*loadOptions)

type loadOptions struct {
	envLookup  EnvLookup
	readFile   func(string) ([]byte, error)
	configPath string
}

func WithEnv(lookup EnvLookup) Option { return func(o *loadOptions) { o.envLookup = lookup } }
func WithConfigPath(path string) Option {
	return func(o *loadOptions) { o.configPath = path }
}
func WithFileReader(reader func(string) ([]byte, error)) Option {
	return func(o *loadOptions) { o.readFile = reader }
}

// DefaultEnvLookup delegates to os.LookupEnv.
func DefaultEnvLookup(key string) (string, bool) { return os.LookupEnv(key) }

// Load builds Config by merging defaults, an optional YAML file, then
// AOF_-prefixed environment variables (highest precedence of the two).
func Load(opts ...Option) (Config, Metadata, error) {
	options := loadOptions{envLookup: DefaultEnvLookup, readFile: os.ReadFile}
	for _, opt := range opts {
		opt(&options)
	}

	meta := Metadata{sources: map[string]ValueSource{}}
	cfg := Config{
		PollIntervalMs:          DefaultPollIntervalMs,
		PollTimeoutMs:           DefaultPollTimeoutMs,
		MaxConcurrentDispatches: DefaultMaxConcurrentDispatches,
		LeaseTTLMs:              DefaultLeaseTTLMs,
		HeartbeatTTLMs:          DefaultHeartbeatTTLMs,
		MaxRenewals:             DefaultMaxRenewals,
		DeadletterThreshold:     DefaultDeadletterThreshold,
		DrainTimeoutMs:          DefaultDrainTimeoutMs,
		SLAMaxInProgressMs:      DefaultSLAMaxInProgressMs,
		SLACooldownMs:           DefaultSLACooldownMs,
		MetricsAddr:             DefaultMetricsAddr,
		LogLevel:                DefaultLogLevel,
	}

	if err := applyFile(&cfg, &meta, options); err != nil {
		return Config{}, Metadata{}, err
	}
	if err := applyEnv(&cfg, &meta, options); err != nil {
		return Config{}, Metadata{}, err
	}
	return cfg, meta, nil
}

func applyFile(cfg *Config, meta *Metadata, opts loadOptions) error {
	path := strings.TrimSpace(opts.configPath)
	if path == "" {
		return nil
	}
	data, err := opts.readFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	if parsed.VaultRoot != "" {
		cfg.VaultRoot = parsed.VaultRoot
		meta.sources["vaultRoot"] = SourceFile
	}
	if parsed.SingleProjectID != "" {
		cfg.SingleProjectID = parsed.SingleProjectID
		meta.sources["singleProjectId"] = SourceFile
	}
	if parsed.PollIntervalMs != 0 {
		cfg.PollIntervalMs = parsed.PollIntervalMs
		meta.sources["pollIntervalMs"] = SourceFile
	}
	if parsed.PollTimeoutMs != 0 {
		cfg.PollTimeoutMs = parsed.PollTimeoutMs
		meta.sources["pollTimeoutMs"] = SourceFile
	}
	if parsed.MaxConcurrentDispatches != 0 {
		cfg.MaxConcurrentDispatches = parsed.MaxConcurrentDispatches
		meta.sources["maxConcurrentDispatches"] = SourceFile
	}
	if parsed.LeaseTTLMs != 0 {
		cfg.LeaseTTLMs = parsed.LeaseTTLMs
		meta.sources["leaseTtlMs"] = SourceFile
	}
	if parsed.HeartbeatTTLMs != 0 {
		cfg.HeartbeatTTLMs = parsed.HeartbeatTTLMs
		meta.sources["heartbeatTtlMs"] = SourceFile
	}
	if parsed.MaxRenewals != 0 {
		cfg.MaxRenewals = parsed.MaxRenewals
		meta.sources["maxRenewals"] = SourceFile
	}
	if parsed.DeadletterThreshold != 0 {
		cfg.DeadletterThreshold = parsed.DeadletterThreshold
		meta.sources["deadletterThreshold"] = SourceFile
	}
	if parsed.DrainTimeoutMs != 0 {
		cfg.DrainTimeoutMs = parsed.DrainTimeoutMs
		meta.sources["drainTimeoutMs"] = SourceFile
	}
	if parsed.DryRun {
		cfg.DryRun = true
		meta.sources["dryRun"] = SourceFile
	}
	if parsed.CascadeBlocks {
		cfg.CascadeBlocks = true
		meta.sources["cascadeBlocks"] = SourceFile
	}
	if parsed.SLAMaxInProgressMs != 0 {
		cfg.SLAMaxInProgressMs = parsed.SLAMaxInProgressMs
		meta.sources["slaMaxInProgressMs"] = SourceFile
	}
	if parsed.SLACooldownMs != 0 {
		cfg.SLACooldownMs = parsed.SLACooldownMs
		meta.sources["slaCooldownMs"] = SourceFile
	}
	if parsed.MetricsAddr != "" {
		cfg.MetricsAddr = parsed.MetricsAddr
		meta.sources["metricsAddr"] = SourceFile
	}
	if parsed.LogLevel != "" {
		cfg.LogLevel = parsed.LogLevel
		meta.sources["logLevel"] = SourceFile
	}
	if parsed.LogJSON {
		cfg.LogJSON = true
		meta.sources["logJson"] = SourceFile
	}
	return nil
}

func applyEnv(cfg *Config, meta *Metadata, opts loadOptions) error {
	lookup := opts.envLookup
	if lookup == nil {
		lookup = DefaultEnvLookup
	}

	str := func(field, env string, dst *string) {
		if v, ok := lookup(env); ok && v != "" {
			*dst = v
			meta.sources[field] = SourceEnv
		}
	}
	boolean := func(field, env string, dst *bool) error {
		v, ok := lookup(env)
		if !ok || v == "" {
			return nil
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: parse %s: %w", env, err)
		}
		*dst = parsed
		meta.sources[field] = SourceEnv
		return nil
	}
	integer := func(field, env string, dst *int) error {
		v, ok := lookup(env)
		if !ok || v == "" {
			return nil
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: parse %s: %w", env, err)
		}
		*dst = parsed
		meta.sources[field] = SourceEnv
		return nil
	}
	int64ms := func(field, env string, dst *int64) error {
		v, ok := lookup(env)
		if !ok || v == "" {
			return nil
		}
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: parse %s: %w", env, err)
		}
		*dst = parsed
		meta.sources[field] = SourceEnv
		return nil
	}

	str("vaultRoot", "AOF_VAULT_ROOT", &cfg.VaultRoot)
	str("singleProjectId", "AOF_SINGLE_PROJECT_ID", &cfg.SingleProjectID)
	str("metricsAddr", "AOF_METRICS_ADDR", &cfg.MetricsAddr)
	str("logLevel", "AOF_LOG_LEVEL", &cfg.LogLevel)

	if err := int64ms("pollIntervalMs", "AOF_POLL_INTERVAL_MS", &cfg.PollIntervalMs); err != nil {
		return err
	}
	if err := int64ms("pollTimeoutMs", "AOF_POLL_TIMEOUT_MS", &cfg.PollTimeoutMs); err != nil {
		return err
	}
	if err := integer("maxConcurrentDispatches", "AOF_MAX_CONCURRENT_DISPATCHES", &cfg.MaxConcurrentDispatches); err != nil {
		return err
	}
	if err := int64ms("leaseTtlMs", "AOF_LEASE_TTL_MS", &cfg.LeaseTTLMs); err != nil {
		return err
	}
	if err := int64ms("heartbeatTtlMs", "AOF_HEARTBEAT_TTL_MS", &cfg.HeartbeatTTLMs); err != nil {
		return err
	}
	if err := integer("maxRenewals", "AOF_MAX_RENEWALS", &cfg.MaxRenewals); err != nil {
		return err
	}
	if err := integer("deadletterThreshold", "AOF_DEADLETTER_THRESHOLD", &cfg.DeadletterThreshold); err != nil {
		return err
	}
	if err := int64ms("drainTimeoutMs", "AOF_DRAIN_TIMEOUT_MS", &cfg.DrainTimeoutMs); err != nil {
		return err
	}
	if err := boolean("dryRun", "AOF_DRY_RUN", &cfg.DryRun); err != nil {
		return err
	}
	if err := boolean("cascadeBlocks", "AOF_CASCADE_BLOCKS", &cfg.CascadeBlocks); err != nil {
		return err
	}
	if err := int64ms("slaMaxInProgressMs", "AOF_SLA_MAX_IN_PROGRESS_MS", &cfg.SLAMaxInProgressMs); err != nil {
		return err
	}
	if err := int64ms("slaCooldownMs", "AOF_SLA_COOLDOWN_MS", &cfg.SLACooldownMs); err != nil {
		return err
	}
	if err := boolean("logJson", "AOF_LOG_JSON", &cfg.LogJSON); err != nil {
		return err
	}
	return nil
}

// SchedulerConfig projects Config into a scheduler.Config.
func (c Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		PollIntervalMs:          c.PollIntervalMs,
		PollTimeoutMs:           c.PollTimeoutMs,
		MaxConcurrentDispatches: c.MaxConcurrentDispatches,
		LeaseTTLMs:              c.LeaseTTLMs,
		HeartbeatTTLMs:          c.HeartbeatTTLMs,
		DryRun:                  c.DryRun,
		CascadeBlocks:           c.CascadeBlocks,
	}
}

// ServiceConfig projects Config into a service.Config rooted at vaultRoot.
func (c Config) ServiceConfig() service.Config {
	return service.Config{
		VaultRoot:       c.VaultRoot,
		PollIntervalMs:  c.PollIntervalMs,
		DrainTimeout:    time.Duration(c.DrainTimeoutMs) * time.Millisecond,
		SchedulerConfig: c.SchedulerConfig(),
		SingleProjectID: c.SingleProjectID,
	}
}

// DeadletterOptions returns the deadletter.Option that applies this
// config's threshold.
func (c Config) DeadletterOptions() []deadletter.Option {
	return []deadletter.Option{deadletter.WithThreshold(c.DeadletterThreshold)}
}

// LeaseAcquireDefaults returns the lease.AcquireOptions matching this
// config, for callers that acquire leases outside the scheduler's own
// dispatch loop (e.g. the tools layer, tests).
func (c Config) LeaseAcquireDefaults() lease.AcquireOptions {
	return lease.AcquireOptions{
		TTLMs:          c.LeaseTTLMs,
		HeartbeatTTLMs: c.HeartbeatTTLMs,
		MaxRenewals:    c.MaxRenewals,
	}
}

// SLAOptions returns the sla.Options applying this config's default
// max-in-progress duration and alert cooldown.
func (c Config) SLAOptions() []sla.Option {
	return []sla.Option{
		sla.WithDefaultMaxInProgressMs(c.SLAMaxInProgressMs),
		sla.WithCooldown(time.Duration(c.SLACooldownMs) * time.Millisecond),
	}
}

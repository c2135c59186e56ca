package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	API        APIConfig        `yaml:"api"`
	Rules      RulesConfig      `yaml:"rules"`
	Backup     BackupConfig     `yaml:"backup"`
	Dictionary DictionaryConfig `yaml:"dictionary"`
	Events     EventsConfig     `yaml:"events"`
	Watch      WatchConfig      `yaml:"watch"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// PipelineConfig controls stage concurrency and flow control.
type PipelineConfig struct {
	MaxConcurrency   int              `yaml:"max_concurrency"`
	StageParallelism StageParallelism `yaml:"stage_parallelism"`
	BoundedCapacity  int              `yaml:"bounded_capacity"`
	StageTimeout     string           `yaml:"stage_timeout"`
	ResolutionWindow int              `yaml:"resolution_window"`
}

// StageParallelism sets per-stage worker counts. Zero values fall back to
// the pipeline-level MaxConcurrency.
type StageParallelism struct {
	Validate    int `yaml:"validate"`
	Extract     int `yaml:"extract"`
	PreProcess  int `yaml:"preprocess"`
	PostProcess int `yaml:"postprocess"`
	Commit      int `yaml:"commit"`
}

// APIConfig configures the external lookup source and its dispatch policy.
// An empty BaseURL selects the local dictionary as the resolution source.
type APIConfig struct {
	BaseURL            string      `yaml:"base_url"`
	Token              string      `yaml:"token"`
	BatchSize          int         `yaml:"batch_size"`
	Parallelism        int         `yaml:"parallelism"`
	RateLimitPerMinute int         `yaml:"rate_limit_per_minute"`
	RequestTimeout     string      `yaml:"request_timeout"`
	Retry              RetryConfig `yaml:"retry"`
}

// RetryConfig holds raw retry settings; see retry.NewPolicy for interpretation.
type RetryConfig struct {
	Backoff      string `yaml:"backoff"` // fixed|linear|exponential
	InitialDelay string `yaml:"initial_delay"`
	MaxDelay     string `yaml:"max_delay"`
	MaxRetries   int    `yaml:"max_retries"`
}

// RulesConfig toggles individual corrective rules.
type RulesConfig struct {
	FixDoubleSpaces         bool                `yaml:"fix_double_spaces"`
	NormalizeUnicode        bool                `yaml:"normalize_unicode"`
	RemoveInvisibleLinks    bool                `yaml:"remove_invisible_links"`
	ValidateInternalAnchors bool                `yaml:"validate_internal_anchors"`
	AppendContentIDs        bool                `yaml:"append_content_ids"`
	CheckTitles             bool                `yaml:"check_titles"`
	FixTitles               bool                `yaml:"fix_titles"`
	ApplyReplacements       bool                `yaml:"apply_replacements"`
	Replacements            []ReplacementConfig `yaml:"replacements"`
}

// ReplacementConfig is one ordered (match, replacement) rule.
type ReplacementConfig struct {
	Match   string `yaml:"match"`
	Replace string `yaml:"replace"`
}

// BackupConfig controls pre-commit backups. Retention is how long backups
// are kept before runs prune them; empty disables pruning.
type BackupConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Dir       string `yaml:"dir"`
	Retention string `yaml:"retention"`
}

// DictionaryConfig locates the local identifier dictionary.
type DictionaryConfig struct {
	Path string `yaml:"path"`
}

// EventsConfig configures optional NATS publication of audit outcomes.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled"`
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	Dir            string `yaml:"dir"`
	Debounce       string `yaml:"debounce"`
	RescanInterval string `yaml:"rescan_interval"`
	MetricsAddr    string `yaml:"metrics_addr"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// Default returns the baseline configuration. Load unmarshals on top of it,
// so omitted fields keep their defaults.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			MaxConcurrency:   4,
			BoundedCapacity:  16,
			StageTimeout:     "2m",
			ResolutionWindow: 32,
		},
		API: APIConfig{
			BatchSize:          50,
			Parallelism:        4,
			RateLimitPerMinute: 120,
			RequestTimeout:     "15s",
			Retry: RetryConfig{
				Backoff:      string(RetryBackoffExponential),
				InitialDelay: "500ms",
				MaxDelay:     "30s",
				MaxRetries:   3,
			},
		},
		Rules: RulesConfig{
			FixDoubleSpaces:         true,
			NormalizeUnicode:        true,
			RemoveInvisibleLinks:    true,
			ValidateInternalAnchors: true,
			AppendContentIDs:        true,
			CheckTitles:             true,
			FixTitles:               false,
			ApplyReplacements:       false,
		},
		Backup: BackupConfig{
			Enabled:   true,
			Dir:       "",
			Retention: "720h",
		},
		Dictionary: DictionaryConfig{
			Path: "linkaudit.db",
		},
		Events: EventsConfig{
			Subject: "linkaudit.audit",
		},
		Watch: WatchConfig{
			Debounce:       "2s",
			RescanInterval: "1h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from a YAML file, applies defaults and
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path) // #nosec G304 -- path supplied by operator
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets secrets come from the environment instead of the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LINKAUDIT_API_TOKEN"); v != "" {
		c.API.Token = v
	}
	if v := os.Getenv("LINKAUDIT_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("LINKAUDIT_NATS_URL"); v != "" {
		c.Events.NATSURL = v
	}
}

// Validate checks invariants that would make a run impossible. Per-job errors
// are handled downstream; only configuration errors are fatal at start-of-run.
func (c *Config) Validate() error {
	if c.Pipeline.MaxConcurrency <= 0 {
		return fmt.Errorf("pipeline.max_concurrency must be positive, got %d", c.Pipeline.MaxConcurrency)
	}
	if c.Pipeline.BoundedCapacity <= 0 {
		return fmt.Errorf("pipeline.bounded_capacity must be positive, got %d", c.Pipeline.BoundedCapacity)
	}
	if c.Pipeline.ResolutionWindow <= 0 {
		return fmt.Errorf("pipeline.resolution_window must be positive, got %d", c.Pipeline.ResolutionWindow)
	}
	if c.Pipeline.StageTimeout != "" {
		if _, err := time.ParseDuration(c.Pipeline.StageTimeout); err != nil {
			return fmt.Errorf("pipeline.stage_timeout: %w", err)
		}
	}
	if c.API.BatchSize <= 0 {
		return fmt.Errorf("api.batch_size must be positive, got %d", c.API.BatchSize)
	}
	if c.API.Parallelism <= 0 {
		return fmt.Errorf("api.parallelism must be positive, got %d", c.API.Parallelism)
	}
	if c.API.RateLimitPerMinute < 0 {
		return fmt.Errorf("api.rate_limit_per_minute cannot be negative, got %d", c.API.RateLimitPerMinute)
	}
	if _, err := time.ParseDuration(c.API.RequestTimeout); err != nil {
		return fmt.Errorf("api.request_timeout: %w", err)
	}
	if NormalizeRetryBackoff(c.API.Retry.Backoff) == "" {
		return fmt.Errorf("api.retry.backoff: unknown mode %q", c.API.Retry.Backoff)
	}
	if c.API.Retry.MaxRetries < 0 {
		return fmt.Errorf("api.retry.max_retries cannot be negative, got %d", c.API.Retry.MaxRetries)
	}
	if c.Backup.Retention != "" {
		if _, err := time.ParseDuration(c.Backup.Retention); err != nil {
			return fmt.Errorf("backup.retention: %w", err)
		}
	}
	for i, r := range c.Rules.Replacements {
		if r.Match == "" {
			return fmt.Errorf("rules.replacements[%d]: match cannot be empty", i)
		}
	}
	if c.Events.Enabled && c.Events.NATSURL == "" {
		return fmt.Errorf("events.nats_url is required when events are enabled")
	}
	return nil
}

// StageTimeoutDuration returns the parsed stage timeout, zero when unset.
func (c *Config) StageTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Pipeline.StageTimeout)
	if err != nil {
		return 0
	}
	return d
}

// WorkersFor returns the worker count for a stage, falling back to MaxConcurrency.
func (p PipelineConfig) WorkersFor(stage int) int {
	if stage > 0 {
		return stage
	}
	return p.MaxConcurrency
}

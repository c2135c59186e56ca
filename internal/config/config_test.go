package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linkaudit.yaml")
	data := `
pipeline:
  max_concurrency: 8
  resolution_window: 64
api:
  base_url: https://cm.example.com/api
  batch_size: 25
rules:
  fix_titles: true
  replacements:
    - match: old-host.example.com
      replace: new-host.example.com
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Pipeline.MaxConcurrency)
	assert.Equal(t, 64, cfg.Pipeline.ResolutionWindow)
	assert.Equal(t, "https://cm.example.com/api", cfg.API.BaseURL)
	assert.Equal(t, 25, cfg.API.BatchSize)
	assert.True(t, cfg.Rules.FixTitles)
	require.Len(t, cfg.Rules.Replacements, 1)

	// Untouched fields keep their defaults.
	assert.Equal(t, 16, cfg.Pipeline.BoundedCapacity)
	assert.Equal(t, 120, cfg.API.RateLimitPerMinute)
	assert.True(t, cfg.Rules.FixDoubleSpaces)
	assert.Equal(t, "linkaudit.db", cfg.Dictionary.Path)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LINKAUDIT_API_TOKEN", "secret-token")
	t.Setenv("LINKAUDIT_API_URL", "https://override.example.com")

	path := filepath.Join(t.TempDir(), "linkaudit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  token: from-file\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret-token", cfg.API.Token)
	assert.Equal(t, "https://override.example.com", cfg.API.BaseURL)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero concurrency", func(c *Config) { c.Pipeline.MaxConcurrency = 0 }},
		{"zero capacity", func(c *Config) { c.Pipeline.BoundedCapacity = 0 }},
		{"zero window", func(c *Config) { c.Pipeline.ResolutionWindow = 0 }},
		{"bad stage timeout", func(c *Config) { c.Pipeline.StageTimeout = "soon" }},
		{"zero batch size", func(c *Config) { c.API.BatchSize = 0 }},
		{"negative rate limit", func(c *Config) { c.API.RateLimitPerMinute = -1 }},
		{"unknown backoff", func(c *Config) { c.API.Retry.Backoff = "bogus" }},
		{"empty replacement match", func(c *Config) {
			c.Rules.Replacements = []ReplacementConfig{{Match: ""}}
		}},
		{"bad backup retention", func(c *Config) { c.Backup.Retention = "monthly" }},
		{"events without url", func(c *Config) { c.Events.Enabled = true; c.Events.NATSURL = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestStageTimeoutDuration(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.StageTimeout = "90s"
	assert.Equal(t, 90*time.Second, cfg.StageTimeoutDuration())

	cfg.Pipeline.StageTimeout = ""
	assert.Zero(t, cfg.StageTimeoutDuration())
}

func TestWorkersFor(t *testing.T) {
	p := PipelineConfig{MaxConcurrency: 4}
	assert.Equal(t, 4, p.WorkersFor(0))
	assert.Equal(t, 2, p.WorkersFor(2))
}

func TestNormalizeRetryBackoff(t *testing.T) {
	assert.Equal(t, RetryBackoffFixed, NormalizeRetryBackoff("Fixed"))
	assert.Equal(t, RetryBackoffLinear, NormalizeRetryBackoff("linear"))
	assert.Equal(t, RetryBackoffExponential, NormalizeRetryBackoff("EXPONENTIAL"))
	assert.Empty(t, NormalizeRetryBackoff("bogus"))
}

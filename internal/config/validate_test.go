package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	isolate(t)
	cfg, err := Load(context.Background())
	require.NoError(t, err)
	return cfg
}

func TestValidateCollectsEveryError(t *testing.T) {
	cfg := validConfig(t)
	cfg.QueueSize = 0
	cfg.BatchSize = 65
	cfg.ComputeBudget = MaxComputeBudget + 1

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidQueueSize)
	require.ErrorIs(t, err, ErrInvalidBatchSize)
	require.ErrorIs(t, err, ErrInvalidComputeBudget)
	require.Len(t, multierr.Errors(err), 3)
}

func TestValidateBatchSizeBounds(t *testing.T) {
	for _, size := range []int{1, 16, 64} {
		cfg := validConfig(t)
		cfg.BatchSize = size
		require.NoError(t, cfg.Validate(), "batch size %d", size)
	}
	for _, size := range []int{0, -1, 65} {
		cfg := validConfig(t)
		cfg.BatchSize = size
		require.ErrorIs(t, cfg.Validate(), ErrInvalidBatchSize, "batch size %d", size)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"NoEndpoints":     func(c *Config) { c.Endpoints = nil },
		"BlankEndpoint":   func(c *Config) { c.Endpoints = []string{" "} },
		"Commitment":      func(c *Config) { c.Commitment = "recent" },
		"Timeout":         func(c *Config) { c.EndpointTimeout = 0 },
		"RequestsPerSec":  func(c *Config) { c.RateLimit.RequestsPerSecond = 0 },
		"Burst":           func(c *Config) { c.RateLimit.BurstSize = 0 },
		"Margin":          func(c *Config) { c.RateLimitMargin = 1.5 },
		"Backoff":         func(c *Config) { c.RateLimit.Backoff = "linear" },
		"Multiplier":      func(c *Config) { c.RateLimit.Backoff = BackoffMultiplier; c.RateLimit.BackoffMultiplier = 0 },
		"CooldownPolicy":  func(c *Config) { c.Cooldown.Policy = "forever" },
		"NegativeRetries": func(c *Config) { c.MaxRetries = -1 },
		"NegativeWorkers": func(c *Config) { c.Workers = -2 },
		"MaxTxSize":       func(c *Config) { c.MaxTxSize = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig(t)
			mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestBackoffPolicy(t *testing.T) {
	policy, err := RateLimitConfig{Backoff: BackoffExponential, BackoffBase: 50 * time.Millisecond, BackoffMax: time.Second}.BackoffPolicy()
	require.NoError(t, err)
	require.Equal(t, 50*time.Millisecond, policy(1))
	require.Equal(t, 100*time.Millisecond, policy(2))
	require.Equal(t, time.Second, policy(10))

	policy, err = RateLimitConfig{Backoff: BackoffNone}.BackoffPolicy()
	require.NoError(t, err)
	require.Zero(t, policy(3))

	policy, err = RateLimitConfig{Backoff: BackoffMultiplier, BackoffMultiplier: 2}.BackoffPolicy()
	require.NoError(t, err)
	require.Equal(t, 4*time.Second, policy(2))
}

func TestValidateProgram(t *testing.T) {
	cfg := validConfig(t)
	require.Error(t, cfg.ValidateProgram())

	cfg.Program = ProgramConfig{
		ProgramID:    "ComputeBudget111111111111111111111111111111",
		ModelAccount: "11111111111111111111111111111111",
		StateAccount: "SysvarC1ock11111111111111111111111111111111",
	}
	require.NoError(t, cfg.ValidateProgram())

	cfg.Program.OutputAccount = "not-base58-0OIl"
	require.Error(t, cfg.ValidateProgram())
}

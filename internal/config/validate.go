package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/solanago/solanago/internal/core/pool"
	"github.com/solanago/solanago/internal/core/ratelimit"
	"github.com/solanago/solanago/internal/ledger"
)

// MaxComputeBudget is the largest compute unit limit a transaction may
// request.
const MaxComputeBudget = 1_400_000

// MaxBatchSize bounds batch_size.
const MaxBatchSize = 64

// Validation errors.
var (
	ErrInvalidQueueSize     = errors.New("invalid queue size")
	ErrInvalidBatchSize     = fmt.Errorf("invalid batch size (must be between 1 and %d)", MaxBatchSize)
	ErrInvalidComputeBudget = errors.New("invalid compute budget")
)

// Backoff policy names accepted by rate_limit.backoff.
const (
	BackoffExponential = "exponential"
	BackoffMultiplier  = "multiplier"
	BackoffNone        = "none"
)

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var err error

	if c.QueueSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: %d", ErrInvalidQueueSize, c.QueueSize))
	}
	if c.BatchSize < 1 || c.BatchSize > MaxBatchSize {
		err = multierr.Append(err, fmt.Errorf("%w: %d", ErrInvalidBatchSize, c.BatchSize))
	}
	if c.ComputeBudget > MaxComputeBudget {
		err = multierr.Append(err, fmt.Errorf("%w: %d exceeds %d", ErrInvalidComputeBudget, c.ComputeBudget, MaxComputeBudget))
	}
	if len(c.Endpoints) == 0 {
		err = multierr.Append(err, errors.New("at least one endpoint is required"))
	}
	for i, endpoint := range c.Endpoints {
		if strings.TrimSpace(endpoint) == "" {
			err = multierr.Append(err, fmt.Errorf("endpoint %d is empty", i))
		}
	}
	if c.EndpointTimeout <= 0 {
		err = multierr.Append(err, fmt.Errorf("endpoint_timeout must be positive, got %s", c.EndpointTimeout))
	}
	if c.MaxRetries < 0 {
		err = multierr.Append(err, fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries))
	}
	if !ledger.ValidCommitment(c.Commitment) {
		err = multierr.Append(err, fmt.Errorf("unknown commitment level %q", c.Commitment))
	}
	if c.MaxTxSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("max_tx_size must be positive, got %d", c.MaxTxSize))
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		err = multierr.Append(err, fmt.Errorf("rate_limit.requests_per_second must be positive, got %v", c.RateLimit.RequestsPerSecond))
	}
	if c.RateLimit.BurstSize <= 0 {
		err = multierr.Append(err, fmt.Errorf("rate_limit.burst_size must be positive, got %d", c.RateLimit.BurstSize))
	}
	if c.RateLimitMargin < 0 || c.RateLimitMargin > 1 {
		err = multierr.Append(err, fmt.Errorf("rate_limit_margin must be within [0, 1], got %v", c.RateLimitMargin))
	}
	if _, bErr := c.RateLimit.BackoffPolicy(); bErr != nil {
		err = multierr.Append(err, bErr)
	}
	if _, cErr := c.Cooldown.CooldownPolicy(); cErr != nil {
		err = multierr.Append(err, cErr)
	}
	if c.Workers < 0 {
		err = multierr.Append(err, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}

	return err
}

// ValidateProgram checks that the program addresses parse. It is separate
// from Validate because read-only commands do not need a program.
func (c *Config) ValidateProgram() error {
	var err error
	check := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			err = multierr.Append(err, fmt.Errorf("%s is required", key))
			return
		}
		if _, pErr := ledger.ParsePublicKey(value); pErr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", key, pErr))
		}
	}
	check("program_id", c.Program.ProgramID)
	check("model_account", c.Program.ModelAccount)
	check("state_account", c.Program.StateAccount)
	if c.Program.OutputAccount != "" {
		check("output_account", c.Program.OutputAccount)
	}
	return err
}

// BackoffPolicy builds the backoff policy named by Backoff.
func (r RateLimitConfig) BackoffPolicy() (ratelimit.BackoffPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(r.Backoff)) {
	case "", BackoffExponential:
		base := r.BackoffBase
		if base <= 0 {
			base = 100 * time.Millisecond
		}
		return ratelimit.ExponentialBackoff(base, r.BackoffMax), nil
	case BackoffMultiplier:
		if r.BackoffMultiplier <= 0 {
			return nil, fmt.Errorf("rate_limit.backoff_multiplier must be positive, got %v", r.BackoffMultiplier)
		}
		return ratelimit.MultiplierBackoff(r.BackoffMultiplier), nil
	case BackoffNone:
		return ratelimit.NoBackoff, nil
	default:
		return nil, fmt.Errorf("unknown rate_limit.backoff %q", r.Backoff)
	}
}

// CooldownPolicy builds the cooldown policy named by Policy.
func (c CooldownConfig) CooldownPolicy() (pool.CooldownPolicy, error) {
	return pool.ParseCooldownPolicy(c.Policy, c.Period)
}

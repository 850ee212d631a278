package config

import (
	"time"
)

// Config is the complete client configuration. Values come from, in
// increasing precedence: built-in defaults and the network preset, the
// config file, SOLANAGO_* environment variables, and runtime overrides.
type Config struct {
	Network         string        `mapstructure:"network"`
	Endpoints       []string      `mapstructure:"endpoints"`
	EndpointTimeout time.Duration `mapstructure:"endpoint_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	Commitment      string        `mapstructure:"commitment"`

	Program      ProgramConfig `mapstructure:",squash"`
	PayerKeypair string        `mapstructure:"payer_keypair"`

	ComputeBudget uint32 `mapstructure:"compute_budget"`
	PriorityFee   uint64 `mapstructure:"priority_fee"`
	MaxTxSize     int    `mapstructure:"max_tx_size"`

	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
	RateLimitMargin float64         `mapstructure:"rate_limit_margin"`
	Cooldown        CooldownConfig  `mapstructure:"cooldown"`

	QueueSize int `mapstructure:"queue_size"`
	BatchSize int `mapstructure:"batch_size"`
	Workers   int `mapstructure:"workers"`

	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
	Debug   DebugConfig   `mapstructure:"debug"`
}

// ProgramConfig holds the base58 addresses of the on-chain model program
// and its accounts.
type ProgramConfig struct {
	ProgramID     string `mapstructure:"program_id"`
	ModelAccount  string `mapstructure:"model_account"`
	StateAccount  string `mapstructure:"state_account"`
	OutputAccount string `mapstructure:"output_account"`
}

// RateLimitConfig tunes the per-endpoint token buckets and their error
// windows.
type RateLimitConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	BurstSize         int           `mapstructure:"burst_size"`
	ErrorWindow       time.Duration `mapstructure:"error_window"`
	ErrorThreshold    int           `mapstructure:"error_threshold"`

	// Backoff selects the delay applied while an endpoint keeps failing.
	// Valid values: exponential, multiplier, none
	Backoff           string        `mapstructure:"backoff"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
}

// CooldownConfig controls how long a failed endpoint stays disabled.
type CooldownConfig struct {
	// Policy is fixed (always Period) or capacity (time to refill the
	// endpoint's bucket, capped at Period).
	Policy string        `mapstructure:"policy"`
	Period time.Duration `mapstructure:"period"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED, ENTERPRISE
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// WARNING: Only enable in development/staging environments
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}

// Package config loads the client configuration with viper. Layers, in
// increasing precedence:
//
//  1. Built-in defaults, including the selected network preset
//  2. The config file (--config, $SOLANAGO_CONFIG, or the XDG config path)
//  3. SOLANAGO_* environment variables
//  4. Runtime overrides (command line flags)
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// AppName names the config and data directories.
	AppName = "solanago"

	// EnvPrefix prefixes every environment variable override.
	EnvPrefix = "SOLANAGO"
)

var (
	appConfig *Config
	configMu  sync.RWMutex

	configFile string
)

// SetConfigFile selects an explicit config file for subsequent loads. An
// empty path restores discovery.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = strings.TrimSpace(path)
}

// Load builds the configuration. Runtime overrides are nested maps keyed
// like the config file and win over every other layer.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	for _, overrides := range runtimeOverrides {
		for key, value := range flatten("", overrides) {
			v.Set(key, value)
		}
	}

	// The preset is applied after every layer is in place so that the
	// network can itself come from the file, environment or overrides.
	preset, err := PresetFor(v.GetString("network"))
	if err != nil {
		return nil, err
	}
	v.SetDefault("endpoints", []string{preset.Endpoint})
	v.SetDefault("commitment", preset.Commitment)
	v.SetDefault("compute_budget", preset.ComputeBudget)
	v.SetDefault("priority_fee", preset.PriorityFee)

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Network = strings.ToLower(strings.TrimSpace(cfg.Network))
	cfg.Commitment = strings.ToLower(strings.TrimSpace(cfg.Commitment))
	cfg.Endpoints = trimEndpoints(cfg.Endpoints)
	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}

	setConfig(cfg)
	return cfg, nil
}

func readConfigFile(v *viper.Viper) error {
	configMu.RLock()
	explicit := configFile
	configMu.RUnlock()

	if explicit == "" {
		explicit = strings.TrimSpace(os.Getenv(EnvPrefix + "_CONFIG"))
	}

	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file %s: %w", explicit, err)
		}
		return nil
	}

	if dir := gfconfig.GetAppConfigDir(AppName); dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath("./config")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	return nil
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for key, value := range values {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			for k, v := range flatten(full, nested) {
				out[k] = v
			}
			continue
		}
		out[full] = value
	}
	return out
}

func trimEndpoints(endpoints []string) []string {
	out := make([]string, 0, len(endpoints))
	for _, endpoint := range endpoints {
		if trimmed := strings.TrimSpace(endpoint); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// setDefaults registers every key so that environment variables resolve
// through AutomaticEnv.
func setDefaults(v *viper.Viper) {
	v.SetDefault("network", NetworkDevnet)
	v.SetDefault("endpoint_timeout", "30s")
	v.SetDefault("max_retries", 3)
	v.SetDefault("max_tx_size", 1232)

	v.SetDefault("program_id", "")
	v.SetDefault("model_account", "")
	v.SetDefault("state_account", "")
	v.SetDefault("output_account", "")
	v.SetDefault("payer_keypair", DefaultKeypairPath())

	v.SetDefault("rate_limit.requests_per_second", 10)
	v.SetDefault("rate_limit.burst_size", 20)
	v.SetDefault("rate_limit.error_window", "60s")
	v.SetDefault("rate_limit.error_threshold", 5)
	v.SetDefault("rate_limit.backoff", BackoffExponential)
	v.SetDefault("rate_limit.backoff_base", "100ms")
	v.SetDefault("rate_limit.backoff_max", "5s")
	v.SetDefault("rate_limit.backoff_multiplier", 2.0)
	v.SetDefault("rate_limit_margin", 0.0)

	v.SetDefault("cooldown.policy", "fixed")
	v.SetDefault("cooldown.period", "60s")

	v.SetDefault("queue_size", 1000)
	v.SetDefault("batch_size", 16)
	v.SetDefault("workers", 0)

	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Store defaults
	v.SetDefault("store.enabled", true)
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", "")
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "SIMPLE")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("health.enabled", true)
	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(AppName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := gfconfig.GetAppDataDir(AppName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}

// DefaultKeypairPath returns the Solana CLI default keypair location.
func DefaultKeypairPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".config", "solana", "id.json")
}

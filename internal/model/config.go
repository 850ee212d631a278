package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Type identifies which heads the network exposes.
type Type string

const (
	TypeValueNetwork  Type = "value_network"
	TypePolicyNetwork Type = "policy_network"
	TypeCombined      Type = "combined"
)

// ParseType accepts snake_case or CamelCase names.
func ParseType(value string) (Type, error) {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(value), "_", ""))
	switch normalized {
	case "valuenetwork", "value":
		return TypeValueNetwork, nil
	case "policynetwork", "policy":
		return TypePolicyNetwork, nil
	case "combined", "":
		return TypeCombined, nil
	default:
		return "", fmt.Errorf("unknown model type %q", value)
	}
}

// Config describes the model initialized on every endpoint.
type Config struct {
	ModelType   Type  `yaml:"model_type" toml:"model_type" json:"model_type"`
	InputShape  []int `yaml:"input_shape" toml:"input_shape" json:"input_shape"`
	OutputShape []int `yaml:"output_shape" toml:"output_shape" json:"output_shape"`
	BatchSize   int   `yaml:"batch_size" toml:"batch_size" json:"batch_size"`

	LearningRate       float32 `yaml:"learning_rate" toml:"learning_rate" json:"learning_rate"`
	TrainingSteps      uint64  `yaml:"training_steps" toml:"training_steps" json:"training_steps"`
	CheckpointInterval uint64  `yaml:"checkpoint_interval" toml:"checkpoint_interval" json:"checkpoint_interval"`

	MaxComputeUnits uint32 `yaml:"max_compute_units" toml:"max_compute_units" json:"max_compute_units"`
	MaxMemoryBytes  uint64 `yaml:"max_memory_bytes" toml:"max_memory_bytes" json:"max_memory_bytes"`

	ValidationFrequency uint32  `yaml:"validation_frequency" toml:"validation_frequency" json:"validation_frequency"`
	AccuracyThreshold   float32 `yaml:"accuracy_threshold" toml:"accuracy_threshold" json:"accuracy_threshold"`
}

// DefaultConfig returns a combined Go network sized for a 19x19 board.
func DefaultConfig() Config {
	return Config{
		ModelType:           TypeCombined,
		InputShape:          []int{BoardSize, BoardSize, Planes},
		OutputShape:         []int{PolicySize, 1},
		BatchSize:           16,
		LearningRate:        0.001,
		TrainingSteps:       100_000,
		CheckpointInterval:  1_000,
		MaxComputeUnits:     1_400_000,
		MaxMemoryBytes:      32 << 20,
		ValidationFrequency: 100,
		AccuracyThreshold:   0.5,
	}
}

// Validate checks the fields the on-chain program relies on.
func (c Config) Validate() error {
	if _, err := ParseType(string(c.ModelType)); err != nil {
		return err
	}
	if len(c.InputShape) == 0 || product(c.InputShape) <= 0 {
		return fmt.Errorf("input_shape must be non-empty with positive dimensions")
	}
	if len(c.OutputShape) == 0 || product(c.OutputShape) <= 0 {
		return fmt.Errorf("output_shape must be non-empty with positive dimensions")
	}
	if c.BatchSize < 1 || c.BatchSize > 64 {
		return fmt.Errorf("batch_size must be between 1 and 64, got %d", c.BatchSize)
	}
	if c.LearningRate < 0 {
		return fmt.Errorf("learning_rate must not be negative")
	}
	if c.AccuracyThreshold < 0 || c.AccuracyThreshold > 1 {
		return fmt.Errorf("accuracy_threshold must be within [0, 1]")
	}
	return nil
}

// LoadConfig reads a model config file. The format follows the extension:
// .yaml/.yml, .toml or .json. Fields missing from the file keep their
// DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("read model config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	case ".json":
		err = json.Unmarshal(data, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported model config format %q", filepath.Ext(path))
	}
	if err != nil {
		return cfg, fmt.Errorf("parse model config %s: %w", path, err)
	}

	normalized, err := ParseType(string(cfg.ModelType))
	if err != nil {
		return cfg, err
	}
	cfg.ModelType = normalized

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid model config %s: %w", path, err)
	}
	return cfg, nil
}

func product(dims []int) int {
	total := 1
	for _, d := range dims {
		if d <= 0 {
			return 0
		}
		total *= d
	}
	return total
}

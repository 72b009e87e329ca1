// Package config loads process-level configuration: where state lives on
// disk, how the HTTP surface listens, and the workflow tuning knobs.
//
// Runtime-mutable application settings (prompt templates, LLM endpoint,
// retrieval parameters) live in pkg/settings; this package only covers what
// stays fixed for the lifetime of the process.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config is the resolved process configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the HTTP/WebSocket listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig controls where persisted documents live.
// The settings document, the agent document, and the vector index artifact
// pair are all created under DataDir.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// WorkflowConfig contains the workflow executor tuning knobs.
type WorkflowConfig struct {
	// MaxConcurrentLLMCalls caps in-flight LLM requests across all agents.
	MaxConcurrentLLMCalls int `yaml:"max_concurrent_llm_calls"`

	// HaltWait is how long a halted worker stays parked waiting for a
	// continue signal before giving up and exiting.
	HaltWait time.Duration `yaml:"halt_wait"`

	// AutoRestartDelay is the pause between an auto agent completing and
	// its plan being regenerated.
	AutoRestartDelay time.Duration `yaml:"auto_restart_delay"`
}

// LoggingConfig controls slog setup.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Load resolves configuration in three layers: embedded defaults, an
// optional user YAML file (missing file is fine unless the path was given
// explicitly), then environment overrides. The result is validated before
// being returned.
func Load(path string, pathExplicit bool) (*Config, error) {
	// 1. Embedded defaults
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse embedded defaults: %w", err)
	}

	// 2. User file overlay (non-zero values override defaults)
	if path != "" {
		user, err := loadFile(path)
		if err != nil {
			if !pathExplicit && os.IsNotExist(err) {
				// Default location, nothing there: run on defaults.
				err = nil
			} else {
				return nil, NewLoadError(path, err)
			}
		}
		if user != nil {
			if err := mergo.Merge(cfg, user, mergo.WithOverride); err != nil {
				return nil, fmt.Errorf("failed to merge config overlay: %w", err)
			}
		}
	}

	// 3. Environment overrides
	applyEnvOverrides(cfg)

	// 4. Validate
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand {{.VAR}} references before parsing.
	data = expandEnv(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STRINGER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("STRINGER_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("STRINGER_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("STRINGER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("STRINGER_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return NewValidationError("server.port", fmt.Errorf("%w: %d", ErrInvalidValue, c.Server.Port))
	}
	if c.Storage.DataDir == "" {
		return NewValidationError("storage.data_dir", ErrMissingRequiredField)
	}
	if c.Workflow.MaxConcurrentLLMCalls < 1 {
		return NewValidationError("workflow.max_concurrent_llm_calls",
			fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, c.Workflow.MaxConcurrentLLMCalls))
	}
	if c.Workflow.HaltWait <= 0 {
		return NewValidationError("workflow.halt_wait",
			fmt.Errorf("%w: must be positive, got %s", ErrInvalidValue, c.Workflow.HaltWait))
	}
	if c.Workflow.AutoRestartDelay < 0 {
		return NewValidationError("workflow.auto_restart_delay",
			fmt.Errorf("%w: must not be negative, got %s", ErrInvalidValue, c.Workflow.AutoRestartDelay))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return NewValidationError("logging.level",
			fmt.Errorf("%w: %q (expected debug|info|warn|error)", ErrInvalidValue, c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return NewValidationError("logging.format",
			fmt.Errorf("%w: %q (expected text|json)", ErrInvalidValue, c.Logging.Format))
	}
	return nil
}

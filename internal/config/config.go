// Package config loads the server's top-level configuration: repository
// paths, model-control mode, readiness/shutdown knobs, and memory pool
// sizing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var structValidator = validator.New()

// Config is the server's top-level configuration (model_control_mode,
// pool sizing, readiness/shutdown knobs).
type Config struct {
	ModelRepositoryPaths []string `yaml:"model_repository_paths" validate:"required,min=1"`
	ModelControlMode     string   `yaml:"model_control_mode" validate:"omitempty,oneof=none poll explicit"`
	StartupModels        []string `yaml:"startup_models"`
	PollIntervalSec      int      `yaml:"poll_interval_sec"`

	StrictModelConfig bool `yaml:"strict_model_config"`
	StrictReadiness   bool `yaml:"strict_readiness"`
	ExitTimeoutSecs   int  `yaml:"exit_timeout_secs"`

	PinnedMemoryPoolBytes int64         `yaml:"pinned_memory_pool_bytes"`
	CudaMemoryPoolBytes   map[int]int64 `yaml:"cuda_memory_pool_bytes"`
	MinComputeCapability  float64       `yaml:"min_supported_compute_capability"`

	EventLogPath string `yaml:"event_log_path"`

	configPath string `yaml:"-"`
}

func (c *Config) ConfigPath() string { return c.configPath }

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// Load reads and validates the server configuration at path, applying
// the same defaults a fresh install would want.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{
		ModelControlMode: "none",
		ExitTimeoutSecs:  30,
		PollIntervalSec:  15,
		EventLogPath:     "servecore.db",
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	for i, p := range cfg.ModelRepositoryPaths {
		cfg.ModelRepositoryPaths[i] = expandHome(p)
	}
	cfg.EventLogPath = expandHome(cfg.EventLogPath)

	if err := structValidator.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.configPath = path
	return cfg, nil
}

// StartupModelSet returns StartupModels as a lookup set, for the
// manager's Bootstrap call.
func (c *Config) StartupModelSet() map[string]bool {
	set := make(map[string]bool, len(c.StartupModels))
	for _, m := range c.StartupModels {
		set[m] = true
	}
	return set
}

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a configuration from the given YAML file path.
// After parsing, defaults are applied to anything unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches standard locations and loads the first config
// found, or returns a pure-defaults config when none exists. Search
// order: ./autopilot.yaml, ~/.autopilot/config.yaml.
func LoadDefault() (*Config, error) {
	candidates := []string{"autopilot.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".autopilot", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	cfg := &Config{}
	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults fills unset fields with the documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Orchestrator.MaxRetries <= 0 {
		cfg.Orchestrator.MaxRetries = 3
	}
	if cfg.Session.MaxRetries <= 0 {
		cfg.Session.MaxRetries = 20
	}
	if cfg.Session.Backoff == "" {
		cfg.Session.Backoff = "30m"
	}
	if cfg.Session.PollSlice == "" {
		cfg.Session.PollSlice = "5s"
	}
	if cfg.Session.MaxTurns <= 0 {
		cfg.Session.MaxTurns = 80
	}
	if cfg.Explorer.LaneTimeout == "" {
		cfg.Explorer.LaneTimeout = "60s"
	}
	if cfg.Explorer.Depth == "" {
		cfg.Explorer.Depth = "medium"
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = filepath.Join(home, ".autopilot", "storage")
	}
	if cfg.Storage.PipelineDir == "" {
		cfg.Storage.PipelineDir = filepath.Join(home, ".autopilot", "pipelines")
	}
	if cfg.Storage.EventsPath == "" {
		cfg.Storage.EventsPath = filepath.Join(home, ".autopilot", "events.db")
	}

	if cfg.Models.Cheap == "" {
		cfg.Models.Cheap = "claude-haiku"
	}
	if cfg.Models.Mid == "" {
		cfg.Models.Mid = "claude-sonnet"
	}
	if cfg.Models.Top == "" {
		cfg.Models.Top = "claude-opus"
	}
}

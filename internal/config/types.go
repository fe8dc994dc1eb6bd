// Package config holds the runtime configuration for the orchestrator:
// retry budgets, backoff windows, timeouts, and model tiers.
package config

import "time"

// Config is the top-level configuration structure parsed from YAML.
type Config struct {
	Orchestrator Orchestrator `yaml:"orchestrator"`
	Session      Session      `yaml:"session"`
	Explorer     Explorer     `yaml:"explorer"`
	Storage      Storage      `yaml:"storage"`
	Models       Models       `yaml:"models"`
}

// Orchestrator bounds the phase state machine.
type Orchestrator struct {
	// MaxRetries is the per-requirement phase retry budget.
	MaxRetries int `yaml:"max_retries"`
}

// Session bounds the agent session harness.
type Session struct {
	// MaxRetries is the rate-limit backoff budget for a single send.
	MaxRetries int `yaml:"max_retries"`
	// Backoff is how long to wait after a transient failure before
	// retrying the send, e.g. "30m".
	Backoff string `yaml:"backoff"`
	// PollSlice is the sleep granularity during backoff so an abort can
	// be observed mid-sleep, e.g. "5s".
	PollSlice string `yaml:"poll_slice"`
	// MaxTurns is the per-send safety valve on internal agent turns.
	MaxTurns int `yaml:"max_turns"`
}

// Explorer bounds the parallel exploration lanes.
type Explorer struct {
	// LaneTimeout is the per-lane race timeout, e.g. "60s".
	LaneTimeout string `yaml:"lane_timeout"`
	// Depth is the default exploration depth: quick, medium, thorough.
	Depth string `yaml:"depth"`
}

// Storage locates pipeline state and artifact isolation roots.
type Storage struct {
	// Root is the artifact storage root, e.g. ~/.autopilot/storage.
	Root string `yaml:"root"`
	// PipelineDir holds pipeline.json state, e.g. ~/.autopilot/pipelines.
	PipelineDir string `yaml:"pipeline_dir"`
	// EventsPath is the SQLite event log path.
	EventsPath string `yaml:"events_path"`
}

// Models names the model tier ladder used by tier selection.
type Models struct {
	Cheap string `yaml:"cheap"`
	Mid   string `yaml:"mid"`
	Top   string `yaml:"top"`
}

// BackoffWindow parses Session.Backoff, falling back to the default.
func (c *Config) BackoffWindow() time.Duration {
	return parseDuration(c.Session.Backoff, 30*time.Minute)
}

// PollSlice parses Session.PollSlice, falling back to the default.
func (c *Config) PollSlice() time.Duration {
	return parseDuration(c.Session.PollSlice, 5*time.Second)
}

// LaneTimeout parses Explorer.LaneTimeout, falling back to the default.
func (c *Config) LaneTimeout() time.Duration {
	return parseDuration(c.Explorer.LaneTimeout, 60*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

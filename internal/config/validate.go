package config

import (
	"fmt"
	"time"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var recognizedDepths = map[string]bool{
	"quick":    true,
	"medium":   true,
	"thorough": true,
}

// Validate checks a Config for structural and semantic errors. It
// returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if cfg.Orchestrator.MaxRetries < 1 {
		errs = append(errs, ValidationError{Field: "orchestrator.max_retries", Message: "must be at least 1"})
	}
	if cfg.Session.MaxRetries < 1 {
		errs = append(errs, ValidationError{Field: "session.max_retries", Message: "must be at least 1"})
	}
	if cfg.Session.MaxTurns < 1 {
		errs = append(errs, ValidationError{Field: "session.max_turns", Message: "must be at least 1"})
	}

	for _, d := range []struct {
		field, value string
	}{
		{"session.backoff", cfg.Session.Backoff},
		{"session.poll_slice", cfg.Session.PollSlice},
		{"explorer.lane_timeout", cfg.Explorer.LaneTimeout},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			errs = append(errs, ValidationError{Field: d.field, Message: fmt.Sprintf("invalid duration %q", d.value)})
		}
	}

	if cfg.Explorer.Depth != "" && !recognizedDepths[cfg.Explorer.Depth] {
		errs = append(errs, ValidationError{
			Field:   "explorer.depth",
			Message: fmt.Sprintf("unrecognized depth %q (quick, medium, thorough)", cfg.Explorer.Depth),
		})
	}

	if cfg.Storage.Root == "" {
		errs = append(errs, ValidationError{Field: "storage.root", Message: "is required"})
	}

	return errs
}

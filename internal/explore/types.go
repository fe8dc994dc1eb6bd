// Package explore fans out three read-only codebase investigations,
// merges their findings, scores the requirement's complexity, and
// selects a model tier for the phases that follow.
package explore

import (
	"time"

	"github.com/buildforge/autopilot/internal/classify"
)

// Lane names. The set is fixed; three lanes, always.
const (
	LanePatterns  = "patterns"
	LaneContracts = "contracts"
	LaneTests     = "tests"
)

// Pattern is one discovered codebase convention.
type Pattern struct {
	Name        string   `json:"name"`
	Files       []string `json:"files"`
	Description string   `json:"description"`
}

// RelatedFiles buckets discovered files by role.
type RelatedFiles struct {
	Templates []string `json:"templates"`
	Types     []string `json:"types"`
	Tests     []string `json:"tests"`
}

// LaneResult is one lane's parsed findings.
type LaneResult struct {
	Lane         string
	Patterns     []Pattern
	Related      RelatedFiles
	Endpoints    []string
	TestPatterns []string
	Notes        []string
	Duration     time.Duration
}

// LaneFailure records one lane that timed out or errored. Failures are
// recorded, never fatal, unless every lane fails.
type LaneFailure struct {
	Lane    string
	Message string
	Type    classify.ErrorType
}

// Context is the deduplicated union of all non-failed lanes.
type Context struct {
	Patterns           []Pattern
	Related            RelatedFiles
	Endpoints          []string
	TestPatterns       []string
	Notes              []string
	ExistingComponents []string
	Failures           []LaneFailure
}

// Request describes the requirement being explored.
type Request struct {
	RequirementID string
	Title         string
	Description   string
	// Platform is empty, a single platform tag, or "all".
	Platform string
	// Depth is "quick", "medium", or "thorough".
	Depth string
	// WorkingDir is the project tree the lanes investigate.
	WorkingDir string
}

// Result is the output of one explore step.
type Result struct {
	Context    *Context
	Complexity int
	// Model is the selected tier's model identifier.
	Model string
}

// ModelTiers holds the three model identifiers tier selection chooses
// between.
type ModelTiers struct {
	Cheap string
	Mid   string
	Top   string
}

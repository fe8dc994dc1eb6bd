package pipeline

import "github.com/buildforge/autopilot/internal/feature"

// Status is the pipeline-level lifecycle state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusQA        Status = "qa"
	StatusExploring Status = "exploring"
	StatusPlanning  Status = "planning"
	StatusExecuting Status = "executing"
	StatusTesting   Status = "testing"
	StatusPaused    Status = "paused"
	StatusAborted   Status = "aborted"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the pipeline has finished for good.
func (s Status) Terminal() bool {
	return s == StatusAborted || s == StatusCompleted || s == StatusFailed
}

// PhaseRecord tracks where the loop is within the requirement list.
type PhaseRecord struct {
	Current           string `json:"current"` // sub-phase: exploring/planning/executing/testing
	RequirementIndex  int    `json:"requirement_index"`
	RetryCount        int    `json:"retry_count"`
	TotalRequirements int    `json:"total_requirements"`
}

// Pipeline is the top-level persisted state for one end-to-end run.
// A pipeline is mutated exclusively by the single driver that owns its
// id; abort/pause are sampled flags, never preemptive interrupts.
type Pipeline struct {
	ID             string                `json:"id"`
	Status         Status                `json:"status"`
	Phase          PhaseRecord           `json:"phase"`
	Requirements   []feature.Requirement `json:"requirements"`
	Epics          []feature.Epic        `json:"epics"`
	Project        string                `json:"project"`
	Prefix         string                `json:"prefix"`
	SessionID      string                `json:"session_id,omitempty"`
	StorageID      string                `json:"storage_id"`
	AbortRequested bool                  `json:"abort_requested"`
	PauseRequested bool                  `json:"pause_requested"`
	CreatedAt      string                `json:"created_at"`
	UpdatedAt      string                `json:"updated_at"`
}

// Requirement returns a pointer to the requirement with the given id,
// or nil if it does not exist.
func (p *Pipeline) Requirement(id string) *feature.Requirement {
	for i := range p.Requirements {
		if p.Requirements[i].ID == id {
			return &p.Requirements[i]
		}
	}
	return nil
}

// Summary counts requirement outcomes.
type Summary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

// Summarize tallies the current requirement statuses.
func (p *Pipeline) Summarize() Summary {
	s := Summary{Total: len(p.Requirements)}
	for i := range p.Requirements {
		switch p.Requirements[i].Status {
		case feature.StatusCompleted:
			s.Completed++
		case feature.StatusFailed:
			s.Failed++
		case feature.StatusPending:
			s.Pending++
		}
	}
	return s
}

// Package feature loads the upstream feature specification: the project
// name, feature prefix, requirements, and epics that a pipeline run
// works through.
package feature

// Status is a requirement's lifecycle state. Transitions are monotonic:
// pending → in_progress → {completed, failed}. A terminal status never
// regresses.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusInProgress
	case StatusInProgress:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Requirement is one unit of work carried through the phase chain.
type Requirement struct {
	ID                 string   `yaml:"id" json:"id"`
	Title              string   `yaml:"title" json:"title"`
	Description        string   `yaml:"description" json:"description"`
	Priority           int      `yaml:"-" json:"priority"`
	RawPriority        any      `yaml:"priority" json:"-"`
	Status             Status   `yaml:"status" json:"status"`
	AcceptanceCriteria []string `yaml:"acceptance_criteria" json:"acceptance_criteria"`
	EpicID             string   `yaml:"epic_id" json:"epic_id,omitempty"`
	Platform           string   `yaml:"platform" json:"platform,omitempty"`
	Dependencies       []string `yaml:"dependencies" json:"dependencies,omitempty"`
	FileHints          []string `yaml:"file_hints" json:"file_hints,omitempty"`
}

// Epic groups requirements under a shared goal. RequirementIDs is
// derived by scanning requirements for back-references to the epic, not
// author-supplied.
type Epic struct {
	ID               string   `yaml:"id" json:"id"`
	Title            string   `yaml:"title" json:"title"`
	Goal             string   `yaml:"goal" json:"goal"`
	Priority         int      `yaml:"-" json:"priority"`
	RawPriority      any      `yaml:"priority" json:"-"`
	DefinitionOfDone []string `yaml:"definition_of_done" json:"definition_of_done"`
	RequirementIDs   []string `yaml:"-" json:"requirement_ids"`
}

// Progress summarizes the state of an epic's linked requirements.
type Progress struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	InProgress int `json:"in_progress"`
}

// Spec is the parsed feature specification.
type Spec struct {
	Project      string        `yaml:"project" json:"project"`
	Prefix       string        `yaml:"prefix" json:"prefix"`
	Requirements []Requirement `yaml:"requirements" json:"requirements"`
	Epics        []Epic        `yaml:"epics" json:"epics"`
}

// EpicProgress recomputes an epic's progress from the current
// requirement statuses.
func (s *Spec) EpicProgress(epicID string) Progress {
	var p Progress
	for i := range s.Requirements {
		r := &s.Requirements[i]
		if r.EpicID != epicID {
			continue
		}
		p.Total++
		switch r.Status {
		case StatusCompleted:
			p.Completed++
		case StatusFailed:
			p.Failed++
		case StatusInProgress:
			p.InProgress++
		}
	}
	return p
}

// RequirementByID returns the requirement with the given id, or nil.
func (s *Spec) RequirementByID(id string) *Requirement {
	for i := range s.Requirements {
		if s.Requirements[i].ID == id {
			return &s.Requirements[i]
		}
	}
	return nil
}

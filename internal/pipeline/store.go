package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/buildforge/autopilot/internal/feature"
)

// Store manages pipeline state on disk.
//
// Layout under baseDir:
//
//	{pipelineID}/pipeline.json
//	{pipelineID}/spec.json           cached feature spec
//	{pipelineID}/artifacts/...       plans, diffs, session logs
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.autopilot/pipelines, creating the
// directory if needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".autopilot", "pipelines")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

func (s *Store) pipelineDir(id string) string {
	return filepath.Join(s.baseDir, id)
}

func (s *Store) pipelinePath(id string) string {
	return filepath.Join(s.pipelineDir(id), "pipeline.json")
}

// ArtifactDir returns the artifact directory for a pipeline, optionally
// scoped to a requirement id.
func (s *Store) ArtifactDir(id string, requirementID string) string {
	if requirementID == "" {
		return filepath.Join(s.pipelineDir(id), "artifacts")
	}
	return filepath.Join(s.pipelineDir(id), "artifacts", requirementID)
}

// Create initialises a new pipeline from a loaded feature spec. The
// pipeline id is a fresh UUID; the storage id defaults to the pipeline
// id and keys all artifact path isolation.
func (s *Store) Create(spec *feature.Spec) (*Pipeline, error) {
	id := uuid.NewString()
	dir := s.pipelineDir(id)
	if err := os.MkdirAll(filepath.Join(dir, "artifacts"), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir artifacts: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	p := &Pipeline{
		ID:           id,
		Status:       StatusIdle,
		Requirements: spec.Requirements,
		Epics:        spec.Epics,
		Project:      spec.Project,
		Prefix:       spec.Prefix,
		StorageID:    id,
		Phase: PhaseRecord{
			TotalRequirements: len(spec.Requirements),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := saveJSON(s.pipelinePath(id), p); err != nil {
		return nil, fmt.Errorf("write pipeline.json: %w", err)
	}

	// Cache the feature spec alongside the state for later inspection.
	_ = saveJSON(filepath.Join(dir, "spec.json"), spec)

	return p, nil
}

// Get reads the pipeline state.
func (s *Store) Get(id string) (*Pipeline, error) {
	var p Pipeline
	if err := loadJSON(s.pipelinePath(id), &p); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("pipeline %s not found", id)
		}
		return nil, err
	}
	return &p, nil
}

// Update performs an atomic read-modify-write of the pipeline state.
// All mutation goes through this and the narrow setters below; callers
// never hand-edit pipeline.json.
func (s *Store) Update(id string, fn func(*Pipeline)) error {
	p, err := s.Get(id)
	if err != nil {
		return err
	}
	fn(p)
	p.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return saveJSON(s.pipelinePath(id), p)
}

// SetStatus updates the pipeline-level status.
func (s *Store) SetStatus(id string, status Status) error {
	return s.Update(id, func(p *Pipeline) {
		p.Status = status
	})
}

// SetPhase updates the phase record.
func (s *Store) SetPhase(id string, phase PhaseRecord) error {
	return s.Update(id, func(p *Pipeline) {
		p.Phase = phase
	})
}

// SetSessionID records the opaque harness session id used for resumption.
func (s *Store) SetSessionID(id string, sessionID string) error {
	return s.Update(id, func(p *Pipeline) {
		p.SessionID = sessionID
	})
}

// SetRequirementStatus moves a requirement's status, enforcing the
// monotonic transition rules. Illegal transitions are rejected.
func (s *Store) SetRequirementStatus(id string, requirementID string, status feature.Status) error {
	var transitionErr error
	err := s.Update(id, func(p *Pipeline) {
		r := p.Requirement(requirementID)
		if r == nil {
			transitionErr = fmt.Errorf("requirement %s not found", requirementID)
			return
		}
		if r.Status == status {
			return
		}
		if !r.Status.CanTransition(status) {
			transitionErr = fmt.Errorf("requirement %s: illegal transition %s -> %s", requirementID, r.Status, status)
			return
		}
		r.Status = status
	})
	if err != nil {
		return err
	}
	return transitionErr
}

// RequestAbort sets the sampled abort flag. The loop observes it at the
// next requirement boundary or backoff slice.
func (s *Store) RequestAbort(id string) error {
	return s.Update(id, func(p *Pipeline) {
		p.AbortRequested = true
	})
}

// RequestPause sets the sampled pause flag.
func (s *Store) RequestPause(id string) error {
	return s.Update(id, func(p *Pipeline) {
		p.PauseRequested = true
	})
}

// ClearPause clears the pause flag and returns the pipeline to idle so
// the loop can be re-run from the saved requirement index.
func (s *Store) ClearPause(id string) error {
	return s.Update(id, func(p *Pipeline) {
		p.PauseRequested = false
		if p.Status == StatusPaused {
			p.Status = StatusIdle
		}
	})
}

// List returns all pipelines, optionally filtered by status. Pass "" to
// return everything. Results are ordered by creation time.
func (s *Store) List(statusFilter Status) ([]Pipeline, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var pipelines []Pipeline
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		p, err := s.Get(entry.Name())
		if err != nil {
			continue // skip broken entries
		}
		if statusFilter == "" || p.Status == statusFilter {
			pipelines = append(pipelines, *p)
		}
	}

	sort.Slice(pipelines, func(i, j int) bool {
		return pipelines[i].CreatedAt < pipelines[j].CreatedAt
	})
	return pipelines, nil
}

// Delete removes all data for a pipeline.
func (s *Store) Delete(id string) error {
	dir := s.pipelineDir(id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("pipeline %s not found", id)
	}
	return os.RemoveAll(dir)
}

// SaveArtifact writes a named artifact for a requirement. Best-effort
// callers ignore the error; the artifact collaborator owns durability.
func (s *Store) SaveArtifact(id, requirementID, name string, data []byte) error {
	dir := s.ArtifactDir(id, requirementID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir artifact dir: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, name), data)
}

// GetArtifact reads a named artifact for a requirement.
func (s *Store) GetArtifact(id, requirementID, name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.ArtifactDir(id, requirementID), name))
}

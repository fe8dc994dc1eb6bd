package agent

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/buildforge/autopilot/internal/artifacts"
	"github.com/buildforge/autopilot/internal/tools"
)

// SessionOpts describes the session a Manager should open for a
// pipeline.
type SessionOpts struct {
	// RolePrefix rides on the first send of a fresh session. Ignored on
	// resume, where the conversation already carries its context.
	RolePrefix string
	WorkingDir string
	Model      string
	StorageID  string
}

// Manager owns at most one live session per pipeline.
type Manager struct {
	transport Transport
	resolver  artifacts.Resolver
	registry  *tools.Registry
	cfg       SendConfig
	log       *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// SetRegistry installs the local tool registry. Sessions opened after
// this call dispatch registered tools locally instead of letting the
// transport execute them.
func (m *Manager) SetRegistry(r *tools.Registry) {
	m.registry = r
}

// NewManager creates a session manager over one transport.
func NewManager(transport Transport, resolver artifacts.Resolver, cfg SendConfig, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		transport: transport,
		resolver:  resolver,
		cfg:       cfg,
		log:       log,
		sessions:  make(map[string]*Session),
	}
}

// Create opens a fresh session for a pipeline. It fails if the pipeline
// already has one; the caller decides whether to Close and recreate.
func (m *Manager) Create(pipelineID string, opts SessionOpts) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[pipelineID]; ok {
		return nil, fmt.Errorf("pipeline %s already has a session", pipelineID)
	}
	s := m.newSession(pipelineID, opts)
	m.sessions[pipelineID] = s
	return s, nil
}

// Resume reattaches to an existing conversation by id. The remote agent
// keeps the history; nothing is replayed locally.
func (m *Manager) Resume(pipelineID, sessionID string, opts SessionOpts) (*Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("resume pipeline %s: empty session id", pipelineID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[pipelineID]; ok {
		return nil, fmt.Errorf("pipeline %s already has a session", pipelineID)
	}
	s := m.newSession(pipelineID, opts)
	s.ID = sessionID
	s.resumed = true
	m.sessions[pipelineID] = s
	return s, nil
}

// Get returns the live session for a pipeline, if any.
func (m *Manager) Get(pipelineID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[pipelineID]
	return s, ok
}

// Close drops the pipeline's session. Closing an absent session is a
// no-op.
func (m *Manager) Close(pipelineID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[pipelineID]; ok {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		delete(m.sessions, pipelineID)
	}
}

func (m *Manager) newSession(pipelineID string, opts SessionOpts) *Session {
	return &Session{
		PipelineID:     pipelineID,
		transport:      m.transport,
		resolver:       m.resolver,
		registry:       m.registry,
		cfg:            m.cfg,
		log:            m.log,
		rolePrefix:     opts.RolePrefix,
		workingDir:     opts.WorkingDir,
		model:          opts.Model,
		storageID:      opts.StorageID,
		toolStarts:     make(map[string]time.Time),
		askedQuestions: make(map[string]bool),
	}
}

// Package orchestrator drives a pipeline's requirements through the
// explore, plan, execute, and test phases, one requirement at a time.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/buildforge/autopilot/internal/agent"
	"github.com/buildforge/autopilot/internal/classify"
	"github.com/buildforge/autopilot/internal/explore"
	"github.com/buildforge/autopilot/internal/feature"
	"github.com/buildforge/autopilot/internal/pipeline"
	"github.com/buildforge/autopilot/internal/prompt"
)

// Event types appended to the pipeline event log.
const (
	EventPipelineStarted      = "pipeline_started"
	EventPipelineCompleted    = "pipeline_completed"
	EventPipelineAborted      = "pipeline_aborted"
	EventPipelinePaused       = "pipeline_paused"
	EventRequirementStarted   = "requirement_started"
	EventRequirementCompleted = "requirement_completed"
	EventRequirementFailed    = "requirement_failed"
	EventRetryStarted         = "retry_started"
)

// Store is the pipeline persistence the loop mutates, always through
// narrow setters.
type Store interface {
	Get(id string) (*pipeline.Pipeline, error)
	SetStatus(id string, status pipeline.Status) error
	SetPhase(id string, phase pipeline.PhaseRecord) error
	SetSessionID(id string, sessionID string) error
	SetRequirementStatus(id string, requirementID string, status feature.Status) error
	SaveArtifact(id, requirementID, name string, data []byte) error
}

// EventSink receives loop lifecycle events in append order.
type EventSink interface {
	Append(pipelineID, eventType, data string) error
}

// Turner is one agent conversation from the loop's point of view.
type Turner interface {
	Send(ctx context.Context, message string) (*agent.TurnResult, error)
	ConversationID() string
	SetModel(model string)
	SetAbortCheck(fn func() bool)
}

// Sessions opens agent conversations for the loop.
type Sessions interface {
	Create(pipelineID string, opts agent.SessionOpts) (Turner, error)
	Resume(pipelineID, sessionID string, opts agent.SessionOpts) (Turner, error)
	Close(pipelineID string)
}

// managerSessions adapts agent.Manager to the Sessions interface.
type managerSessions struct {
	m *agent.Manager
}

// NewManagerSessions wraps an agent.Manager for the loop.
func NewManagerSessions(m *agent.Manager) Sessions {
	return managerSessions{m: m}
}

func (s managerSessions) Create(pipelineID string, opts agent.SessionOpts) (Turner, error) {
	return s.m.Create(pipelineID, opts)
}

func (s managerSessions) Resume(pipelineID, sessionID string, opts agent.SessionOpts) (Turner, error) {
	return s.m.Resume(pipelineID, sessionID, opts)
}

func (s managerSessions) Close(pipelineID string) {
	s.m.Close(pipelineID)
}

// Explorer runs the three-lane exploration step.
type Explorer interface {
	Explore(ctx context.Context, req explore.Request) (*explore.Result, error)
}

// Options configures one loop.
type Options struct {
	// MaxRetries caps phase attempts per requirement.
	MaxRetries int
	// WorkingDir is the project tree the agent works in.
	WorkingDir string
	// Depth is the exploration depth: quick, medium, or thorough.
	Depth string
	// TemplateDir optionally overrides the builtin prompt templates.
	TemplateDir string
}

// Loop sequences one pipeline's requirements through the phase chain.
// One Loop instance owns its pipeline id exclusively; no other driver
// mutates that pipeline while Run is in flight.
type Loop struct {
	store    Store
	events   EventSink
	sessions Sessions
	explorer Explorer
	diff     DiffCapturer
	opts     Options
	log      *zap.Logger
}

// New creates a Loop. A nil diff capturer disables diff artifacts.
func New(store Store, events EventSink, sessions Sessions, explorer Explorer, diff DiffCapturer, opts Options, log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	return &Loop{
		store:    store,
		events:   events,
		sessions: sessions,
		explorer: explorer,
		diff:     diff,
		opts:     opts,
		log:      log,
	}
}

// errStopped is an internal sentinel: abort/pause was observed and the
// corresponding status already persisted; Run should return nil.
var errStopped = errors.New("stopped")

// errAwaitingInput marks a phase turn that ended with the agent asking
// the user something. The run pauses instead of scoring the turn.
var errAwaitingInput = errors.New("awaiting user input")

// Run processes every not-yet-terminal requirement of the pipeline in
// stable ascending priority order. A sampled abort or pause returns
// nil; those are operator outcomes, not errors.
func (l *Loop) Run(ctx context.Context, pipelineID string) error {
	p, err := l.store.Get(pipelineID)
	if err != nil {
		return fmt.Errorf("load pipeline: %w", err)
	}
	if p.Status.Terminal() {
		return fmt.Errorf("pipeline %s already %s", pipelineID, p.Status)
	}

	session, err := l.openSession(p)
	if err != nil {
		l.markFailed(pipelineID)
		return fmt.Errorf("open session: %w", err)
	}
	defer l.sessions.Close(pipelineID)

	session.SetAbortCheck(func() bool {
		cur, err := l.store.Get(pipelineID)
		return err == nil && cur.AbortRequested
	})

	// The pipeline is "qa" from the moment the run starts until a
	// sub-phase setter narrows it.
	if err := l.store.SetStatus(pipelineID, pipeline.StatusQA); err != nil {
		return err
	}
	l.appendEvent(pipelineID, EventPipelineStarted, "")

	order := requirementOrder(p.Requirements)
	for _, ri := range order {
		p, err = l.store.Get(pipelineID)
		if err != nil {
			return fmt.Errorf("reload pipeline: %w", err)
		}
		if stopped, err := l.sampleControlFlags(p); stopped || err != nil {
			return err
		}

		req := &p.Requirements[ri]
		if req.Status.Terminal() {
			continue
		}

		// RequirementIndex is always the position in the pipeline's
		// requirement array, not the priority-sorted visit order.
		if err := l.store.SetPhase(pipelineID, pipeline.PhaseRecord{
			Current:           string(pipeline.StatusExploring),
			RequirementIndex:  ri,
			TotalRequirements: len(order),
		}); err != nil {
			return err
		}

		if err := l.runRequirement(ctx, p, req, session); err != nil {
			if errors.Is(err, errStopped) {
				return nil
			}
			l.markFailed(pipelineID)
			return err
		}
	}

	p, err = l.store.Get(pipelineID)
	if err != nil {
		return fmt.Errorf("reload pipeline: %w", err)
	}
	if stopped, err := l.sampleControlFlags(p); stopped || err != nil {
		return err
	}

	// The pipeline completes even when some requirements failed; the
	// summary event carries the tallies.
	if err := l.store.SetStatus(pipelineID, pipeline.StatusCompleted); err != nil {
		return err
	}
	summary := p.Summarize()
	data, _ := json.Marshal(summary)
	l.appendEvent(pipelineID, EventPipelineCompleted, string(data))
	l.log.Info("pipeline completed",
		zap.String("pipeline", pipelineID),
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
	)
	return nil
}

// openSession creates a fresh conversation or resumes the persisted one.
func (l *Loop) openSession(p *pipeline.Pipeline) (Turner, error) {
	rolePrefix, err := l.renderRole(p)
	if err != nil {
		return nil, err
	}
	opts := agent.SessionOpts{
		RolePrefix: rolePrefix,
		WorkingDir: l.opts.WorkingDir,
		StorageID:  p.StorageID,
	}
	if p.SessionID != "" {
		return l.sessions.Resume(p.ID, p.SessionID, opts)
	}
	return l.sessions.Create(p.ID, opts)
}

func (l *Loop) renderRole(p *pipeline.Pipeline) (string, error) {
	tmpl, err := prompt.LoadTemplate(prompt.TemplateRole, l.opts.TemplateDir)
	if err != nil {
		return "", err
	}
	return prompt.Render(tmpl, prompt.Vars{
		"project":     p.Project,
		"working_dir": l.opts.WorkingDir,
	})
}

// sampleControlFlags persists aborted/paused status when the
// corresponding flag is set. The in-flight requirement's own status is
// left untouched so the run is resumable from the same index.
func (l *Loop) sampleControlFlags(p *pipeline.Pipeline) (stopped bool, err error) {
	if p.AbortRequested {
		if err := l.store.SetStatus(p.ID, pipeline.StatusAborted); err != nil {
			return true, err
		}
		l.appendEvent(p.ID, EventPipelineAborted, "")
		l.log.Info("pipeline aborted", zap.String("pipeline", p.ID))
		return true, nil
	}
	if p.PauseRequested {
		if err := l.store.SetStatus(p.ID, pipeline.StatusPaused); err != nil {
			return true, err
		}
		l.appendEvent(p.ID, EventPipelinePaused, "")
		l.log.Info("pipeline paused", zap.String("pipeline", p.ID))
		return true, nil
	}
	return false, nil
}

// runRequirement drives one requirement through its bounded attempt
// loop. A requirement's permanent failure never fails the pipeline.
func (l *Loop) runRequirement(ctx context.Context, p *pipeline.Pipeline, req *feature.Requirement, session Turner) error {
	if req.Status == feature.StatusPending {
		if err := l.store.SetRequirementStatus(p.ID, req.ID, feature.StatusInProgress); err != nil {
			return err
		}
	}
	l.appendEvent(p.ID, EventRequirementStarted, req.ID)
	l.log.Info("requirement started",
		zap.String("pipeline", p.ID),
		zap.String("requirement", req.ID),
		zap.Int("priority", req.Priority),
	)

	for attempt := 0; attempt < l.opts.MaxRetries; attempt++ {
		cur, err := l.store.Get(p.ID)
		if err != nil {
			return err
		}
		if cur.AbortRequested || cur.PauseRequested {
			if _, err := l.sampleControlFlags(cur); err != nil {
				return err
			}
			return errStopped
		}

		if attempt > 0 {
			l.appendEvent(p.ID, EventRetryStarted, fmt.Sprintf(`{"requirement":%q,"attempt":%d}`, req.ID, attempt+1))
		}

		passed, err := l.runPhases(ctx, p, req, session, attempt)
		if err != nil {
			if errors.Is(err, errAwaitingInput) {
				return l.pauseForInput(p.ID, req.ID)
			}
			c := classify.Classify(err)
			l.log.Warn("phase chain failed",
				zap.String("requirement", req.ID),
				zap.Int("attempt", attempt+1),
				zap.String("error_type", string(c.Type)),
				zap.Error(err),
			)
			if c.Type == classify.Configuration {
				// Retrying a misconfiguration cannot help.
				return l.failRequirement(p.ID, req.ID, err.Error())
			}
			continue
		}
		if passed {
			if err := l.store.SetRequirementStatus(p.ID, req.ID, feature.StatusCompleted); err != nil {
				return err
			}
			l.appendEvent(p.ID, EventRequirementCompleted, req.ID)
			l.log.Info("requirement completed", zap.String("requirement", req.ID))
			return nil
		}
	}
	return l.failRequirement(p.ID, req.ID, "retry budget exhausted")
}

// pauseForInput persists the paused status when a turn ended with the
// agent asking the user something. The requirement stays in_progress so
// resume picks it up at the same attempt after the user answers in the
// agent conversation.
func (l *Loop) pauseForInput(pipelineID, reqID string) error {
	if err := l.store.SetStatus(pipelineID, pipeline.StatusPaused); err != nil {
		return err
	}
	l.appendEvent(pipelineID, EventPipelinePaused, fmt.Sprintf(`{"requirement":%q,"reason":"awaiting user input"}`, reqID))
	l.log.Info("pipeline paused awaiting user input",
		zap.String("pipeline", pipelineID),
		zap.String("requirement", reqID),
	)
	return errStopped
}

// markFailed best-effort persists a pipeline-level failure before the
// driver error propagates. Requirement-level failures never come here;
// the pipeline continues past those.
func (l *Loop) markFailed(pipelineID string) {
	if err := l.store.SetStatus(pipelineID, pipeline.StatusFailed); err != nil {
		l.log.Warn("persist failed status", zap.Error(err))
	}
}

func (l *Loop) failRequirement(pipelineID, reqID, reason string) error {
	if err := l.store.SetRequirementStatus(pipelineID, reqID, feature.StatusFailed); err != nil {
		return err
	}
	l.appendEvent(pipelineID, EventRequirementFailed, fmt.Sprintf(`{"requirement":%q,"reason":%q}`, reqID, reason))
	l.log.Warn("requirement failed",
		zap.String("requirement", reqID),
		zap.String("reason", reason),
	)
	return nil
}

// runPhases executes one explore → plan → execute → test attempt.
func (l *Loop) runPhases(ctx context.Context, p *pipeline.Pipeline, req *feature.Requirement, session Turner, attempt int) (bool, error) {
	setPhase := func(status pipeline.Status) error {
		if err := l.store.SetStatus(p.ID, status); err != nil {
			return err
		}
		return l.store.SetPhase(p.ID, pipeline.PhaseRecord{
			Current:           string(status),
			RequirementIndex:  requirementIndex(p, req.ID),
			RetryCount:        attempt,
			TotalRequirements: len(p.Requirements),
		})
	}

	if err := setPhase(pipeline.StatusExploring); err != nil {
		return false, err
	}
	exp, err := l.explorer.Explore(ctx, explore.Request{
		RequirementID: req.ID,
		Title:         req.Title,
		Description:   req.Description,
		Platform:      req.Platform,
		Depth:         l.opts.Depth,
		WorkingDir:    l.opts.WorkingDir,
	})
	if err != nil {
		return false, fmt.Errorf("explore: %w", err)
	}
	session.SetModel(exp.Model)
	if data, err := json.MarshalIndent(exp.Context, "", "  "); err == nil {
		l.saveArtifact(p.ID, req.ID, "exploration.json", data)
	}

	vars := prompt.Vars{
		"requirement_id":          req.ID,
		"requirement_title":       req.Title,
		"requirement_description": req.Description,
	}
	if len(req.AcceptanceCriteria) > 0 {
		vars["acceptance_criteria"] = "- " + strings.Join(req.AcceptanceCriteria, "\n- ")
	}
	if summary := contextSummary(exp.Context); summary != "" {
		vars["exploration_context"] = summary
	}

	// Plan. The plan artifact is best effort; its absence never fails
	// the phase.
	if err := setPhase(pipeline.StatusPlanning); err != nil {
		return false, err
	}
	planText, err := l.phaseTurn(ctx, session, prompt.TemplatePlan, vars)
	if err != nil {
		return false, fmt.Errorf("plan: %w", err)
	}
	l.persistSessionID(p.ID, session)
	if planText != "" {
		l.saveArtifact(p.ID, req.ID, "plan.md", []byte(planText))
		vars["plan"] = planText
	}

	// Execute, then capture the source diff as an artifact.
	if err := setPhase(pipeline.StatusExecuting); err != nil {
		return false, err
	}
	if _, err := l.phaseTurn(ctx, session, prompt.TemplateExecute, vars); err != nil {
		return false, fmt.Errorf("execute: %w", err)
	}
	if l.diff != nil {
		if patch, err := l.diff.Capture(ctx, l.opts.WorkingDir); err != nil {
			l.log.Warn("diff capture failed", zap.Error(err))
		} else if len(patch) > 0 {
			l.saveArtifact(p.ID, req.ID, "diff.patch", patch)
		}
	}

	// Test, with the fail-closed verdict scan.
	if err := setPhase(pipeline.StatusTesting); err != nil {
		return false, err
	}
	testText, err := l.phaseTurn(ctx, session, prompt.TemplateTest, vars)
	if err != nil {
		return false, fmt.Errorf("test: %w", err)
	}
	verdict := ScanVerdict(testText)
	if data, err := json.Marshal(verdict); err == nil {
		l.saveArtifact(p.ID, req.ID, "test-report.json", data)
	}
	l.log.Info("test verdict",
		zap.String("requirement", req.ID),
		zap.Bool("passed", verdict.Passed),
		zap.String("confidence", verdict.Confidence),
	)
	return verdict.Passed, nil
}

// phaseTurn renders one phase template and runs one agent turn.
func (l *Loop) phaseTurn(ctx context.Context, session Turner, template string, vars prompt.Vars) (string, error) {
	tmpl, err := prompt.LoadTemplate(template, l.opts.TemplateDir)
	if err != nil {
		return "", err
	}
	body, err := prompt.Render(tmpl, vars)
	if err != nil {
		return "", err
	}
	res, err := session.Send(ctx, body)
	if err != nil {
		return "", err
	}
	if res.AwaitingUserInput {
		return "", errAwaitingInput
	}
	return res.Text, nil
}

func (l *Loop) persistSessionID(pipelineID string, session Turner) {
	if id := session.ConversationID(); id != "" {
		if err := l.store.SetSessionID(pipelineID, id); err != nil {
			l.log.Warn("persist session id failed", zap.Error(err))
		}
	}
}

func (l *Loop) saveArtifact(pipelineID, reqID, name string, data []byte) {
	if err := l.store.SaveArtifact(pipelineID, reqID, name, data); err != nil {
		l.log.Warn("save artifact failed",
			zap.String("artifact", name),
			zap.Error(err),
		)
	}
}

func (l *Loop) appendEvent(pipelineID, eventType, data string) {
	if l.events == nil {
		return
	}
	if err := l.events.Append(pipelineID, eventType, data); err != nil {
		l.log.Warn("append event failed",
			zap.String("type", eventType),
			zap.Error(err),
		)
	}
}

// requirementOrder returns requirement indices sorted by ascending
// priority; equal priorities keep their original order.
func requirementOrder(reqs []feature.Requirement) []int {
	order := make([]int, len(reqs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return reqs[order[a]].Priority < reqs[order[b]].Priority
	})
	return order
}

func requirementIndex(p *pipeline.Pipeline, reqID string) int {
	for i := range p.Requirements {
		if p.Requirements[i].ID == reqID {
			return i
		}
	}
	return 0
}

// contextSummary flattens the merged exploration context into prompt
// text.
func contextSummary(ctx *explore.Context) string {
	if ctx == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range ctx.Patterns {
		fmt.Fprintf(&sb, "Pattern %s: %s (%s)\n", p.Name, p.Description, strings.Join(p.Files, ", "))
	}
	var files []string
	files = append(files, ctx.Related.Templates...)
	files = append(files, ctx.Related.Types...)
	files = append(files, ctx.Related.Tests...)
	if len(files) > 0 {
		fmt.Fprintf(&sb, "Related files: %s\n", strings.Join(files, ", "))
	}
	if len(ctx.Endpoints) > 0 {
		fmt.Fprintf(&sb, "Endpoints: %s\n", strings.Join(ctx.Endpoints, ", "))
	}
	if len(ctx.TestPatterns) > 0 {
		fmt.Fprintf(&sb, "Test conventions: %s\n", strings.Join(ctx.TestPatterns, "; "))
	}
	for _, n := range ctx.Notes {
		fmt.Fprintf(&sb, "Note: %s\n", n)
	}
	return strings.TrimSpace(sb.String())
}

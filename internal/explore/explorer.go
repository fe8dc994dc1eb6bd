package explore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/buildforge/autopilot/internal/classify"
	"github.com/buildforge/autopilot/internal/prompt"
)

// Runner executes one read-only investigation turn and returns the
// agent's reply text. Each lane gets its own call; implementations may
// open a fresh conversation per lane.
type Runner interface {
	RunLane(ctx context.Context, lane, prompt string) (string, error)
}

// Explorer runs the three-lane exploration step.
type Explorer struct {
	runner      Runner
	timeout     time.Duration
	tiers       ModelTiers
	templateDir string
	log         *zap.Logger
}

// New creates an Explorer. templateDir optionally overrides the builtin
// lane prompts.
func New(runner Runner, timeout time.Duration, tiers ModelTiers, templateDir string, log *zap.Logger) *Explorer {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Explorer{
		runner:      runner,
		timeout:     timeout,
		tiers:       tiers,
		templateDir: templateDir,
		log:         log,
	}
}

var laneTemplates = map[string]string{
	LanePatterns:  prompt.TemplateExplorePatterns,
	LaneContracts: prompt.TemplateExploreAPI,
	LaneTests:     prompt.TemplateExploreTests,
}

// laneOrder fixes iteration order for launches and error reports.
var laneOrder = []string{LanePatterns, LaneContracts, LaneTests}

// Explore fans out the three lanes concurrently, each raced against the
// per-lane timeout, with all-settled semantics: one lane's failure
// never cancels its siblings. Only when every lane fails does the step
// itself fail.
func (e *Explorer) Explore(ctx context.Context, req Request) (*Result, error) {
	vars := prompt.Vars{
		"working_dir":             req.WorkingDir,
		"requirement_id":          req.RequirementID,
		"requirement_title":       req.Title,
		"requirement_description": req.Description,
	}

	results := make([]*LaneResult, len(laneOrder))
	errs := make([]error, len(laneOrder))

	var g errgroup.Group
	for i, lane := range laneOrder {
		i, lane := i, lane
		g.Go(func() error {
			tmpl, err := prompt.LoadTemplate(laneTemplates[lane], e.templateDir)
			if err != nil {
				errs[i] = err
				return nil
			}
			body, err := prompt.Render(tmpl, vars)
			if err != nil {
				errs[i] = err
				return nil
			}
			start := time.Now()
			text, err := e.runLaneWithTimeout(ctx, lane, body)
			if err != nil {
				e.log.Warn("explorer lane failed",
					zap.String("lane", lane),
					zap.Error(err),
				)
				errs[i] = err
				return nil
			}
			res := parseLaneReply(lane, text)
			res.Duration = time.Since(start)
			results[i] = res
			return nil
		})
	}
	g.Wait()

	var settled []*LaneResult
	var failures []LaneFailure
	for i, lane := range laneOrder {
		if errs[i] != nil {
			failures = append(failures, LaneFailure{
				Lane:    lane,
				Message: errs[i].Error(),
				Type:    classify.Classify(errs[i]).Type,
			})
			continue
		}
		settled = append(settled, results[i])
	}

	if len(settled) == 0 {
		return nil, allLanesFailed(failures)
	}

	merged := merge(settled, failures)
	score := complexityScore(req, merged)
	model := selectModel(req.Depth, score, e.tiers)

	e.log.Info("exploration complete",
		zap.String("requirement", req.RequirementID),
		zap.Int("lanes_ok", len(settled)),
		zap.Int("complexity", score),
		zap.String("model", model),
	)

	return &Result{Context: merged, Complexity: score, Model: model}, nil
}

// runLaneWithTimeout races the lane against the per-lane timeout. The
// losing remote call is abandoned, not cancelled.
func (e *Explorer) runLaneWithTimeout(ctx context.Context, lane, body string) (string, error) {
	type outcome struct {
		text string
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		text, err := e.runner.RunLane(ctx, lane, body)
		ch <- outcome{text, err}
	}()

	select {
	case out := <-ch:
		return out.text, out.err
	case <-time.After(e.timeout):
		return "", fmt.Errorf("lane %s timed out after %s", lane, e.timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// allLanesFailed builds the error for a fully-failed explore step,
// enumerating every lane's message and classified type.
func allLanesFailed(failures []LaneFailure) error {
	sort.Slice(failures, func(i, j int) bool { return failures[i].Lane < failures[j].Lane })
	parts := make([]string, len(failures))
	for i, f := range failures {
		parts[i] = fmt.Sprintf("%s: %s (%s)", f.Lane, f.Message, f.Type)
	}
	return fmt.Errorf("all exploration lanes failed: %s", strings.Join(parts, "; "))
}

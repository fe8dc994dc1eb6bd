package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/buildforge/autopilot/internal/agent"
	"github.com/buildforge/autopilot/internal/artifacts"
	"github.com/buildforge/autopilot/internal/config"
	"github.com/buildforge/autopilot/internal/events"
	"github.com/buildforge/autopilot/internal/explore"
	"github.com/buildforge/autopilot/internal/feature"
	"github.com/buildforge/autopilot/internal/orchestrator"
	"github.com/buildforge/autopilot/internal/pipeline"
	"github.com/buildforge/autopilot/internal/tools"
)

var (
	runDir     string
	runDepth   string
	runVerbose bool
)

var runCmd = &cobra.Command{
	Use:   "run <feature-spec.yaml>",
	Short: "Create a pipeline from a feature spec and drive it to completion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger(runVerbose)
		if err != nil {
			return err
		}
		defer log.Sync()

		spec, warnings, err := feature.Load(args[0])
		if err != nil {
			return fmt.Errorf("load feature spec: %w", err)
		}
		for _, w := range warnings {
			fmt.Printf("warning: %s\n", w)
		}

		store := pipeline.NewStore(cfg.Storage.PipelineDir)
		p, err := store.Create(spec)
		if err != nil {
			return fmt.Errorf("create pipeline: %w", err)
		}
		fmt.Printf("pipeline %s created (%d requirements)\n", p.ID, len(p.Requirements))

		return drivePipeline(cmd, cfg, log, store, p.ID)
	},
}

func init() {
	runCmd.Flags().StringVar(&runDir, "dir", ".", "project working directory the agent operates in")
	runCmd.Flags().StringVar(&runDepth, "depth", "", "exploration depth: quick, medium, or thorough (default from config)")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "verbose logging")
}

// drivePipeline wires the store, event log, agent manager, explorer,
// and loop together and runs the pipeline to its next stopping point.
func drivePipeline(cmd *cobra.Command, cfg *config.Config, log *zap.Logger, store *pipeline.Store, pipelineID string) error {
	p, err := store.Get(pipelineID)
	if err != nil {
		return err
	}

	evlog, err := events.Open(cfg.Storage.EventsPath)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer evlog.Close()
	if err := evlog.Backfill(pipelineID, nil); err != nil {
		log.Warn("event backfill failed", zap.Error(err))
	}

	manager := agent.NewManager(
		&agent.CLITransport{},
		artifacts.Resolver{StorageRoot: cfg.Storage.Root},
		agent.SendConfig{
			MaxRetries: cfg.Session.MaxRetries,
			Backoff:    cfg.BackoffWindow(),
			PollSlice:  cfg.PollSlice(),
			MaxTurns:   cfg.Session.MaxTurns,
		},
		log,
	)
	manager.SetRegistry(tools.NewRegistry(&tools.HTTPDriver{}, tools.DirSink{
		Dir: store.ArtifactDir(pipelineID, ""),
	}))

	laneRunner := &agent.LaneRunner{
		Manager:    manager,
		PipelineID: pipelineID,
		WorkingDir: runDir,
		Model:      cfg.Models.Cheap,
		StorageID:  p.StorageID,
	}
	explorer := explore.New(laneRunner, cfg.LaneTimeout(), explore.ModelTiers{
		Cheap: cfg.Models.Cheap,
		Mid:   cfg.Models.Mid,
		Top:   cfg.Models.Top,
	}, templateDir(cfg), log)

	depth := runDepth
	if depth == "" {
		depth = cfg.Explorer.Depth
	}

	loop := orchestrator.New(
		store,
		evlog,
		observedSessions{
			manager:  manager,
			observer: toolLogger{log: evlog},
			notifier: questionPrinter{},
		},
		explorer,
		orchestrator.GitDiff{},
		orchestrator.Options{
			MaxRetries:  cfg.Orchestrator.MaxRetries,
			WorkingDir:  runDir,
			Depth:       depth,
			TemplateDir: templateDir(cfg),
		},
		log,
	)

	if err := loop.Run(cmd.Context(), pipelineID); err != nil {
		return err
	}

	p, err = store.Get(pipelineID)
	if err != nil {
		return err
	}
	s := p.Summarize()
	fmt.Printf("pipeline %s: %s (%d completed, %d failed, %d pending)\n",
		pipelineID, p.Status, s.Completed, s.Failed, s.Pending)
	return nil
}

func templateDir(cfg *config.Config) string {
	return filepath.Join(cfg.Storage.Root, "templates")
}

// observedSessions attaches the event-log observer and the question
// printer to every session the loop opens.
type observedSessions struct {
	manager  *agent.Manager
	observer agent.Observer
	notifier agent.QuestionNotifier
}

func (s observedSessions) Create(pipelineID string, opts agent.SessionOpts) (orchestrator.Turner, error) {
	sess, err := s.manager.Create(pipelineID, opts)
	if err != nil {
		return nil, err
	}
	s.attach(sess)
	return sess, nil
}

func (s observedSessions) Resume(pipelineID, sessionID string, opts agent.SessionOpts) (orchestrator.Turner, error) {
	sess, err := s.manager.Resume(pipelineID, sessionID, opts)
	if err != nil {
		return nil, err
	}
	s.attach(sess)
	return sess, nil
}

func (s observedSessions) Close(pipelineID string) {
	s.manager.Close(pipelineID)
}

func (s observedSessions) attach(sess *agent.Session) {
	if s.observer != nil {
		sess.AddObserver(s.observer)
	}
	if s.notifier != nil {
		sess.SetQuestionNotifier(s.notifier)
	}
}

// toolLogger appends every tool event to the persistent event log.
type toolLogger struct {
	log *events.Log
}

func (t toolLogger) OnToolEvent(e agent.ToolEvent) {
	_ = t.log.AppendTool(events.ToolEvent{
		PipelineID: e.PipelineID,
		SessionID:  e.SessionID,
		Tool:       e.Call.Name,
		CallID:     e.Call.ID,
		Status:     string(e.Kind),
		DurationMs: int(e.Duration.Milliseconds()),
		Detail:     e.StatusLine,
	})
}

// questionPrinter surfaces agent questions on stdout so the operator
// knows why the pipeline is waiting.
type questionPrinter struct{}

func (questionPrinter) OnQuestion(q agent.Question) {
	fmt.Printf("\nagent question (%s): %s\n", q.Header, q.Question)
	for _, opt := range q.Options {
		fmt.Printf("  - %s\n", opt)
	}
	fmt.Println("answer in the agent conversation, then resume the pipeline")
}

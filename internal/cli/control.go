package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/buildforge/autopilot/internal/pipeline"
)

var abortCmd = &cobra.Command{
	Use:   "abort <pipeline-id>",
	Short: "Request a pipeline abort, observed at the next sampled boundary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store := pipeline.NewStore(cfg.Storage.PipelineDir)
		if err := store.RequestAbort(args[0]); err != nil {
			return err
		}
		fmt.Printf("abort requested for %s\n", args[0])
		return nil
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause <pipeline-id>",
	Short: "Request a pipeline pause; the run can be resumed later",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store := pipeline.NewStore(cfg.Storage.PipelineDir)
		if err := store.RequestPause(args[0]); err != nil {
			return err
		}
		fmt.Printf("pause requested for %s\n", args[0])
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <pipeline-id>",
	Short: "Resume a paused pipeline from its saved position",
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

		store := pipeline.NewStore(cfg.Storage.PipelineDir)
		p, err := store.Get(args[0])
		if err != nil {
			return err
		}
		if p.Status.Terminal() {
			return fmt.Errorf("pipeline %s is %s and cannot be resumed", p.ID, p.Status)
		}
		if err := store.ClearPause(p.ID); err != nil {
			return err
		}
		return drivePipeline(cmd, cfg, log, store, p.ID)
	},
}

func init() {
	resumeCmd.Flags().StringVar(&runDir, "dir", ".", "project working directory the agent operates in")
	resumeCmd.Flags().StringVar(&runDepth, "depth", "", "exploration depth: quick, medium, or thorough (default from config)")
	resumeCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "verbose logging")
}

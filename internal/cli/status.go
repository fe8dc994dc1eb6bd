package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/buildforge/autopilot/internal/pipeline"
)

var statusCmd = &cobra.Command{
	Use:   "status [pipeline-id]",
	Short: "Show pipeline status, or list all pipelines",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store := pipeline.NewStore(cfg.Storage.PipelineDir)

		if len(args) == 1 {
			return showPipeline(store, args[0])
		}
		return listPipelines(store)
	},
}

func showPipeline(store *pipeline.Store, id string) error {
	p, err := store.Get(id)
	if err != nil {
		return err
	}
	s := p.Summarize()
	fmt.Printf("pipeline:  %s\n", p.ID)
	fmt.Printf("project:   %s (%s)\n", p.Project, p.Prefix)
	fmt.Printf("status:    %s\n", p.Status)
	if p.Phase.Current != "" {
		fmt.Printf("phase:     %s (requirement %d/%d, attempt %d)\n",
			p.Phase.Current, p.Phase.RequirementIndex+1, p.Phase.TotalRequirements, p.Phase.RetryCount+1)
	}
	fmt.Printf("progress:  %d completed, %d failed, %d pending of %d\n",
		s.Completed, s.Failed, s.Pending, s.Total)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nID\tPRIORITY\tSTATUS\tTITLE")
	for _, r := range p.Requirements {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", r.ID, r.Priority, r.Status, r.Title)
	}
	return w.Flush()
}

func listPipelines(store *pipeline.Store) error {
	pipelines, err := store.List("")
	if err != nil {
		return err
	}
	if len(pipelines) == 0 {
		fmt.Println("no pipelines")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROJECT\tSTATUS\tPROGRESS\tUPDATED")
	for _, p := range pipelines {
		s := p.Summarize()
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
			p.ID, p.Project, p.Status, s.Completed, s.Total, p.UpdatedAt)
	}
	return w.Flush()
}

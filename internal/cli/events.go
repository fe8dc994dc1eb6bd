package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/buildforge/autopilot/internal/events"
)

var eventsTools bool

var eventsCmd = &cobra.Command{
	Use:   "events <pipeline-id>",
	Short: "Print a pipeline's event log in append order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := events.Open(cfg.Storage.EventsPath)
		if err != nil {
			return err
		}
		defer log.Close()

		if eventsTools {
			return printToolEvents(log, args[0])
		}
		return printEvents(log, args[0])
	},
}

func init() {
	eventsCmd.Flags().BoolVar(&eventsTools, "tools", false, "show tool events instead of pipeline events")
}

func printEvents(log *events.Log, pipelineID string) error {
	evs, err := log.List(pipelineID)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tDATA")
	for _, e := range evs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Timestamp, e.Type, e.Data)
	}
	return w.Flush()
}

func printToolEvents(log *events.Log, pipelineID string) error {
	evs, err := log.ListTools(pipelineID)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTOOL\tSTATUS\tMS\tDETAIL")
	for _, e := range evs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", e.Timestamp, e.Tool, e.Status, e.DurationMs, e.Detail)
	}
	return w.Flush()
}

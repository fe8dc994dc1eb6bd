package cli

import (
	"github.com/spf13/cobra"

	"github.com/buildforge/autopilot/internal/feature"
)

var specCmd = &cobra.Command{
	Use:   "spec",
	Short: "Feature specification utilities",
}

var specValidateCmd = &cobra.Command{
	Use:   "validate <feature-spec.yaml>",
	Short: "Parse a feature spec and report warnings without running it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, warnings, err := feature.Load(args[0])
		if err != nil {
			return err
		}
		for _, w := range warnings {
			cmd.Printf("warning: %s\n", w)
		}
		cmd.Printf("%s (%s): %d requirements, %d epics\n",
			spec.Project, spec.Prefix, len(spec.Requirements), len(spec.Epics))
		for _, e := range spec.Epics {
			cmd.Printf("  epic %s: %d requirements\n", e.ID, len(e.RequirementIDs))
		}
		return nil
	},
}

func init() {
	specCmd.AddCommand(specValidateCmd)
}

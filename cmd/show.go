package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jugglinmike/test262-harness/internal/controller"
	"github.com/jugglinmike/test262-harness/internal/domain"
)

var showFailuresOnlyFlag bool

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [run-id]",
		Short: "Show stored runs",
		Long: `Without arguments, list the runs recorded by the store reporter, newest
first. With a run id (or "latest"), print the results of that run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var runID string
			if len(args) == 1 {
				runID = args[0]
			}

			return workflow.Show(cmd.Context(), domain.ShowArgs{
				DB:           viper.GetString(dbKey),
				RunID:        runID,
				FailuresOnly: showFailuresOnlyFlag,
				UI:           controller.NewSimpleUI(cmd),
			})
		},
	}

	cmd.Flags().BoolVarP(&showFailuresOnlyFlag, "failures-only", "f", false, "only print scenarios that did not pass")

	return cmd
}

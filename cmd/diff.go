package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jugglinmike/test262-harness/internal/adapter"
	"github.com/jugglinmike/test262-harness/internal/controller"
	"github.com/jugglinmike/test262-harness/internal/domain"
)

var diffFailOnRegressionFlag bool

func newDiffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff <run-a> [run-b]",
		Short: "Compare the outcomes of two stored runs",
		Long: `Print a unified diff of the scenario outcomes of two stored runs.
run-b defaults to the latest run.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to := adapter.LatestRun
			if len(args) == 2 {
				to = args[1]
			}

			return workflow.Diff(cmd.Context(), domain.DiffArgs{
				DB:               viper.GetString(dbKey),
				From:             args[0],
				To:               to,
				FailOnRegression: diffFailOnRegressionFlag,
				UI:               controller.NewSimpleUI(cmd),
			})
		},
	}

	cmd.Flags().BoolVar(&diffFailOnRegressionFlag, "fail-on-regression", false, "exit with status 1 when a passing scenario stopped passing")

	return cmd
}

package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jugglinmike/test262-harness/internal/controller"
	"github.com/jugglinmike/test262-harness/internal/domain"
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [patterns...]",
		Short: "List test262 scenarios without running them",
		Long:  listLongDescription,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindCorpusFlags(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			shard, err := parseShardFlag(viper.GetString(shardKey))
			if err != nil {
				return err
			}

			return workflow.List(cmd.Context(), domain.ListArgs{
				Corpus: corpusConfig(args, 0),
				Shard:  shard,
				UI:     controller.NewSimpleUI(cmd),
			})
		},
	}

	configureCorpusFlags(cmd)

	return cmd
}

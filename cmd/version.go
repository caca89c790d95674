package cmd

import (
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/jugglinmike/test262-harness/internal/adapter"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the version information",
		Long: `Displays the build version of test262-harness, the Go version used to build
it, the newest supported test262 release and the harness script version.`,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println("test262 support\t", adapter.SupportedTest262Major)
			cmd.Println("harness script\t", adapter.HarnessTemplateVersion)

			info, ok := debug.ReadBuildInfo()
			if !ok || info.Main.Version == "" {
				cmd.Println("version: unknown")
				return
			}

			cmd.Println("tool version\t", info.Main.Version)
			cmd.Println("go version\t", info.GoVersion)
		},
	}
}

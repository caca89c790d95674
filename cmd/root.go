// Package cmd provides the root command and CLI setup for test262-harness.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jugglinmike/test262-harness/internal/domain"
)

// Process exit codes.
const (
	ExitSuccess      = 0
	ExitTestsFailed  = 1
	ExitCommandError = 2
)

var workflow = domain.NewWorkflow()

// verboseFlag forces debug logging.
var verboseFlag bool

// logFileFlag overrides the log file path.
var logFileFlag string

// dbFlag is shared by the commands that read or write stored runs.
var dbFlag string

const patternsHelp = `Test files are given as files, directories or glob patterns:
  - test/built-ins/Array              every test below a directory
  - 'test/**/*-async.js'              doublestar globs (quote them)
  - test/language/types/null/S8.2_A1_T1.js`

const rootLongDescription = `test262-harness runs the ECMAScript conformance suite (test262) against a
JavaScript host. Every test file is expanded into its strict and sloppy
scenarios, executed on a pool of workers with a per-scenario timeout, and
validated against the expectations declared in its front-matter.

` + patternsHelp

const runLongDescription = `Run the selected test262 files (default: the whole test/ directory of the
checkout found from the current directory).

` + patternsHelp

const listLongDescription = `List the scenarios the selected files expand to, without running them.

` + patternsHelp

// rootCmd represents the base command when called without any subcommands.
var rootCmd = newRootCmd()

func init() {
	rootCmd.AddCommand(
		newRunCmd(),
		newListCmd(),
		newShowCmd(),
		newDiffCmd(),
		newInitCmd(),
		newVersionCmd(),
	)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "test262-harness",
		Short:         "Run test262 against a JavaScript host",
		Long:          rootLongDescription,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			configureLogger(logFileFlag, verboseFlag)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	configureRootFlags(cmd)

	return cmd
}

func configureRootFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolVarP(&verboseFlag, verboseFlagName, "v", defaultLogVerbose, "log at debug level")
	cmd.PersistentFlags().StringVar(&logFileFlag, logFileFlagName, "", "log file (default "+defaultLogFilename+")")

	cmd.PersistentFlags().StringVar(&dbFlag, dbFlagName, defaultDB, "sqlite database holding stored runs")
	bindFlagToConfig(cmd.PersistentFlags().Lookup(dbFlagName), dbKey)
}

// bindFlagToConfig wires a Cobra flag to a Viper key so config/env values feed the flag.
func bindFlagToConfig(flag *pflag.Flag, key string) {
	if flag == nil {
		cobra.CheckErr(fmt.Errorf("flag for config key %q not found", key))
		return
	}

	cobra.CheckErr(viper.BindPFlag(key, flag))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)

	stop()

	if err != nil && !errors.Is(err, domain.ErrTestsFailed) {
		rootCmd.PrintErrln("Error:", err)
	}

	if code := exitCode(err); code != ExitSuccess {
		os.Exit(code)
	}
}

// exitCode maps a command error to the process exit status: failing tests
// and regressions are 1, anything that kept the harness from doing its job
// is 2.
func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, domain.ErrTestsFailed), errors.Is(err, domain.ErrRegressions):
		return ExitTestsFailed
	default:
		return ExitCommandError
	}
}

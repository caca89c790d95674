package controller

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/jugglinmike/test262-harness/internal/adapter"
	m "github.com/jugglinmike/test262-harness/internal/model"
)

// SimpleUI prints plain text through the cobra command's output. It is both
// a Reporter and a UI.
type SimpleUI struct {
	cmd     *cobra.Command
	printer *message.Printer
	verbose bool
}

// SimpleOption configures a SimpleUI.
type SimpleOption func(*SimpleUI)

// WithPasses also prints a line for every passing scenario.
func WithPasses() SimpleOption {
	return func(s *SimpleUI) {
		s.verbose = true
	}
}

// WithLanguage selects the locale used for counts.
func WithLanguage(tag language.Tag) SimpleOption {
	return func(s *SimpleUI) {
		s.printer = message.NewPrinter(tag)
	}
}

// NewSimpleUI creates a new SimpleUI.
func NewSimpleUI(cmd *cobra.Command, opts ...SimpleOption) *SimpleUI {
	s := &SimpleUI{
		cmd:     cmd,
		printer: message.NewPrinter(language.English),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start implements Reporter.
func (s *SimpleUI) Start(ctx context.Context, info RunInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	host := info.HostType
	if info.HostPath != "" {
		host += " " + info.HostPath
	}

	s.printf("Running with %d worker(s) on %s%s\n", info.Threads, host, shardLabel(info))

	return nil
}

// Report implements Reporter. Failures are printed with their message.
func (s *SimpleUI) Report(ctx context.Context, scenario *m.Scenario) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	label := OutcomeLabel(scenario)
	if label == "PASS" {
		if s.verbose {
			s.printf("PASS %s\n", scenario.Key())
		}

		return nil
	}

	s.printf("%s %s\n", label, scenario.Key())

	if scenario.Result != nil && scenario.Result.Message != "" {
		s.printf("  %s\n", indent(scenario.Result.Message))
	}

	s.printf("\n")

	return nil
}

// Finish implements Reporter.
func (s *SimpleUI) Finish(ctx context.Context, summary m.Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.printf("\n%s", s.renderSummary(summary))

	return nil
}

// Fail implements Reporter.
func (s *SimpleUI) Fail(_ context.Context, err error) {
	s.printf("harness error: %v\n", err)
}

func (s *SimpleUI) renderSummary(summary m.Summary) string {
	var buf bytes.Buffer

	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"Result", "Scenarios"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})

	table.Append([]string{"Passed", s.printer.Sprintf("%d", summary.Passed)})
	table.Append([]string{"Failed", s.printer.Sprintf("%d", summary.Failed)})
	table.Append([]string{"Timed out", s.printer.Sprintf("%d", summary.TimedOut)})

	table.SetFooter([]string{
		s.printer.Sprintf("Total %d", summary.Total),
		s.printer.Sprintf("%.2f%%", summary.PassRate()*100),
	})

	table.Render()

	return buf.String() + fmt.Sprintf("Duration: %s\n", summary.Duration.Round(time.Millisecond))
}

// DisplayScenarios implements UI.
func (s *SimpleUI) DisplayScenarios(ctx context.Context, scenarios []*m.Scenario) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer

	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"Path", "Scenario", "Flags", "Features"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)

	for _, scenario := range scenarios {
		table.Append([]string{
			string(scenario.RelativePath),
			string(scenario.Variant),
			strings.Join(flagNames(scenario.Metadata), ","),
			strings.Join(scenario.Metadata.Features, ","),
		})
	}

	table.SetFooter([]string{s.printer.Sprintf("Total %d", len(scenarios)), "", "", ""})
	table.Render()

	s.printf("%s", buf.String())

	return nil
}

// DisplayRuns implements UI.
func (s *SimpleUI) DisplayRuns(ctx context.Context, runs []adapter.RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(runs) == 0 {
		s.printf("No stored runs\n")
		return nil
	}

	var buf bytes.Buffer

	table := tablewriter.NewWriter(&buf)
	table.SetHeader([]string{"Run", "Started", "Host", "Passed", "Failed", "Total"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)

	for _, run := range runs {
		table.Append([]string{
			run.ID,
			run.StartedAt.UTC().Format(time.RFC3339),
			run.Meta.HostType,
			s.printer.Sprintf("%d", run.Summary.Passed),
			s.printer.Sprintf("%d", run.Summary.Failed),
			s.printer.Sprintf("%d", run.Summary.Total),
		})
	}

	table.Render()
	s.printf("%s", buf.String())

	return nil
}

// DisplayRun implements UI.
func (s *SimpleUI) DisplayRun(ctx context.Context, run adapter.StoredRun, failuresOnly bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.printf("Run %s (%s, %d worker(s))\n\n", run.ID, run.Meta.HostType, run.Meta.Threads)

	for _, scenario := range run.Scenarios {
		label := OutcomeLabel(scenario)
		if failuresOnly && label == "PASS" {
			continue
		}

		s.printf("%s %s\n", label, scenario.Key())

		if label != "PASS" && scenario.Result.Message != "" {
			s.printf("  %s\n", indent(scenario.Result.Message))
		}
	}

	if !run.Finished() {
		s.printf("\nRun did not finish\n")
		return nil
	}

	s.printf("\n%s", s.renderSummary(run.Summary))

	return nil
}

// DisplayDiff implements UI.
func (s *SimpleUI) DisplayDiff(ctx context.Context, diff DiffReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if diff.Unified == "" {
		s.printf("No differences between %s and %s\n", diff.From, diff.To)
		return nil
	}

	s.printf("%s\n", diff.Unified)
	s.printf("%s\n", s.printer.Sprintf("%d regression(s), %d fix(es)", len(diff.Regressions), len(diff.Fixes)))

	return nil
}

func (s *SimpleUI) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.cmd.OutOrStdout(), format, args...)
}

func indent(text string) string {
	return strings.ReplaceAll(strings.TrimRight(text, "\n"), "\n", "\n  ")
}

func flagNames(md m.Metadata) []string {
	f := md.Flags

	var names []string

	for _, flag := range []struct {
		set  bool
		name string
	}{
		{f.Async, "async"},
		{f.Raw, "raw"},
		{f.Module, "module"},
		{f.OnlyStrict, "onlyStrict"},
		{f.NoStrict, "noStrict"},
		{f.Negative, "negative"},
		{f.CanBlockIsFalse, "CanBlockIsFalse"},
		{f.CanBlockIsTrue, "CanBlockIsTrue"},
		{f.NonDeterministic, "non-deterministic"},
	} {
		if flag.set {
			names = append(names, flag.name)
		}
	}

	if md.Negative != nil {
		names = append(names, fmt.Sprintf("negative:%s/%s", md.Negative.Phase, md.Negative.Type))
	}

	return names
}

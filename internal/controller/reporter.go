// Package controller provides the result sinks and table views of the
// harness: plain text, JSON, an interactive TUI and the sqlite store.
package controller

import (
	"context"
	"fmt"

	"github.com/jugglinmike/test262-harness/internal/adapter"
	m "github.com/jugglinmike/test262-harness/internal/model"
)

// RunInfo describes a run about to start.
type RunInfo struct {
	Threads    int
	HostType   string
	HostPath   string
	Patterns   []string
	ShardIndex int
	ShardCount int
}

// Reporter consumes the stream of validated scenarios of one run. Report is
// called in completion order, from a single goroutine. A run ends with
// exactly one of Finish or Fail.
type Reporter interface {
	Start(ctx context.Context, info RunInfo) error
	Report(ctx context.Context, scenario *m.Scenario) error
	Finish(ctx context.Context, summary m.Summary) error
	// Fail reports a fatal harness error in place of the summary.
	Fail(ctx context.Context, err error)
}

// DiffEntry is one scenario whose outcome changed between two runs.
type DiffEntry struct {
	Key    string
	Before string
	After  string
}

// DiffReport compares two stored runs.
type DiffReport struct {
	From        string
	To          string
	Unified     string
	Regressions []DiffEntry
	Fixes       []DiffEntry
}

// UI renders the non-streaming views: scenario listings, stored runs and
// run diffs.
type UI interface {
	DisplayScenarios(ctx context.Context, scenarios []*m.Scenario) error
	DisplayRuns(ctx context.Context, runs []adapter.RunRecord) error
	DisplayRun(ctx context.Context, run adapter.StoredRun, failuresOnly bool) error
	DisplayDiff(ctx context.Context, diff DiffReport) error
}

// Reporter names accepted by --reporter.
const (
	ReporterSimple = "simple"
	ReporterJSON   = "json"
	ReporterTUI    = "tui"
	ReporterStore  = "store"
)

// ReporterNames lists the supported reporters.
func ReporterNames() []string {
	return []string{ReporterSimple, ReporterJSON, ReporterTUI, ReporterStore}
}

// OutcomeLabel returns PASS, FAIL or TIMEOUT for a settled scenario.
func OutcomeLabel(scenario *m.Scenario) string {
	switch {
	case scenario.Status == m.StatusTimeout:
		return "TIMEOUT"
	case scenario.Result != nil && scenario.Result.Pass:
		return "PASS"
	default:
		return "FAIL"
	}
}

func shardLabel(info RunInfo) string {
	if info.ShardCount <= 1 {
		return ""
	}

	return fmt.Sprintf(" (Shard %d/%d)", info.ShardIndex, info.ShardCount)
}

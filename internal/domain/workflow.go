package domain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/sync/errgroup"

	"github.com/jugglinmike/test262-harness/internal/adapter"
	"github.com/jugglinmike/test262-harness/internal/controller"
	m "github.com/jugglinmike/test262-harness/internal/model"
)

// TestArgs configures a test run.
type TestArgs struct {
	Run      RunConfig
	Corpus   adapter.CorpusConfig
	Shard    Shard
	Reporter controller.Reporter
	// SaveCompiled writes the program of every scenario next to its test
	// file in the corpus.
	SaveCompiled bool
}

// ListArgs configures a listing of scenarios.
type ListArgs struct {
	Corpus adapter.CorpusConfig
	Shard  Shard
	UI     controller.UI
}

// ShowArgs selects a stored run to print. An empty RunID lists all runs.
type ShowArgs struct {
	DB           string
	RunID        string
	FailuresOnly bool
	UI           controller.UI
}

// DiffArgs selects two stored runs to compare.
type DiffArgs struct {
	DB   string
	From string
	To   string
	// FailOnRegression makes Diff return ErrRegressions when a scenario
	// that passed in From does not pass in To.
	FailOnRegression bool
	UI               controller.UI
}

// Workflow is the set of use cases driven by the command line.
type Workflow interface {
	Test(ctx context.Context, args TestArgs) error
	List(ctx context.Context, args ListArgs) error
	Show(ctx context.Context, args ShowArgs) error
	Diff(ctx context.Context, args DiffArgs) error
}

// CorpusSource is a scenario source backed by a test262 checkout.
type CorpusSource interface {
	ScenarioSource
	Test262Dir() string
}

type workflow struct {
	newFactory      func(hostType string) (adapter.WorkerFactory, error)
	newBatchFactory func(hostType string) (adapter.WorkerFactory, error)
	newSource       func(cfg adapter.CorpusConfig) (CorpusSource, error)
	openStore       func(path string) (adapter.ResultReader, error)
	now             func() time.Time
}

// WorkflowOption replaces one of the collaborators of the workflow.
type WorkflowOption func(*workflow)

// WithWorkerFactory selects how worker factories are built from a host type.
func WithWorkerFactory(fn func(hostType string) (adapter.WorkerFactory, error)) WorkflowOption {
	return func(w *workflow) {
		w.newFactory = fn
	}
}

// WithBatchWorkerFactory selects how worker factories are built when
// batching is on.
func WithBatchWorkerFactory(fn func(hostType string) (adapter.WorkerFactory, error)) WorkflowOption {
	return func(w *workflow) {
		w.newBatchFactory = fn
	}
}

// WithCorpusSource selects how scenario sources are built.
func WithCorpusSource(fn func(cfg adapter.CorpusConfig) (CorpusSource, error)) WorkflowOption {
	return func(w *workflow) {
		w.newSource = fn
	}
}

// WithResultReader selects how stored runs are opened.
func WithResultReader(fn func(path string) (adapter.ResultReader, error)) WorkflowOption {
	return func(w *workflow) {
		w.openStore = fn
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) WorkflowOption {
	return func(w *workflow) {
		w.now = now
	}
}

// NewWorkflow creates a Workflow wired to the real adapters.
func NewWorkflow(opts ...WorkflowOption) Workflow {
	w := &workflow{
		newFactory:      adapter.NewWorkerFactory,
		newBatchFactory: adapter.NewBatchWorkerFactory,
		newSource: func(cfg adapter.CorpusConfig) (CorpusSource, error) {
			return adapter.NewCorpusSource(cfg)
		},
		openStore: func(path string) (adapter.ResultReader, error) {
			return adapter.OpenResultStore(path)
		},
		now: time.Now,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Test runs every scenario of the corpus and feeds the reporter. Problems
// found before the run starts are returned without touching the reporter;
// a fatal error during the run goes to Reporter.Fail and is returned.
func (w *workflow) Test(ctx context.Context, args TestArgs) error {
	cfg := args.Run.Normalize()

	newFactory := w.newFactory
	if cfg.BatchSize > 1 {
		newFactory = w.newBatchFactory
	}

	factory, err := newFactory(cfg.Host.Type)
	if err != nil {
		slog.Error("Failed to select host", "host", cfg.Host.Type, "error", err)
		return fmt.Errorf("select host: %w", err)
	}

	corpus := args.Corpus
	if corpus.Buffer == 0 {
		corpus.Buffer = cfg.PoolSize
	}

	source, err := w.newSource(corpus)
	if err != nil {
		slog.Error("Failed to open corpus", "error", err)
		return fmt.Errorf("open corpus: %w", err)
	}

	slog.Info("Starting run", "test262", source.Test262Dir(), "host", cfg.Host.Type, "threads", cfg.PoolSize, "timeout", cfg.Timeout, "batch", cfg.BatchSize)

	reporter := args.Reporter
	if args.SaveCompiled {
		reporter = controller.NewCompiledSaver(source.Test262Dir(), cfg.Host, reporter)
	}

	if err := reporter.Start(ctx, controller.RunInfo{
		Threads:    cfg.PoolSize,
		HostType:   cfg.Host.Type,
		HostPath:   cfg.Host.Path,
		Patterns:   corpus.Patterns,
		ShardIndex: args.Shard.Index,
		ShardCount: args.Shard.Total,
	}); err != nil {
		slog.Error("Failed to start reporter", "error", err)
		return fmt.Errorf("start reporter: %w", err)
	}

	started := w.now()

	summary, err := w.execute(ctx, cfg, ShardSource(source, cfg.PoolSize, args.Shard), reporter, factory)
	if err != nil {
		reporter.Fail(ctx, err)
		return err
	}

	summary.Duration = w.now().Sub(started)

	slog.Info("Run finished", "total", summary.Total, "passed", summary.Passed, "failed", summary.Failed, "timedOut", summary.TimedOut)

	if err := reporter.Finish(ctx, summary); err != nil {
		slog.Error("Failed to finish reporter", "error", err)
		return fmt.Errorf("finish reporter: %w", err)
	}

	if summary.Failed > 0 {
		return ErrTestsFailed
	}

	return nil
}

// execute fans in the result stream and the harness error stream. The
// first failure of either side cancels the other.
func (w *workflow) execute(
	ctx context.Context,
	cfg RunConfig,
	source ScenarioSource,
	reporter controller.Reporter,
	factory adapter.WorkerFactory,
) (m.Summary, error) {
	var summary m.Summary

	group, groupCtx := errgroup.WithContext(ctx)
	results, errs := NewHarness(factory).Run(groupCtx, cfg, source)

	group.Go(func() error {
		for scenario := range results {
			summary.Add(scenario)

			if err := reporter.Report(groupCtx, scenario); err != nil {
				slog.Error("Failed to report scenario", "scenario", scenario.Key(), "error", err)
				return fmt.Errorf("report %s: %w", scenario.Key(), err)
			}
		}

		return nil
	})

	group.Go(func() error {
		for err := range errs {
			if err != nil {
				return err
			}
		}

		return nil
	})

	if err := group.Wait(); err != nil {
		return summary, err
	}

	return summary, nil
}

// List prints the scenarios of the corpus without running them.
func (w *workflow) List(ctx context.Context, args ListArgs) error {
	corpus := args.Corpus
	if corpus.Buffer == 0 {
		corpus.Buffer = 1
	}

	source, err := w.newSource(corpus)
	if err != nil {
		slog.Error("Failed to open corpus", "error", err)
		return fmt.Errorf("open corpus: %w", err)
	}

	var scenarios []*m.Scenario

	group, groupCtx := errgroup.WithContext(ctx)
	stream, errs := ShardSource(source, corpus.Buffer, args.Shard).Scenarios(groupCtx)

	group.Go(func() error {
		for scenario := range stream {
			scenarios = append(scenarios, scenario)
		}

		return nil
	})

	group.Go(func() error {
		for err := range errs {
			if err != nil {
				return err
			}
		}

		return nil
	})

	if err := group.Wait(); err != nil {
		slog.Error("Failed to enumerate scenarios", "error", err)
		return fmt.Errorf("list scenarios: %w", err)
	}

	return args.UI.DisplayScenarios(ctx, scenarios)
}

// Show prints one stored run, or the list of stored runs.
func (w *workflow) Show(ctx context.Context, args ShowArgs) error {
	store, err := w.openStore(args.DB)
	if err != nil {
		slog.Error("Failed to open results database", "path", args.DB, "error", err)
		return fmt.Errorf("open results: %w", err)
	}
	defer closeStore(store)

	if args.RunID == "" {
		runs, err := store.ListRuns(ctx)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}

		return args.UI.DisplayRuns(ctx, runs)
	}

	run, err := store.LoadRun(ctx, args.RunID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", args.RunID, err)
	}

	return args.UI.DisplayRun(ctx, run, args.FailuresOnly)
}

// Diff compares the outcome of every scenario between two stored runs.
func (w *workflow) Diff(ctx context.Context, args DiffArgs) error {
	store, err := w.openStore(args.DB)
	if err != nil {
		slog.Error("Failed to open results database", "path", args.DB, "error", err)
		return fmt.Errorf("open results: %w", err)
	}
	defer closeStore(store)

	from, err := store.LoadRun(ctx, args.From)
	if err != nil {
		return fmt.Errorf("load run %s: %w", args.From, err)
	}

	to, err := store.LoadRun(ctx, args.To)
	if err != nil {
		return fmt.Errorf("load run %s: %w", args.To, err)
	}

	report, err := DiffRuns(from, to)
	if err != nil {
		return err
	}

	if err := args.UI.DisplayDiff(ctx, report); err != nil {
		return err
	}

	if args.FailOnRegression && len(report.Regressions) > 0 {
		return fmt.Errorf("%d scenario(s): %w", len(report.Regressions), ErrRegressions)
	}

	return nil
}

// DiffRuns builds a unified diff of the "key OUTCOME" lines of two runs.
// Regressions and fixes only count scenarios present in both runs.
func DiffRuns(from, to adapter.StoredRun) (controller.DiffReport, error) {
	before := outcomes(from.Scenarios)
	after := outcomes(to.Scenarios)

	unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        outcomeLines(from.Scenarios),
		B:        outcomeLines(to.Scenarios),
		FromFile: from.ID,
		ToFile:   to.ID,
		Context:  0,
	})
	if err != nil {
		slog.Error("Failed to diff runs", "from", from.ID, "to", to.ID, "error", err)
		return controller.DiffReport{}, fmt.Errorf("diff runs: %w", err)
	}

	report := controller.DiffReport{From: from.ID, To: to.ID, Unified: unified}

	for _, scenario := range to.Scenarios {
		key := scenario.Key()

		was, ok := before[key]
		if !ok {
			continue
		}

		now := after[key]

		switch {
		case was == "PASS" && now != "PASS":
			report.Regressions = append(report.Regressions, controller.DiffEntry{Key: key, Before: was, After: now})
		case was != "PASS" && now == "PASS":
			report.Fixes = append(report.Fixes, controller.DiffEntry{Key: key, Before: was, After: now})
		}
	}

	return report, nil
}

func outcomes(scenarios []*m.Scenario) map[string]string {
	out := make(map[string]string, len(scenarios))

	for _, scenario := range scenarios {
		out[scenario.Key()] = controller.OutcomeLabel(scenario)
	}

	return out
}

func outcomeLines(scenarios []*m.Scenario) []string {
	var b strings.Builder

	for _, scenario := range scenarios {
		b.WriteString(scenario.Key() + " " + controller.OutcomeLabel(scenario) + "\n")
	}

	return difflib.SplitLines(b.String())
}

func closeStore(store adapter.ResultReader) {
	if err := store.Close(); err != nil {
		slog.Warn("Failed to close results database", "error", err)
	}
}

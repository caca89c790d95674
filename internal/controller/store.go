package controller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jugglinmike/test262-harness/internal/adapter"
	m "github.com/jugglinmike/test262-harness/internal/model"
)

// StoreReporter persists every result of a run and forwards the stream to
// another reporter for display.
type StoreReporter struct {
	store adapter.ResultWriter
	next  Reporter
	meta  adapter.RunMeta
	runID string
}

// NewStoreReporter creates a StoreReporter. meta is recorded with the run;
// next may be nil.
func NewStoreReporter(store adapter.ResultWriter, meta adapter.RunMeta, next Reporter) *StoreReporter {
	return &StoreReporter{store: store, meta: meta, next: next}
}

// RunID returns the id of the stored run once Start has succeeded.
func (r *StoreReporter) RunID() string {
	return r.runID
}

// Start implements Reporter.
func (r *StoreReporter) Start(ctx context.Context, info RunInfo) error {
	meta := r.meta
	if meta.HostType == "" {
		meta.HostType = info.HostType
		meta.HostPath = info.HostPath
	}

	if meta.Threads == 0 {
		meta.Threads = info.Threads
	}

	if meta.Patterns == nil {
		meta.Patterns = info.Patterns
	}

	id, err := r.store.BeginRun(ctx, meta)
	if err != nil {
		slog.Error("Failed to begin stored run", "error", err)
		return fmt.Errorf("store reporter: %w", err)
	}

	r.runID = id
	slog.Info("Recording run", "run", id)

	if r.next == nil {
		return nil
	}

	return r.next.Start(ctx, info)
}

// Report implements Reporter.
func (r *StoreReporter) Report(ctx context.Context, scenario *m.Scenario) error {
	if err := r.store.SaveResult(ctx, r.runID, scenario); err != nil {
		slog.Error("Failed to save result", "run", r.runID, "scenario", scenario.Key(), "error", err)
		return fmt.Errorf("store reporter: %w", err)
	}

	if r.next == nil {
		return nil
	}

	return r.next.Report(ctx, scenario)
}

// Finish implements Reporter.
func (r *StoreReporter) Finish(ctx context.Context, summary m.Summary) error {
	if err := r.store.FinishRun(ctx, r.runID, summary); err != nil {
		slog.Error("Failed to finish stored run", "run", r.runID, "error", err)
		return fmt.Errorf("store reporter: %w", err)
	}

	if r.next == nil {
		return nil
	}

	return r.next.Finish(ctx, summary)
}

// Fail implements Reporter. The run is left unfinished in the store.
func (r *StoreReporter) Fail(ctx context.Context, err error) {
	slog.Warn("Stored run left unfinished", "run", r.runID, "error", err)

	if r.next != nil {
		r.next.Fail(ctx, err)
	}
}

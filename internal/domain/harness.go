package domain

import (
	"context"
	"log/slog"
	"time"

	"github.com/jugglinmike/test262-harness/internal/adapter"
	m "github.com/jugglinmike/test262-harness/internal/model"
)

// Defaults applied by RunConfig.Normalize.
const (
	DefaultTimeout   = 10 * time.Second
	DefaultStopGrace = 2 * time.Second
)

// RunConfig is everything the harness needs to know about a run. It is
// built by the caller; the core reads no ambient process state.
type RunConfig struct {
	// PoolSize bounds the number of scenarios in flight.
	PoolSize int
	// Timeout is the per-scenario execution limit.
	Timeout time.Duration
	// StopGrace bounds how long a forced stop may take before the worker
	// is given up on.
	StopGrace time.Duration
	// ReplaceTimedOut creates a fresh worker for every worker retired
	// after a timeout. Off by default, in which case running out of
	// workers is fatal.
	ReplaceTimedOut bool
	// BatchSize is the number of scenarios a batching worker runs in one
	// host invocation. 1 disables batching.
	BatchSize int
	Host      m.HostConfig
}

// Normalize fills in defaults.
func (c RunConfig) Normalize() RunConfig {
	if c.PoolSize < 1 {
		c.PoolSize = 1
	}

	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}

	if c.StopGrace <= 0 {
		c.StopGrace = DefaultStopGrace
	}

	if c.BatchSize < 1 {
		c.BatchSize = 1
	}

	return c
}

// ScenarioSource produces the scenarios of a run. The scenario channel is
// closed at the end of the stream; a fatal source problem is delivered on
// the error channel.
type ScenarioSource interface {
	Scenarios(ctx context.Context) (<-chan *m.Scenario, <-chan error)
}

// ScenarioSourceFunc adapts a function to ScenarioSource.
type ScenarioSourceFunc func(ctx context.Context) (<-chan *m.Scenario, <-chan error)

// Scenarios implements ScenarioSource.
func (f ScenarioSourceFunc) Scenarios(ctx context.Context) (<-chan *m.Scenario, <-chan error) {
	return f(ctx)
}

// Harness supervises one pool lifecycle per run: warm-up, dispatch and
// teardown.
type Harness struct {
	factory adapter.WorkerFactory
	// onPool is called with the pool once it is ready; used by tests.
	onPool func(*WorkerPool)
}

// NewHarness creates a harness that builds workers with factory.
func NewHarness(factory adapter.WorkerFactory) *Harness {
	return &Harness{factory: factory}
}

// Run executes every scenario of source and streams the validated
// scenarios in completion order. The result channel is closed after the
// pool has been torn down. The error channel then yields at most one fatal
// error and is closed.
func (h *Harness) Run(ctx context.Context, cfg RunConfig, source ScenarioSource) (<-chan *m.Scenario, <-chan error) {
	cfg = cfg.Normalize()

	results := make(chan *m.Scenario, cfg.PoolSize)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(results)

		pool, err := NewWorkerPool(ctx, h.factory, PoolConfig{
			Size:           cfg.PoolSize,
			Host:           cfg.Host,
			ReplaceRetired: cfg.ReplaceTimedOut,
		})
		if err != nil {
			errs <- err
			return
		}

		if h.onPool != nil {
			h.onPool(pool)
		}

		d := &dispatcher{cfg: cfg, pool: pool, results: results}
		runErr := d.run(ctx, source)

		if err := pool.DestroyAll(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("Worker pool teardown incomplete", "error", err)
		}

		if runErr != nil {
			slog.Error("Run aborted", "error", runErr)
			errs <- runErr
		}
	}()

	return results, errs
}

package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jugglinmike/test262-harness/internal/adapter"
	m "github.com/jugglinmike/test262-harness/internal/model"
)

// Error names folded into raw results for failures outside the program
// under test.
const (
	HostErrorName      = "HostError"
	TransformErrorName = "TransformError"
)

type dispatcher struct {
	cfg     RunConfig
	pool    *WorkerPool
	results chan<- *m.Scenario

	failOnce sync.Once
	fatal    error
}

type execOutcome struct {
	result m.RawResult
	err    error
}

type batchOutcome struct {
	results []m.RawResult
	err     error
}

// run pairs scenarios with workers in source order until the source is
// exhausted or a fatal error occurs, then waits for every in-flight
// dispatch to settle. Source errors are watched on their own goroutine so
// they abort the run even while every worker is busy.
func (d *dispatcher) run(ctx context.Context, source ScenarioSource) error {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	fail := func(err error) {
		d.failOnce.Do(func() {
			d.fatal = err
			cancel(err)
		})
	}

	scenarios, sourceErrs := source.Scenarios(runCtx)

	watched := make(chan struct{})

	go func() {
		defer close(watched)
		d.watch(runCtx, sourceErrs, fail)
	}()

	var wg sync.WaitGroup

	if d.cfg.BatchSize > 1 {
		for batch := range d.nextBatch(runCtx, scenarios) {
			worker, ok := d.acquire(runCtx, fail)
			if !ok {
				break
			}

			wg.Add(1)

			go func() {
				defer wg.Done()
				d.dispatchBatch(runCtx, worker, batch, fail)
			}()
		}
	} else {
		for scenario := range d.next(runCtx, scenarios) {
			worker, ok := d.acquire(runCtx, fail)
			if !ok {
				break
			}

			wg.Add(1)

			go func() {
				defer wg.Done()
				d.dispatch(runCtx, worker, scenario)
			}()
		}
	}

	wg.Wait()
	<-watched

	if d.fatal != nil {
		return d.fatal
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return nil
}

// acquire waits for an idle worker. A pool error aborts the run unless the
// run is already over.
func (d *dispatcher) acquire(ctx context.Context, fail func(error)) (adapter.Worker, bool) {
	worker, err := d.pool.Acquire(ctx)
	if err != nil {
		if ctx.Err() == nil {
			fail(err)
		}

		return nil, false
	}

	return worker, true
}

// watch drains the source error channel until it is closed or the run
// ends. The first error is reported through fail.
func (d *dispatcher) watch(ctx context.Context, sourceErrs <-chan error, fail func(error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-sourceErrs:
			if !ok {
				return
			}

			if err != nil {
				slog.Error("Scenario source failed", "error", err)
				fail(err)

				return
			}
		}
	}
}

// next yields scenarios until the stream ends or the run is aborted.
func (d *dispatcher) next(ctx context.Context, scenarios <-chan *m.Scenario) func(func(*m.Scenario) bool) {
	return func(yield func(*m.Scenario) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case scenario, ok := <-scenarios:
				if !ok {
					return
				}

				if !yield(scenario) {
					return
				}
			}
		}
	}
}

// nextBatch groups the scenario stream into batches of BatchSize. The last
// batch may be shorter.
func (d *dispatcher) nextBatch(ctx context.Context, scenarios <-chan *m.Scenario) func(func([]*m.Scenario) bool) {
	return func(yield func([]*m.Scenario) bool) {
		batch := make([]*m.Scenario, 0, d.cfg.BatchSize)

		for scenario := range d.next(ctx, scenarios) {
			batch = append(batch, scenario)
			if len(batch) < d.cfg.BatchSize {
				continue
			}

			if !yield(batch) {
				return
			}

			batch = make([]*m.Scenario, 0, d.cfg.BatchSize)
		}

		if len(batch) > 0 && ctx.Err() == nil {
			yield(batch)
		}
	}
}

// dispatch runs one scenario on an acquired worker, races it against the
// timeout and emits the validated scenario.
func (d *dispatcher) dispatch(ctx context.Context, worker adapter.Worker, scenario *m.Scenario) {
	log := slog.With("worker", worker.ID(), "scenario", scenario.Key())
	log.Debug("Dispatching scenario")

	scenario.Status = m.StatusPending

	raw, ok := d.execute(ctx, log, worker, scenario)
	if !ok {
		return
	}

	d.settle(ctx, log, scenario, raw)
}

// settle validates a finished scenario and emits it.
func (d *dispatcher) settle(ctx context.Context, log *slog.Logger, scenario *m.Scenario, raw m.RawResult) {
	scenario.RawResult = &raw
	verdict := Validate(scenario)
	scenario.Result = &verdict

	if ctx.Err() != nil {
		return
	}

	log.Debug("Scenario settled", "status", scenario.Status, "pass", verdict.Pass)

	select {
	case d.results <- scenario:
	case <-ctx.Done():
	}
}

// execute returns false when the run was aborted and the scenario must not
// be emitted.
func (d *dispatcher) execute(ctx context.Context, log *slog.Logger, worker adapter.Worker, scenario *m.Scenario) (m.RawResult, bool) {
	job, err := d.prepare(scenario)
	if err != nil {
		log.Debug("Source transform failed", "error", err)
		scenario.Status = m.StatusComplete
		d.release(log, worker)

		return transformFailure(err), true
	}

	execCtx, cancelExec := context.WithCancel(ctx)
	defer cancelExec()

	done := make(chan execOutcome, 1)
	start := time.Now()

	go func() {
		result, err := worker.Execute(execCtx, job)
		done <- execOutcome{result: result, err: err}
	}()

	timer := time.NewTimer(d.cfg.Timeout)
	defer timer.Stop()

	select {
	case outcome := <-done:
		if ctx.Err() != nil {
			return m.RawResult{}, false
		}

		scenario.Status = m.StatusComplete
		d.release(log, worker)

		if outcome.err != nil {
			log.Warn("Host failed to execute scenario", "error", outcome.err)
			return hostFailure(outcome.err, time.Since(start)), true
		}

		outcome.result.Completion = m.Completed

		return outcome.result, true
	case <-timer.C:
		scenario.Status = m.StatusTimeout
		log.Warn("Scenario timed out", "timeout", d.cfg.Timeout)

		cancelExec()
		stopWorker(ctx, d.cfg.StopGrace, log, worker, done)

		if err := d.pool.Retire(context.WithoutCancel(ctx), worker); err != nil {
			log.Warn("Failed to retire worker", "error", err)
		}

		if ctx.Err() != nil {
			return m.RawResult{}, false
		}

		return m.RawResult{
			Completion: m.TimedOut,
			Stdout:     []string{},
			Duration:   time.Since(start),
		}, true
	case <-ctx.Done():
		return m.RawResult{}, false
	}
}

// dispatchBatch runs a batch of scenarios in one invocation of a batching
// worker. The batch shares a time limit of Timeout per scenario; running
// over it times out every scenario of the batch.
func (d *dispatcher) dispatchBatch(ctx context.Context, worker adapter.Worker, batch []*m.Scenario, fail func(error)) {
	log := slog.With("worker", worker.ID(), "batch", len(batch))
	log.Debug("Dispatching batch")

	batcher, ok := worker.(adapter.BatchWorker)
	if !ok {
		d.release(log, worker)
		fail(fmt.Errorf("%w: worker %s", ErrBatchUnsupported, worker.ID()))

		return
	}

	pending := make([]*m.Scenario, 0, len(batch))
	jobs := make([]m.Execution, 0, len(batch))

	for _, scenario := range batch {
		scenario.Status = m.StatusPending

		job, err := d.prepare(scenario)
		if err != nil {
			log.Debug("Source transform failed", "scenario", scenario.Key(), "error", err)
			scenario.Status = m.StatusComplete
			d.settle(ctx, log.With("scenario", scenario.Key()), scenario, transformFailure(err))

			continue
		}

		pending = append(pending, scenario)
		jobs = append(jobs, job)
	}

	if len(jobs) == 0 {
		d.release(log, worker)
		return
	}

	raws, ok := d.executeBatch(ctx, log, batcher, pending, jobs)
	if !ok {
		return
	}

	for i, scenario := range pending {
		d.settle(ctx, log.With("scenario", scenario.Key()), scenario, raws[i])
	}
}

// executeBatch returns false when the run was aborted and the batch must
// not be emitted.
func (d *dispatcher) executeBatch(
	ctx context.Context,
	log *slog.Logger,
	worker adapter.BatchWorker,
	scenarios []*m.Scenario,
	jobs []m.Execution,
) ([]m.RawResult, bool) {
	execCtx, cancelExec := context.WithCancel(ctx)
	defer cancelExec()

	done := make(chan batchOutcome, 1)
	start := time.Now()

	go func() {
		results, err := worker.ExecuteBatch(execCtx, jobs)
		done <- batchOutcome{results: results, err: err}
	}()

	limit := d.cfg.Timeout * time.Duration(len(jobs))

	timer := time.NewTimer(limit)
	defer timer.Stop()

	settleAll := func(status m.Status, raw func(i int) m.RawResult) []m.RawResult {
		raws := make([]m.RawResult, len(scenarios))
		for i, scenario := range scenarios {
			scenario.Status = status
			raws[i] = raw(i)
		}

		return raws
	}

	select {
	case outcome := <-done:
		if ctx.Err() != nil {
			return nil, false
		}

		d.release(log, worker)

		if outcome.err == nil && len(outcome.results) != len(jobs) {
			outcome.err = fmt.Errorf("batch returned %d results for %d scenarios", len(outcome.results), len(jobs))
		}

		if outcome.err != nil {
			log.Warn("Host failed to execute batch", "error", outcome.err)

			elapsed := time.Since(start)

			return settleAll(m.StatusComplete, func(int) m.RawResult {
				return hostFailure(outcome.err, elapsed)
			}), true
		}

		return settleAll(m.StatusComplete, func(i int) m.RawResult {
			raw := outcome.results[i]
			raw.Completion = m.Completed

			return raw
		}), true
	case <-timer.C:
		log.Warn("Batch timed out", "timeout", limit)

		cancelExec()
		stopWorker(ctx, d.cfg.StopGrace, log, worker, done)

		if err := d.pool.Retire(context.WithoutCancel(ctx), worker); err != nil {
			log.Warn("Failed to retire worker", "error", err)
		}

		if ctx.Err() != nil {
			return nil, false
		}

		elapsed := time.Since(start)

		return settleAll(m.StatusTimeout, func(int) m.RawResult {
			return m.RawResult{Completion: m.TimedOut, Stdout: []string{}, Duration: elapsed}
		}), true
	case <-ctx.Done():
		return nil, false
	}
}

// stopWorker asks the worker to abort and waits at most grace for the
// stop and the execution to wind down. It never retries.
func stopWorker[T any](ctx context.Context, grace time.Duration, log *slog.Logger, worker adapter.Worker, done <-chan T) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()

	stopped := make(chan error, 1)

	go func() {
		stopped <- worker.Stop(stopCtx)
	}()

	select {
	case err := <-stopped:
		if err != nil {
			log.Warn("Failed to stop worker", "error", err)
		}
	case <-stopCtx.Done():
		log.Warn("Worker did not stop in time", "grace", grace)
		return
	}

	select {
	case <-done:
	case <-stopCtx.Done():
		log.Warn("Execution still running after stop", "grace", grace)
	}
}

// prepare pairs a scenario with the program text its host runs.
func (d *dispatcher) prepare(scenario *m.Scenario) (m.Execution, error) {
	job := m.Execution{Scenario: scenario, Source: scenario.SourceText}

	if transform := d.cfg.Host.Transform; transform != nil {
		source, err := transform(scenario.SourceText)
		if err != nil {
			return m.Execution{}, err
		}

		job.Source = source
	}

	return job, nil
}

func transformFailure(err error) m.RawResult {
	return m.RawResult{
		Completion: m.Completed,
		Stdout:     []string{},
		Error:      &m.ErrorInfo{Name: TransformErrorName, Message: err.Error()},
	}
}

func hostFailure(err error, elapsed time.Duration) m.RawResult {
	return m.RawResult{
		Completion: m.Completed,
		Stdout:     []string{},
		Error:      &m.ErrorInfo{Name: HostErrorName, Message: err.Error()},
		Duration:   elapsed,
	}
}

func (d *dispatcher) release(log *slog.Logger, worker adapter.Worker) {
	if err := d.pool.Release(worker); err != nil {
		if errors.Is(err, ErrWorkerRetired) {
			log.Debug("Skipped release of retired worker", "error", err)
			return
		}

		log.Warn("Failed to release worker", "error", err)
	}
}

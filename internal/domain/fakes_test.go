package domain_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jugglinmike/test262-harness/internal/adapter"
	"github.com/jugglinmike/test262-harness/internal/domain"
	m "github.com/jugglinmike/test262-harness/internal/model"
)

// behavior decides how a fake worker runs one execution.
type behavior func(ctx context.Context, exec m.Execution) (m.RawResult, error)

func done(context.Context, m.Execution) (m.RawResult, error) {
	return m.RawResult{Stdout: []string{adapter.DoneSentinel}}, nil
}

func hang(ctx context.Context, _ m.Execution) (m.RawResult, error) {
	<-ctx.Done()
	return m.RawResult{}, ctx.Err()
}

// byPath picks a behavior from the scenario path, defaulting to done.
func byPath(behaviors map[string]behavior) behavior {
	return func(ctx context.Context, exec m.Execution) (m.RawResult, error) {
		if b, ok := behaviors[string(exec.Scenario.RelativePath)]; ok {
			return b(ctx, exec)
		}

		return done(ctx, exec)
	}
}

type fakeWorker struct {
	id       string
	run      behavior
	tracker  *busyTracker
	stops    atomic.Int32
	destroys atomic.Int32
}

func (w *fakeWorker) ID() string { return w.id }

func (w *fakeWorker) Execute(ctx context.Context, exec m.Execution) (m.RawResult, error) {
	if w.tracker != nil {
		w.tracker.enter()
		defer w.tracker.leave()
	}

	return w.run(ctx, exec)
}

func (w *fakeWorker) Stop(context.Context) error {
	w.stops.Add(1)
	return nil
}

func (w *fakeWorker) Destroy(context.Context) error {
	w.destroys.Add(1)
	return nil
}

type busyTracker struct {
	mu      sync.Mutex
	current int
	max     int
}

func (b *busyTracker) enter() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current++
	b.max = max(b.max, b.current)
}

func (b *busyTracker) leave() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current--
}

type fakeFactory struct {
	run     behavior
	tracker *busyTracker
	// failOn makes the n-th creation (1-based) fail.
	failOn int32

	count   atomic.Int32
	mu      sync.Mutex
	workers []*fakeWorker
}

func newFactory(run behavior) *fakeFactory {
	return &fakeFactory{run: run}
}

func (f *fakeFactory) Create(_ context.Context, _ m.HostConfig) (adapter.Worker, error) {
	n := f.count.Add(1)
	if f.failOn > 0 && n == f.failOn {
		return nil, errors.New("host unavailable")
	}

	w := &fakeWorker{id: fmt.Sprintf("w%d", n), run: f.run, tracker: f.tracker}

	f.mu.Lock()
	f.workers = append(f.workers, w)
	f.mu.Unlock()

	return w, nil
}

func (f *fakeFactory) created() []*fakeWorker {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*fakeWorker(nil), f.workers...)
}

func scenario(path string) *m.Scenario {
	return &m.Scenario{RelativePath: m.Path(path), Variant: m.VariantDefault, SourceText: path}
}

// staticSource streams scenarios, then err if set.
func staticSource(err error, scenarios ...*m.Scenario) domain.ScenarioSource {
	return domain.ScenarioSourceFunc(func(ctx context.Context) (<-chan *m.Scenario, <-chan error) {
		ch := make(chan *m.Scenario)
		errs := make(chan error, 1)

		go func() {
			defer close(errs)
			defer close(ch)

			for _, s := range scenarios {
				select {
				case <-ctx.Done():
					return
				case ch <- s:
				}
			}

			if err != nil {
				errs <- err
			}
		}()

		return ch, errs
	})
}

func collect(results <-chan *m.Scenario, errs <-chan error) (map[string]*m.Scenario, error) {
	got := map[string]*m.Scenario{}

	for s := range results {
		got[string(s.RelativePath)] = s
	}

	var first error

	for err := range errs {
		if first == nil {
			first = err
		}
	}

	return got, first
}

// fakeBatchWorker runs a batch by running each job with its behavior in
// turn.
type fakeBatchWorker struct {
	*fakeWorker
	sizes *batchSizes
}

func (w *fakeBatchWorker) ExecuteBatch(ctx context.Context, jobs []m.Execution) ([]m.RawResult, error) {
	w.sizes.record(len(jobs))

	results := make([]m.RawResult, 0, len(jobs))

	for _, job := range jobs {
		result, err := w.run(ctx, job)
		if err != nil {
			return nil, err
		}

		results = append(results, result)
	}

	return results, nil
}

type batchSizes struct {
	mu    sync.Mutex
	sizes []int
}

func (b *batchSizes) record(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sizes = append(b.sizes, n)
}

func (b *batchSizes) get() []int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]int(nil), b.sizes...)
}

// batchFactory wraps every worker of a fakeFactory into a fakeBatchWorker.
type batchFactory struct {
	*fakeFactory
	sizes batchSizes
}

func newBatchFactory(run behavior) *batchFactory {
	return &batchFactory{fakeFactory: newFactory(run)}
}

func (f *batchFactory) Create(ctx context.Context, host m.HostConfig) (adapter.Worker, error) {
	w, err := f.fakeFactory.Create(ctx, host)
	if err != nil {
		return nil, err
	}

	return &fakeBatchWorker{fakeWorker: w.(*fakeWorker), sizes: &f.sizes}, nil
}

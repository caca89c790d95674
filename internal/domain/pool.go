package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jugglinmike/test262-harness/internal/adapter"
	m "github.com/jugglinmike/test262-harness/internal/model"
)

// PoolConfig sizes a WorkerPool.
type PoolConfig struct {
	Size int
	Host m.HostConfig
	// ReplaceRetired creates a fresh worker in place of each retired one.
	// The retired worker itself is never reused.
	ReplaceRetired bool
}

// WorkerStats describes one worker of the pool.
type WorkerStats struct {
	ID         string
	State      m.WorkerState
	Dispatches int
	Releases   int
}

// PoolStats is a point-in-time snapshot of the pool.
type PoolStats struct {
	Size    int
	Idle    int
	Busy    int
	Stopped int
	// MaxBusy is the highest number of simultaneously busy workers seen.
	MaxBusy   int
	Destroyed bool
	Workers   []WorkerStats
}

type workerSlot struct {
	worker     adapter.Worker
	state      m.WorkerState
	dispatches int
	releases   int
}

// WorkerPool hands out idle workers to dispatches. Idle workers wait in a
// FIFO guarded by mu; waiters block on changed, which is closed and replaced
// on every change of the rotation.
type WorkerPool struct {
	factory adapter.WorkerFactory
	cfg     PoolConfig

	mu      sync.Mutex
	slots   map[string]*workerSlot
	order   []string
	idle    []adapter.Worker
	changed chan struct{}
	live    int
	busy    int
	maxBusy int
	done    bool

	destroyOnce sync.Once
	destroyErr  error
}

// NewWorkerPool creates cfg.Size workers concurrently. If any worker fails
// to start, the ones already created are destroyed and a *PoolInitError is
// returned.
func NewWorkerPool(ctx context.Context, factory adapter.WorkerFactory, cfg PoolConfig) (*WorkerPool, error) {
	if cfg.Size < 1 {
		cfg.Size = 1
	}

	var (
		mu      sync.Mutex
		created []adapter.Worker
	)

	group, groupCtx := errgroup.WithContext(ctx)

	for range cfg.Size {
		group.Go(func() error {
			worker, err := factory.Create(groupCtx, cfg.Host)
			if err != nil {
				return err
			}

			mu.Lock()
			created = append(created, worker)
			mu.Unlock()

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		slog.Error("Failed to populate worker pool", "requested", cfg.Size, "created", len(created), "error", err)

		for _, worker := range created {
			if destroyErr := worker.Destroy(context.WithoutCancel(ctx)); destroyErr != nil {
				slog.Warn("Failed to destroy worker after init failure", "worker", worker.ID(), "error", destroyErr)
			}
		}

		return nil, &PoolInitError{Requested: cfg.Size, Created: len(created), Err: err}
	}

	pool := &WorkerPool{
		factory: factory,
		cfg:     cfg,
		idle:    make([]adapter.Worker, 0, cfg.Size),
		changed: make(chan struct{}),
		slots:   make(map[string]*workerSlot, cfg.Size),
	}

	for _, worker := range created {
		pool.addIdle(worker)
	}

	slog.Debug("Worker pool ready", "size", cfg.Size, "host", cfg.Host.Type)

	return pool, nil
}

// addIdle registers a new worker. Callers hold no lock.
func (p *WorkerPool) addIdle(worker adapter.Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.slots[worker.ID()] = &workerSlot{worker: worker, state: m.WorkerIdle}
	p.order = append(p.order, worker.ID())
	p.live++
	p.idle = append(p.idle, worker)
	p.signalLocked()
}

func (p *WorkerPool) signalLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

// Acquire waits for an idle worker and marks it busy. It never returns a
// retired worker.
func (p *WorkerPool) Acquire(ctx context.Context) (adapter.Worker, error) {
	for {
		p.mu.Lock()

		switch {
		case p.done:
			p.mu.Unlock()
			return nil, ErrPoolClosed
		case len(p.idle) > 0:
			worker := p.idle[0]
			p.idle = p.idle[1:]

			slot := p.slots[worker.ID()]
			slot.state = m.WorkerBusy
			slot.dispatches++
			p.busy++
			p.maxBusy = max(p.maxBusy, p.busy)
			p.mu.Unlock()

			slog.Debug("Acquired worker", "worker", worker.ID())

			return worker, nil
		case p.live == 0:
			p.mu.Unlock()
			return nil, ErrPoolDepleted
		}

		changed := p.changed
		p.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release returns a busy worker to the idle rotation.
func (p *WorkerPool) Release(worker adapter.Worker) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, ok := p.slots[worker.ID()]
	if !ok {
		return fmt.Errorf("release unknown worker %s", worker.ID())
	}

	switch slot.state {
	case m.WorkerStopped:
		return fmt.Errorf("release %s: %w", worker.ID(), ErrWorkerRetired)
	case m.WorkerIdle:
		return fmt.Errorf("release %s: worker is not busy", worker.ID())
	}

	slot.state = m.WorkerIdle
	slot.releases++
	p.busy--
	p.idle = append(p.idle, worker)
	p.signalLocked()

	slog.Debug("Released worker", "worker", worker.ID())

	return nil
}

// Retire removes a worker from the idle rotation for good, whether it is
// busy or idle. The underlying resource is left for DestroyAll. With
// ReplaceRetired set, a fresh worker takes its place.
func (p *WorkerPool) Retire(ctx context.Context, worker adapter.Worker) error {
	p.mu.Lock()

	slot, ok := p.slots[worker.ID()]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("retire unknown worker %s", worker.ID())
	}

	switch slot.state {
	case m.WorkerStopped:
		p.mu.Unlock()
		return fmt.Errorf("retire %s: %w", worker.ID(), ErrWorkerRetired)
	case m.WorkerBusy:
		p.busy--
	case m.WorkerIdle:
		p.idle = slices.DeleteFunc(p.idle, func(w adapter.Worker) bool {
			return w.ID() == worker.ID()
		})
	}

	slot.state = m.WorkerStopped
	replace := p.cfg.ReplaceRetired && !p.done

	if !replace {
		p.live--
		p.signalLocked()
	}
	p.mu.Unlock()

	slog.Debug("Retired worker", "worker", worker.ID())

	if !replace {
		return nil
	}

	fresh, err := p.factory.Create(ctx, p.cfg.Host)
	if err != nil {
		slog.Error("Failed to replace retired worker", "worker", worker.ID(), "error", err)

		p.mu.Lock()
		p.live--
		p.signalLocked()
		p.mu.Unlock()

		return fmt.Errorf("replace retired worker %s: %w", worker.ID(), err)
	}

	p.mu.Lock()
	p.live--
	p.mu.Unlock()

	p.addIdle(fresh)
	slog.Debug("Replaced retired worker", "retired", worker.ID(), "worker", fresh.ID())

	return nil
}

// DestroyAll closes the pool and destroys every worker regardless of
// state. Only the first call does any work; later calls return its result.
func (p *WorkerPool) DestroyAll(ctx context.Context) error {
	p.destroyOnce.Do(func() {
		p.mu.Lock()
		p.done = true
		p.idle = nil
		p.signalLocked()
		workers := make([]adapter.Worker, 0, len(p.order))

		for _, id := range p.order {
			workers = append(workers, p.slots[id].worker)
		}
		p.mu.Unlock()

		var (
			mu   sync.Mutex
			errs []error
		)

		var group errgroup.Group

		for _, worker := range workers {
			group.Go(func() error {
				if err := worker.Destroy(ctx); err != nil {
					slog.Warn("Failed to destroy worker", "worker", worker.ID(), "error", err)

					mu.Lock()
					errs = append(errs, fmt.Errorf("destroy %s: %w", worker.ID(), err))
					mu.Unlock()
				}

				return nil
			})
		}

		_ = group.Wait()

		p.destroyErr = errors.Join(errs...)
		slog.Debug("Worker pool destroyed", "workers", len(workers))
	})

	return p.destroyErr
}

// Stats returns a snapshot of the pool.
func (p *WorkerPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := PoolStats{
		Size:      p.cfg.Size,
		MaxBusy:   p.maxBusy,
		Destroyed: p.done,
		Workers:   make([]WorkerStats, 0, len(p.order)),
	}

	for _, id := range p.order {
		slot := p.slots[id]

		switch slot.state {
		case m.WorkerIdle:
			stats.Idle++
		case m.WorkerBusy:
			stats.Busy++
		case m.WorkerStopped:
			stats.Stopped++
		}

		stats.Workers = append(stats.Workers, WorkerStats{
			ID:         id,
			State:      slot.state,
			Dispatches: slot.dispatches,
			Releases:   slot.releases,
		})
	}

	return stats
}

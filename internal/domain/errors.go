package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolClosed is returned by Acquire after DestroyAll.
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrPoolDepleted is returned by Acquire once every worker has been
	// retired, so no scenario can run anymore.
	ErrPoolDepleted = errors.New("worker pool depleted: every worker was retired after a timeout and ReplaceTimedOut is off")
	// ErrWorkerRetired is returned when a stopped worker is released or
	// retired again. It is never fatal.
	ErrWorkerRetired = errors.New("worker already retired")
	// ErrBatchUnsupported is returned when batching is on and the pool
	// hands out a worker that can only run one scenario at a time.
	ErrBatchUnsupported = errors.New("worker cannot run batches")
	// ErrTestsFailed reports a completed run with at least one failing verdict.
	ErrTestsFailed = errors.New("some tests failed")
	// ErrRegressions reports a diff in which a passing scenario started failing.
	ErrRegressions = errors.New("regressions found")
)

// PoolInitError reports that the pool could not be populated.
type PoolInitError struct {
	Requested int
	Created   int
	Err       error
}

func (e *PoolInitError) Error() string {
	return fmt.Sprintf("worker pool init: created %d of %d workers: %v", e.Created, e.Requested, e.Err)
}

func (e *PoolInitError) Unwrap() error {
	return e.Err
}

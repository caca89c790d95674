package adapter

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	m "github.com/jugglinmike/test262-harness/internal/model"
)

// Worker is one isolated execution environment: an external host process,
// a container, or an embedded interpreter. A worker runs at most one
// execution at a time; the pool guarantees that.
type Worker interface {
	// ID identifies the worker in logs.
	ID() string
	// Execute runs one scenario and reports its raw outcome. A returned
	// error means the host could not be driven at all; an exception thrown
	// by the program under test is reported in RawResult.Error instead.
	Execute(ctx context.Context, exec m.Execution) (m.RawResult, error)
	// Stop aborts the running execution. Best effort.
	Stop(ctx context.Context) error
	// Destroy releases every resource held by the worker.
	Destroy(ctx context.Context) error
}

// BatchWorker is a Worker that can run several executions in one host
// invocation. Results come back in job order, one per job.
type BatchWorker interface {
	Worker
	ExecuteBatch(ctx context.Context, jobs []m.Execution) ([]m.RawResult, error)
}

// WorkerFactory creates workers for a host configuration.
type WorkerFactory interface {
	Create(ctx context.Context, host m.HostConfig) (Worker, error)
}

// WorkerFactoryFunc adapts a function to WorkerFactory.
type WorkerFactoryFunc func(ctx context.Context, host m.HostConfig) (Worker, error)

// Create implements WorkerFactory.
func (f WorkerFactoryFunc) Create(ctx context.Context, host m.HostConfig) (Worker, error) {
	return f(ctx, host)
}

// Host types understood by NewWorkerFactory.
const (
	HostNode    = "node"
	HostD8      = "d8"
	HostJSShell = "jsshell"
	HostChakra  = "ch"
	HostJSC     = "jsc"
	HostConsole = "console"
	HostGoja    = "goja"
	HostDocker  = "docker"
)

var processHostPrint = map[string]string{
	HostNode:    "console.log",
	HostD8:      "print",
	HostJSShell: "print",
	HostChakra:  "print",
	HostJSC:     "print",
	HostConsole: "print",
}

// HostTypes lists every supported host type.
func HostTypes() []string {
	types := []string{HostGoja, HostDocker}
	for name := range processHostPrint {
		types = append(types, name)
	}

	sort.Strings(types)

	return types
}

// NewWorkerFactory returns the factory for the given host type.
func NewWorkerFactory(hostType string) (WorkerFactory, error) {
	switch hostType {
	case HostGoja:
		return WorkerFactoryFunc(NewGojaWorker), nil
	case HostDocker:
		return WorkerFactoryFunc(NewDockerWorker), nil
	}

	if _, ok := processHostPrint[hostType]; ok {
		return WorkerFactoryFunc(NewProcessWorker), nil
	}

	return nil, fmt.Errorf("unknown host type %q (supported: %v)", hostType, HostTypes())
}

// NewBatchWorkerFactory returns the factory of batching workers for the
// given host type.
func NewBatchWorkerFactory(hostType string) (WorkerFactory, error) {
	if _, ok := batchRealms[hostType]; !ok {
		return nil, fmt.Errorf("host type %q cannot run batches (supported: %v)", hostType, BatchHostTypes())
	}

	return WorkerFactoryFunc(NewBatchProcessWorker), nil
}

// printCommand resolves the print routine for a host.
func printCommand(host m.HostConfig) string {
	if host.PrintCommand != "" {
		return host.PrintCommand
	}

	if cmd, ok := processHostPrint[host.Type]; ok {
		return cmd
	}

	// Docker runs an arbitrary executable inside the image; guess from its name.
	if cmd, ok := processHostPrint[filepath.Base(host.Path)]; ok {
		return cmd
	}

	return "print"
}

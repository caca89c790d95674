package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	m "github.com/jugglinmike/test262-harness/internal/model"
)

// BatchProcessWorker is a ProcessWorker that can also run several
// executions in one host invocation, each in a fresh realm.
type BatchProcessWorker struct {
	*ProcessWorker
}

// NewBatchProcessWorker creates a batching worker. Only hosts with known
// realm hooks qualify.
func NewBatchProcessWorker(ctx context.Context, host m.HostConfig) (Worker, error) {
	if _, ok := batchRealms[host.Type]; !ok {
		return nil, fmt.Errorf("host type %q cannot run batches (supported: %v)", host.Type, BatchHostTypes())
	}

	w, err := NewProcessWorker(ctx, host)
	if err != nil {
		return nil, err
	}

	return &BatchProcessWorker{ProcessWorker: w.(*ProcessWorker)}, nil
}

// ExecuteBatch implements BatchWorker. Module scenarios run one by one after
// the batch. A host that dies midway settles the running test with the
// captured stderr and aborts the tests it never reached.
func (w *BatchProcessWorker) ExecuteBatch(ctx context.Context, jobs []m.Execution) ([]m.RawResult, error) {
	results := make([]m.RawResult, len(jobs))

	var (
		scripts []m.Execution
		slots   []int
		modules []int
	)

	for i, job := range jobs {
		if job.Scenario.Metadata.Flags.Module {
			modules = append(modules, i)
			continue
		}

		scripts = append(scripts, job)
		slots = append(slots, i)
	}

	if len(scripts) > 0 {
		settled, err := w.runBatch(ctx, scripts)
		if err != nil {
			return nil, err
		}

		for k, slot := range slots {
			results[slot] = settled[k]
		}
	}

	for _, slot := range modules {
		result, err := w.Execute(ctx, jobs[slot])
		if err != nil {
			return nil, err
		}

		results[slot] = result
	}

	return results, nil
}

func (w *BatchProcessWorker) runBatch(ctx context.Context, jobs []m.Execution) ([]m.RawResult, error) {
	program, err := WrapBatch(jobs, w.host)
	if err != nil {
		return nil, err
	}

	out, err := w.runProgram(ctx, program, false)
	if err != nil {
		return nil, err
	}

	settled, rest := splitBatchOutput(out.stdout)
	per := out.elapsed / time.Duration(len(jobs))
	results := make([]m.RawResult, len(jobs))

	for i := range jobs {
		switch {
		case i < len(settled):
			results[i] = m.RawResult{
				Completion: m.Completed,
				Stdout:     settled[i],
				Error:      extractError(settled[i], ""),
				Duration:   per,
			}
		case i == len(settled):
			result := m.RawResult{
				Completion: m.Completed,
				Stdout:     rest,
				Stderr:     out.stderr,
				Error:      extractError(rest, out.stderr),
				Duration:   per,
			}

			if result.Error == nil {
				result.Error = out.exitError()
			}

			results[i] = result
		default:
			results[i] = m.RawResult{
				Completion: m.Completed,
				Stdout:     []string{},
				Error: &m.ErrorInfo{
					Name:    BatchAbortedErrorName,
					Message: fmt.Sprintf("host exited after %d of %d tests", len(settled), len(jobs)),
				},
			}
		}
	}

	if len(settled) < len(jobs) {
		slog.Debug("Batch ended early", "worker", w.id, "settled", len(settled), "size", len(jobs))
	}

	return results, nil
}

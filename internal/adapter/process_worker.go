package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	m "github.com/jugglinmike/test262-harness/internal/model"
)

// moduleFlags are the extra arguments a console host needs to evaluate a
// file as a module.
var moduleFlags = map[string][]string{
	HostD8:      {"--module"},
	HostJSShell: {"--module"},
	HostChakra:  {"-module"},
	HostJSC:     {"-m"},
}

// processWaitDelay bounds how long a host run waits for the output pipes after
// the host was killed. Children of the host may keep them open.
const processWaitDelay = 500 * time.Millisecond

// ProcessWorker runs each execution as a fresh host process. The worker
// owns a private scratch directory for the generated program files.
type ProcessWorker struct {
	id      string
	host    m.HostConfig
	binary  string
	workDir string

	mu     sync.Mutex
	seq    int
	cancel context.CancelFunc
}

// NewProcessWorker resolves the host executable and prepares the worker's
// scratch directory.
func NewProcessWorker(_ context.Context, host m.HostConfig) (Worker, error) {
	path := host.Path
	if path == "" {
		if host.Type != HostNode {
			return nil, fmt.Errorf("host type %q requires a host path", host.Type)
		}

		path = HostNode
	}

	binary, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("resolve host executable %q: %w", path, err)
	}

	workDir, err := os.MkdirTemp("", "test262-harness-*")
	if err != nil {
		return nil, fmt.Errorf("create worker dir: %w", err)
	}

	w := &ProcessWorker{
		id:      "proc-" + uuid.NewString()[:8],
		host:    host,
		binary:  binary,
		workDir: workDir,
	}
	slog.Debug("Created process worker", "worker", w.id, "binary", binary, "dir", workDir)

	return w, nil
}

// ID implements Worker.
func (w *ProcessWorker) ID() string {
	return w.id
}

// Execute implements Worker.
func (w *ProcessWorker) Execute(ctx context.Context, job m.Execution) (m.RawResult, error) {
	program, err := WrapProgram(job, w.host)
	if err != nil {
		return m.RawResult{}, err
	}

	module := job.Scenario.Metadata.Flags.Module

	out, err := w.runProgram(ctx, program, module)
	if err != nil {
		return m.RawResult{}, err
	}

	result := m.RawResult{
		Completion: m.Completed,
		Stdout:     out.stdout,
		Stderr:     out.stderr,
		Error:      extractError(out.stdout, out.stderr),
		Duration:   out.elapsed,
	}

	if result.Error == nil {
		result.Error = out.exitError()
	}

	return result, nil
}

// processOutput is what one host invocation left behind.
type processOutput struct {
	stdout  []string
	stderr  string
	exitErr *exec.ExitError
	elapsed time.Duration
}

// exitError reports a non-zero exit status as an error, or nil.
func (o processOutput) exitError() *m.ErrorInfo {
	if o.exitErr == nil {
		return nil
	}

	return &m.ErrorInfo{
		Name:    "Error",
		Message: fmt.Sprintf("host exited with status %d", o.exitErr.ExitCode()),
	}
}

// runProgram writes program to the scratch directory and runs the host on
// it. The host can be killed through Stop while it runs.
func (w *ProcessWorker) runProgram(ctx context.Context, program string, module bool) (processOutput, error) {
	file, err := w.writeProgram(program, module)
	if err != nil {
		return processOutput{}, err
	}

	defer func() {
		if err := os.Remove(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to remove program file", "worker", w.id, "file", file, "error", err)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.cancel = nil
		w.mu.Unlock()
	}()

	cmd := exec.CommandContext(runCtx, w.binary, w.commandArgs(module, file)...)
	cmd.Dir = w.workDir
	cmd.WaitDelay = processWaitDelay

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if runCtx.Err() != nil {
		return processOutput{}, fmt.Errorf("host process interrupted: %w", runCtx.Err())
	}

	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		slog.Error("Failed to run host", "worker", w.id, "binary", w.binary, "error", runErr)
		return processOutput{}, fmt.Errorf("run host: %w", runErr)
	}

	return processOutput{
		stdout:  splitLines(stdout.String()),
		stderr:  stderr.String(),
		exitErr: exitErr,
		elapsed: elapsed,
	}, nil
}

func (w *ProcessWorker) writeProgram(program string, module bool) (string, error) {
	w.mu.Lock()
	w.seq++
	seq := w.seq
	w.mu.Unlock()

	ext := ".js"
	if module {
		ext = ".mjs"
	}

	file := filepath.Join(w.workDir, fmt.Sprintf("t%d%s", seq, ext))
	if err := os.WriteFile(file, []byte(program), 0o600); err != nil {
		slog.Error("Failed to write program file", "worker", w.id, "file", file, "error", err)
		return "", fmt.Errorf("write program: %w", err)
	}

	return file, nil
}

func (w *ProcessWorker) commandArgs(module bool, file string) []string {
	args := append([]string{}, w.host.Args...)
	if module {
		args = append(args, moduleFlags[w.host.Type]...)
	}

	return append(args, file)
}

// Stop implements Worker by killing the running host process, if any.
func (w *ProcessWorker) Stop(_ context.Context) error {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()

	if cancel != nil {
		slog.Debug("Killing host process", "worker", w.id)
		cancel()
	}

	return nil
}

// Destroy implements Worker.
func (w *ProcessWorker) Destroy(ctx context.Context) error {
	_ = w.Stop(ctx)

	if err := os.RemoveAll(w.workDir); err != nil {
		slog.Error("Failed to remove worker dir", "worker", w.id, "dir", w.workDir, "error", err)
		return fmt.Errorf("remove worker dir: %w", err)
	}

	return nil
}

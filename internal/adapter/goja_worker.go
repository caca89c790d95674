package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	m "github.com/jugglinmike/test262-harness/internal/model"
)

// errModulesUnsupported is reported for module scenarios, which the
// embedded interpreter cannot load as scripts.
var errModulesUnsupported = errors.New("module scenarios are not supported by the goja host")

// GojaWorker evaluates scenarios in process, each in a fresh goja runtime,
// so no state leaks from one execution into the next.
type GojaWorker struct {
	id   string
	host m.HostConfig

	mu      sync.Mutex
	running *goja.Runtime
}

// NewGojaWorker creates an in-process worker.
func NewGojaWorker(_ context.Context, host m.HostConfig) (Worker, error) {
	host.PrintCommand = "print"

	return &GojaWorker{
		id:   "goja-" + uuid.NewString()[:8],
		host: host,
	}, nil
}

// ID implements Worker.
func (w *GojaWorker) ID() string {
	return w.id
}

// Execute implements Worker.
func (w *GojaWorker) Execute(ctx context.Context, job m.Execution) (m.RawResult, error) {
	if job.Scenario.Metadata.Flags.Module {
		return m.RawResult{
			Completion: m.Completed,
			Stdout:     []string{},
			Error:      &m.ErrorInfo{Name: "Error", Message: errModulesUnsupported.Error()},
		}, nil
	}

	program, err := WrapProgram(job, w.host)
	if err != nil {
		return m.RawResult{}, err
	}

	vm := goja.New()
	stdout := []string{}

	if err := vm.Set("print", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}

		stdout = append(stdout, strings.Join(parts, " "))

		return goja.Undefined()
	}); err != nil {
		return m.RawResult{}, fmt.Errorf("install print: %w", err)
	}

	w.setRunning(vm)
	defer w.setRunning(nil)

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	start := time.Now()
	_, runErr := vm.RunScript(string(job.Scenario.RelativePath), program)
	elapsed := time.Since(start)

	var interrupted *goja.InterruptedError
	if errors.As(runErr, &interrupted) {
		return m.RawResult{}, fmt.Errorf("goja runtime interrupted: %w", runErr)
	}

	result := m.RawResult{
		Completion: m.Completed,
		Stdout:     stdout,
		Duration:   elapsed,
	}

	var exception *goja.Exception

	switch {
	case errors.As(runErr, &exception):
		result.Error = errorFromException(exception)
	case runErr != nil:
		return m.RawResult{}, fmt.Errorf("run script: %w", runErr)
	default:
		result.Error = extractError(stdout, "")
	}

	return result, nil
}

func errorFromException(exception *goja.Exception) *m.ErrorInfo {
	info := &m.ErrorInfo{Stack: exception.String()}

	obj, ok := exception.Value().(*goja.Object)
	if !ok {
		info.Name = "Error"
		info.Message = exception.Value().String()

		return info
	}

	info.Name = stringProperty(obj, "name")
	if info.Name == "" {
		// Thrown harness errors carry no name property of their own.
		info.Name = "Test262Error"
	}

	info.Message = stringProperty(obj, "message")

	return info
}

func stringProperty(obj *goja.Object, key string) string {
	value := obj.Get(key)
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return ""
	}

	return value.String()
}

func (w *GojaWorker) setRunning(vm *goja.Runtime) {
	w.mu.Lock()
	w.running = vm
	w.mu.Unlock()
}

// Stop implements Worker by interrupting the running script.
func (w *GojaWorker) Stop(_ context.Context) error {
	w.mu.Lock()
	vm := w.running
	w.mu.Unlock()

	if vm != nil {
		slog.Debug("Interrupting goja runtime", "worker", w.id)
		vm.Interrupt("stopped")
	}

	return nil
}

// Destroy implements Worker.
func (w *GojaWorker) Destroy(ctx context.Context) error {
	return w.Stop(ctx)
}

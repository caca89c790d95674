package controller

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jugglinmike/test262-harness/internal/adapter"
	m "github.com/jugglinmike/test262-harness/internal/model"
)

// CompiledSaver writes the program a host ran for each settled scenario
// next to its test file, as <file>.<host>.pass or <file>.<host>.fail, and
// forwards the stream to another reporter. Strict mode programs get a
// ".strict" infix so they do not overwrite the default one.
type CompiledSaver struct {
	root string
	host m.HostConfig
	next Reporter
}

// NewCompiledSaver creates a CompiledSaver writing under the test262 root.
// next may be nil.
func NewCompiledSaver(root string, host m.HostConfig, next Reporter) *CompiledSaver {
	return &CompiledSaver{root: root, host: host, next: next}
}

// CompiledPath returns where the program of scenario is saved.
func (r *CompiledSaver) CompiledPath(scenario *m.Scenario) string {
	outcome := "fail"
	if scenario.Result != nil && scenario.Result.Pass {
		outcome = "pass"
	}

	name := filepath.Join(r.root, filepath.FromSlash(string(scenario.RelativePath))) + "." + r.host.Type
	if scenario.Variant == m.VariantStrict {
		name += ".strict"
	}

	return name + "." + outcome
}

// Start implements Reporter.
func (r *CompiledSaver) Start(ctx context.Context, info RunInfo) error {
	if r.next == nil {
		return nil
	}

	return r.next.Start(ctx, info)
}

// Report implements Reporter.
func (r *CompiledSaver) Report(ctx context.Context, scenario *m.Scenario) error {
	program, err := adapter.WrapProgram(m.Execution{Scenario: scenario, Source: scenario.SourceText}, r.host)
	if err != nil {
		return fmt.Errorf("compiled saver: %w", err)
	}

	path := r.CompiledPath(scenario)
	if err := os.WriteFile(path, []byte(program), 0o644); err != nil {
		slog.Error("Failed to save compiled scenario", "scenario", scenario.Key(), "path", path, "error", err)
		return fmt.Errorf("compiled saver: %w", err)
	}

	if r.next == nil {
		return nil
	}

	return r.next.Report(ctx, scenario)
}

// Finish implements Reporter.
func (r *CompiledSaver) Finish(ctx context.Context, summary m.Summary) error {
	if r.next == nil {
		return nil
	}

	return r.next.Finish(ctx, summary)
}

// Fail implements Reporter.
func (r *CompiledSaver) Fail(ctx context.Context, err error) {
	if r.next != nil {
		r.next.Fail(ctx, err)
	}
}

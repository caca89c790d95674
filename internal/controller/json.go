package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	m "github.com/jugglinmike/test262-harness/internal/model"
	"github.com/jugglinmike/test262-harness/pkg/spill"
)

// Keys of a JSON result record.
const (
	KeyFile      = "file"
	KeyScenario  = "scenario"
	KeyAttrs     = "attrs"
	KeyResult    = "result"
	KeyRawResult = "rawResult"
	KeyContents  = "contents"
)

// RecordKeys lists every key a JSON record can carry, in output order.
func RecordKeys() []string {
	return []string{KeyFile, KeyScenario, KeyAttrs, KeyResult, KeyRawResult, KeyContents}
}

// ParseRecordKeys splits a comma separated key list and rejects unknown keys.
func ParseRecordKeys(value string) ([]string, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}

	var keys []string

	for _, key := range strings.Split(value, ",") {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}

		if !slices.Contains(RecordKeys(), key) {
			return nil, fmt.Errorf("unknown reporter key %q (want one of %s)", key, strings.Join(RecordKeys(), ", "))
		}

		keys = append(keys, key)
	}

	return keys, nil
}

// JSONReporter writes the results of a run as a JSON array of records.
type JSONReporter struct {
	out    io.Writer
	keys   []string
	sorted bool
	dir    string

	started bool
	count   int
	spilled spill.Spill[*m.Scenario]
	order   []sortEntry
}

type sortEntry struct {
	file    string
	variant string
	index   uint64
}

// JSONOption configures a JSONReporter.
type JSONOption func(*JSONReporter)

// WithKeys limits records to the given keys. No keys means all of them.
func WithKeys(keys ...string) JSONOption {
	return func(r *JSONReporter) {
		if len(keys) > 0 {
			r.keys = keys
		}
	}
}

// WithSorting holds every record until the end of the run and emits them
// ordered by file and scenario. Records are spilled to a file in dir.
func WithSorting(dir string) JSONOption {
	return func(r *JSONReporter) {
		r.sorted = true
		r.dir = dir
	}
}

// NewJSONReporter creates a JSONReporter writing to out.
func NewJSONReporter(out io.Writer, opts ...JSONOption) *JSONReporter {
	r := &JSONReporter{out: out, keys: RecordKeys()}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Start implements Reporter.
func (r *JSONReporter) Start(ctx context.Context, _ RunInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if r.sorted {
		s, err := spill.New[*m.Scenario](r.dir)
		if err != nil {
			return fmt.Errorf("json reporter: %w", err)
		}

		r.spilled = s
	}

	if _, err := io.WriteString(r.out, "["); err != nil {
		return err
	}

	r.started = true

	return nil
}

// Report implements Reporter.
func (r *JSONReporter) Report(ctx context.Context, scenario *m.Scenario) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !r.sorted {
		return r.write(scenario)
	}

	index := r.spilled.Len()
	if err := r.spilled.Append(scenario); err != nil {
		return fmt.Errorf("json reporter: %w", err)
	}

	r.order = append(r.order, sortEntry{
		file:    string(scenario.RelativePath),
		variant: string(scenario.Variant),
		index:   index,
	})

	return nil
}

// Finish implements Reporter.
func (r *JSONReporter) Finish(ctx context.Context, _ m.Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := r.flushSorted(); err != nil {
		return err
	}

	return r.close()
}

// Fail implements Reporter. Records already written stay a valid array.
func (r *JSONReporter) Fail(_ context.Context, err error) {
	if !r.started {
		return
	}

	slog.Error("Run failed, closing JSON output", "records", r.count, "error", err)

	if flushErr := r.flushSorted(); flushErr != nil {
		slog.Warn("Failed to flush sorted records", "error", flushErr)
	}

	if closeErr := r.close(); closeErr != nil {
		slog.Warn("Failed to close JSON output", "error", closeErr)
	}
}

func (r *JSONReporter) flushSorted() error {
	if r.spilled == nil {
		return nil
	}

	defer func() {
		if err := r.spilled.Close(); err != nil {
			slog.Warn("Failed to remove spill file", "path", r.spilled.Path(), "error", err)
		}

		r.spilled = nil
	}()

	slices.SortStableFunc(r.order, func(a, b sortEntry) int {
		if c := strings.Compare(a.file, b.file); c != 0 {
			return c
		}

		return strings.Compare(a.variant, b.variant)
	})

	for _, entry := range r.order {
		scenario, err := r.spilled.Get(entry.index)
		if err != nil {
			return fmt.Errorf("json reporter: %w", err)
		}

		if err := r.write(scenario); err != nil {
			return err
		}
	}

	r.order = nil

	return nil
}

func (r *JSONReporter) write(scenario *m.Scenario) error {
	record, err := r.record(scenario)
	if err != nil {
		return err
	}

	sep := "\n  "
	if r.count > 0 {
		sep = ",\n  "
	}

	if _, err := io.WriteString(r.out, sep); err != nil {
		return err
	}

	if _, err := r.out.Write(record); err != nil {
		return err
	}

	r.count++

	return nil
}

func (r *JSONReporter) close() error {
	tail := "]\n"
	if r.count > 0 {
		tail = "\n]\n"
	}

	_, err := io.WriteString(r.out, tail)

	return err
}

// record encodes the selected keys in the fixed RecordKeys order.
func (r *JSONReporter) record(scenario *m.Scenario) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')

	first := true

	for _, key := range RecordKeys() {
		if !slices.Contains(r.keys, key) {
			continue
		}

		value, err := json.Marshal(fieldOf(scenario, key))
		if err != nil {
			slog.Error("Failed to encode record", "key", key, "scenario", scenario.Key(), "error", err)
			return nil, fmt.Errorf("encode %s of %s: %w", key, scenario.Key(), err)
		}

		if !first {
			buf.WriteByte(',')
		}

		first = false

		fmt.Fprintf(&buf, "%q:", key)
		buf.Write(value)
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

func fieldOf(scenario *m.Scenario, key string) any {
	switch key {
	case KeyFile:
		return scenario.RelativePath
	case KeyScenario:
		return scenario.Variant
	case KeyAttrs:
		return scenario.Metadata
	case KeyResult:
		return scenario.Result
	case KeyRawResult:
		return scenario.RawResult
	case KeyContents:
		return scenario.SourceText
	default:
		return nil
	}
}

package adapter

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	m "github.com/jugglinmike/test262-harness/internal/model"
)

//go:embed sql/results.sql
var resultsSchemaSQL string

// LatestRun selects the most recently started run in LoadRun.
const LatestRun = "latest"

// ErrRunNotFound is returned when a run id does not exist in the store.
var ErrRunNotFound = errors.New("run not found")

// RunMeta records how a run was configured.
type RunMeta struct {
	HostType string
	HostPath string
	Patterns []string
	Threads  int
	Timeout  time.Duration
}

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Meta       RunMeta
	Summary    m.Summary
}

// Finished reports whether FinishRun was called for the run.
func (r RunRecord) Finished() bool {
	return !r.FinishedAt.IsZero()
}

// StoredRun is a run together with its settled scenarios, ordered by
// (file, scenario). Source text is not persisted.
type StoredRun struct {
	RunRecord
	Scenarios []*m.Scenario
}

// ResultWriter records the results of one run as they arrive.
type ResultWriter interface {
	BeginRun(ctx context.Context, meta RunMeta) (string, error)
	SaveResult(ctx context.Context, runID string, scenario *m.Scenario) error
	FinishRun(ctx context.Context, runID string, summary m.Summary) error
}

// ResultReader reads stored runs back.
type ResultReader interface {
	ListRuns(ctx context.Context) ([]RunRecord, error)
	LoadRun(ctx context.Context, runID string) (StoredRun, error)
	Close() error
}

// ResultStore persists run results in SQLite.
type ResultStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenResultStore creates or opens the results database at path.
func OpenResultStore(path string) (*ResultStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open results database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to results database: %w", err)
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(resultsSchemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply results schema: %w", err)
	}

	return &ResultStore{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *ResultStore) Close() error {
	if s.db == nil {
		return nil
	}

	return s.db.Close()
}

// BeginRun records a new run and returns its id (a UUIDv7, so ids sort by
// start time).
func (s *ResultStore) BeginRun(ctx context.Context, meta RunMeta) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}

	patterns, err := json.Marshal(meta.Patterns)
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, host_type, host_path, patterns, threads, timeout_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		id.String(),
		s.now().UnixNano(),
		meta.HostType,
		meta.HostPath,
		string(patterns),
		meta.Threads,
		meta.Timeout.Milliseconds(),
	)
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}

	return id.String(), nil
}

// SaveResult stores one settled scenario. Saving the same scenario twice is
// a no-op.
func (s *ResultStore) SaveResult(ctx context.Context, runID string, scenario *m.Scenario) error {
	attrs, err := json.Marshal(scenario.Metadata)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}

	var raw sql.NullString

	if scenario.RawResult != nil {
		data, err := json.Marshal(scenario.RawResult)
		if err != nil {
			return fmt.Errorf("save result: %w", err)
		}

		raw = sql.NullString{String: string(data), Valid: true}
	}

	var (
		pass    bool
		message string
	)

	if scenario.Result != nil {
		pass = scenario.Result.Pass
		message = scenario.Result.Message
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO results (run_id, file, scenario, status, pass, message, attrs, raw_result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, file, scenario) DO NOTHING
	`,
		runID,
		string(scenario.RelativePath),
		string(scenario.Variant),
		string(scenario.Status),
		pass,
		message,
		string(attrs),
		raw,
	)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}

	return nil
}

// FinishRun stamps the run with its end time and summary.
func (s *ResultStore) FinishRun(ctx context.Context, runID string, summary m.Summary) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET finished_at = ?, total = ?, passed = ?, failed = ?, timed_out = ?, duration_ms = ?
		WHERE id = ?
	`,
		s.now().UnixNano(),
		summary.Total,
		summary.Passed,
		summary.Failed,
		summary.TimedOut,
		summary.Duration.Milliseconds(),
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}

	return nil
}

const runColumns = `id, started_at, finished_at, host_type, host_path, patterns, threads, timeout_ms,
	total, passed, failed, timed_out, duration_ms`

// ListRuns returns every run, newest first.
func (s *ResultStore) ListRuns(ctx context.Context) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

// LoadRun returns a run and its results. The id LatestRun selects the most
// recently started run.
func (s *ResultStore) LoadRun(ctx context.Context, runID string) (StoredRun, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`
	args := []any{runID}

	if runID == LatestRun {
		query = `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id DESC LIMIT 1`
		args = nil
	}

	run, err := scanRun(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return StoredRun{}, fmt.Errorf("load run %s: %w", runID, ErrRunNotFound)
	}

	if err != nil {
		return StoredRun{}, err
	}

	scenarios, err := s.loadScenarios(ctx, run.ID)
	if err != nil {
		return StoredRun{}, err
	}

	return StoredRun{RunRecord: run, Scenarios: scenarios}, nil
}

func (s *ResultStore) loadScenarios(ctx context.Context, runID string) ([]*m.Scenario, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file, scenario, status, pass, message, attrs, raw_result
		FROM results
		WHERE run_id = ?
		ORDER BY file COLLATE BINARY ASC, scenario COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	scenarios := []*m.Scenario{}

	for rows.Next() {
		var (
			file, variant, status, message, attrs string
			pass                                  bool
			raw                                   sql.NullString
		)

		if err := rows.Scan(&file, &variant, &status, &pass, &message, &attrs, &raw); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}

		scenario := &m.Scenario{
			RelativePath: m.Path(file),
			Variant:      m.Variant(variant),
			Status:       m.Status(status),
			Result:       &m.Verdict{Pass: pass, Message: message},
		}

		if err := json.Unmarshal([]byte(attrs), &scenario.Metadata); err != nil {
			return nil, fmt.Errorf("decode attrs of %s: %w", file, err)
		}

		if raw.Valid {
			scenario.RawResult = &m.RawResult{}
			if err := json.Unmarshal([]byte(raw.String), scenario.RawResult); err != nil {
				return nil, fmt.Errorf("decode raw result of %s: %w", file, err)
			}
		}

		scenarios = append(scenarios, scenario)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}

	return scenarios, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var (
		run                   RunRecord
		startedAt             int64
		finishedAt            sql.NullInt64
		patterns              string
		timeoutMS, durationMS int64
	)

	err := row.Scan(
		&run.ID, &startedAt, &finishedAt,
		&run.Meta.HostType, &run.Meta.HostPath, &patterns, &run.Meta.Threads, &timeoutMS,
		&run.Summary.Total, &run.Summary.Passed, &run.Summary.Failed, &run.Summary.TimedOut, &durationMS,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, err
	}

	if err != nil {
		return RunRecord{}, fmt.Errorf("scan run: %w", err)
	}

	if err := json.Unmarshal([]byte(patterns), &run.Meta.Patterns); err != nil {
		return RunRecord{}, fmt.Errorf("decode patterns of run %s: %w", run.ID, err)
	}

	run.StartedAt = time.Unix(0, startedAt)
	if finishedAt.Valid {
		run.FinishedAt = time.Unix(0, finishedAt.Int64)
	}

	run.Meta.Timeout = time.Duration(timeoutMS) * time.Millisecond
	run.Summary.Duration = time.Duration(durationMS) * time.Millisecond

	return run, nil
}

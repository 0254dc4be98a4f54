package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/credit-core/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000Z"

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	target       TEXT NOT NULL,
	document_id  TEXT NOT NULL,
	status       TEXT NOT NULL,
	versions     TEXT NOT NULL,
	fact_count   INTEGER NOT NULL,
	metric_count INTEGER NOT NULL,
	grade        TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS facts (
	run_id        TEXT NOT NULL REFERENCES runs(id),
	canonical_key TEXT NOT NULL,
	period_end    TEXT NOT NULL,
	entity_scope  TEXT NOT NULL,
	value_base    REAL NOT NULL,
	source_refs   TEXT NOT NULL,
	PRIMARY KEY (run_id, canonical_key, period_end, entity_scope)
);

CREATE TABLE IF NOT EXISTS metrics (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	metric_key TEXT NOT NULL,
	period_end TEXT NOT NULL,
	formula_id TEXT NOT NULL,
	value      REAL NOT NULL,
	calc_trace TEXT NOT NULL,
	PRIMARY KEY (run_id, metric_key, period_end)
);

CREATE TABLE IF NOT EXISTS ratings (
	run_id TEXT PRIMARY KEY REFERENCES runs(id),
	grade  TEXT NOT NULL,
	result TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_target_status ON runs(target, status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveRun(ctx context.Context, in RunInput) (*model.Run, error) {
	if err := validateRunInput(in); err != nil {
		return nil, err
	}
	run := newRun(uuid.New().String(), in, time.Now())
	versions, err := json.Marshal(run.Versions)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal versions")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = ? WHERE target = ? AND status = ?`,
		model.RunStatusSuperseded, run.Target, model.RunStatusCurrent,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: supersede runs")
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, target, document_id, status, versions, fact_count, metric_count, grade, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Target, run.DocumentID, run.Status, string(versions),
		run.FactCount, run.MetricCount, run.Grade, run.CreatedAt.Format(timeLayout),
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	facts, err := factRows(run.ID, in.Facts, sqliteDate)
	if err != nil {
		return nil, err
	}
	if err := insertRows(ctx, tx, "facts", factColumns, facts); err != nil {
		return nil, eris.Wrap(err, "sqlite: insert facts")
	}
	metrics, err := metricRows(run.ID, in.Metrics, sqliteDate)
	if err != nil {
		return nil, err
	}
	if err := insertRows(ctx, tx, "metrics", metricColumns, metrics); err != nil {
		return nil, eris.Wrap(err, "sqlite: insert metrics")
	}

	if in.Rating != nil {
		result, err := json.Marshal(in.Rating)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal rating")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ratings (run_id, grade, result) VALUES (?, ?, ?)`,
			run.ID, in.Rating.Grade, string(result),
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: insert rating")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit run")
	}
	return run, nil
}

func sqliteDate(d model.Date) any { return d.String() }

// insertRows is the SQLite counterpart of a COPY: one prepared statement
// executed per row inside the caller's transaction.
func insertRows(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?%s)",
		table, strings.Join(columns, ", "), strings.Repeat(", ?", len(columns)-1))
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close() //nolint:errcheck
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return err
		}
	}
	return nil
}

const runColumns = `id, target, document_id, status, versions, fact_count, metric_count, grade, created_at`

func scanSQLiteRun(scan func(dest ...any) error) (*model.Run, error) {
	var r model.Run
	var versions, createdAt string
	if err := scan(&r.ID, &r.Target, &r.DocumentID, &r.Status, &versions,
		&r.FactCount, &r.MetricCount, &r.Grade, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(versions), &r.Versions); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal versions")
	}
	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: parse created_at")
	}
	r.CreatedAt = t
	return &r, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	r, err := scanSQLiteRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	if filter.Target != "" {
		query += ` AND target = ?`
		args = append(args, filter.Target)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, rowid DESC LIMIT %d OFFSET %d`, filter.limit(), max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) requireRun(ctx context.Context, runID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, runID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return eris.Wrapf(err, "sqlite: lookup run %s", runID)
}

func (s *SQLiteStore) ListFacts(ctx context.Context, runID string) ([]model.NormalizedFact, error) {
	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT canonical_key, period_end, entity_scope, value_base, source_refs
		 FROM facts WHERE run_id = ? ORDER BY canonical_key, period_end, entity_scope`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list facts")
	}
	defer rows.Close() //nolint:errcheck

	facts := []model.NormalizedFact{}
	for rows.Next() {
		var f model.NormalizedFact
		var period, refs string
		if err := rows.Scan(&f.CanonicalKey, &period, &f.EntityScope, &f.ValueBase, &refs); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fact")
		}
		if f.PeriodEnd, err = model.ParseDate(period); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(refs), &f.SourceRefs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal source refs")
		}
		facts = append(facts, f)
	}
	return facts, eris.Wrap(rows.Err(), "sqlite: list facts iterate")
}

func (s *SQLiteStore) ListMetrics(ctx context.Context, runID string) ([]model.MetricFact, error) {
	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT metric_key, period_end, value, calc_trace
		 FROM metrics WHERE run_id = ? ORDER BY formula_id, period_end`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list metrics")
	}
	defer rows.Close() //nolint:errcheck

	metrics := []model.MetricFact{}
	for rows.Next() {
		var m model.MetricFact
		var period, trace string
		if err := rows.Scan(&m.MetricKey, &period, &m.Value, &trace); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan metric")
		}
		if m.PeriodEnd, err = model.ParseDate(period); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(trace), &m.CalcTrace); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal calc trace")
		}
		metrics = append(metrics, m)
	}
	return metrics, eris.Wrap(rows.Err(), "sqlite: list metrics iterate")
}

func (s *SQLiteStore) GetRating(ctx context.Context, runID string) (*model.RatingResult, error) {
	var result string
	err := s.db.QueryRowContext(ctx, `SELECT result FROM ratings WHERE run_id = ?`, runID).Scan(&result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get rating %s", runID)
	}
	var r model.RatingResult
	if err := json.Unmarshal([]byte(result), &r); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal rating")
	}
	return &r, nil
}

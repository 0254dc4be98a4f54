package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credit-core/internal/db"
	"github.com/sells-group/credit-core/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 1
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			pgxCfg.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			pgxCfg.MinConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	target       TEXT NOT NULL,
	document_id  TEXT NOT NULL,
	status       TEXT NOT NULL,
	versions     JSONB NOT NULL,
	fact_count   INTEGER NOT NULL,
	metric_count INTEGER NOT NULL,
	grade        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_one_current ON runs(target) WHERE status = 'current';
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);

CREATE TABLE IF NOT EXISTS facts (
	run_id        TEXT NOT NULL REFERENCES runs(id),
	canonical_key TEXT NOT NULL,
	period_end    DATE NOT NULL,
	entity_scope  TEXT NOT NULL,
	value_base    DOUBLE PRECISION NOT NULL,
	source_refs   JSONB NOT NULL,
	PRIMARY KEY (run_id, canonical_key, period_end, entity_scope)
);

CREATE TABLE IF NOT EXISTS metrics (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	metric_key TEXT NOT NULL,
	period_end DATE NOT NULL,
	formula_id TEXT NOT NULL,
	value      DOUBLE PRECISION NOT NULL,
	calc_trace JSONB NOT NULL,
	PRIMARY KEY (run_id, metric_key, period_end)
);

CREATE TABLE IF NOT EXISTS ratings (
	run_id TEXT PRIMARY KEY REFERENCES runs(id),
	grade  TEXT NOT NULL,
	result JSONB NOT NULL
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func pgDate(d model.Date) any { return d.Time }

func (s *PostgresStore) SaveRun(ctx context.Context, in RunInput) (*model.Run, error) {
	if err := validateRunInput(in); err != nil {
		return nil, err
	}
	run := newRun(uuid.New().String(), in, time.Now())
	versions, err := json.Marshal(run.Versions)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal versions")
	}
	facts, err := factRows(run.ID, in.Facts, pgDate)
	if err != nil {
		return nil, err
	}
	metrics, err := metricRows(run.ID, in.Metrics, pgDate)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE runs SET status = $1 WHERE target = $2 AND status = $3`,
		string(model.RunStatusSuperseded), run.Target, string(model.RunStatusCurrent),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: supersede runs")
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO runs (id, target, document_id, status, versions, fact_count, metric_count, grade, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.Target, run.DocumentID, string(run.Status), versions,
		run.FactCount, run.MetricCount, run.Grade, run.CreatedAt,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	if _, err := db.CopyFrom(ctx, tx, "facts", factColumns, facts); err != nil {
		return nil, err
	}
	if _, err := db.CopyFrom(ctx, tx, "metrics", metricColumns, metrics); err != nil {
		return nil, err
	}

	if in.Rating != nil {
		result, err := json.Marshal(in.Rating)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: marshal rating")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO ratings (run_id, grade, result) VALUES ($1, $2, $3)`,
			run.ID, in.Rating.Grade, result,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: insert rating")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit run")
	}

	zap.L().Debug("postgres: saved run",
		zap.String("run_id", run.ID),
		zap.String("target", run.Target),
		zap.Int64("superseded", tag.RowsAffected()),
	)
	return run, nil
}

const pgRunColumns = `id, target, document_id, status, versions, fact_count, metric_count, grade, created_at`

func scanPostgresRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var status string
	var versions []byte
	if err := row.Scan(&r.ID, &r.Target, &r.DocumentID, &status, &versions,
		&r.FactCount, &r.MetricCount, &r.Grade, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	if err := json.Unmarshal(versions, &r.Versions); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal versions")
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPostgresRun(s.pool.QueryRow(ctx,
		`SELECT `+pgRunColumns+` FROM runs WHERE id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + pgRunColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Target != "" {
		query += fmt.Sprintf(` AND target = $%d`, argIdx)
		args = append(args, filter.Target)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC, id`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, filter.limit())
	argIdx++
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) requireRun(ctx context.Context, runID string) error {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM runs WHERE id = $1`, runID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return eris.Wrapf(err, "postgres: lookup run %s", runID)
}

func (s *PostgresStore) ListFacts(ctx context.Context, runID string) ([]model.NormalizedFact, error) {
	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT canonical_key, period_end, entity_scope, value_base, source_refs
		 FROM facts WHERE run_id = $1 ORDER BY canonical_key, period_end, entity_scope`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list facts")
	}
	defer rows.Close()

	facts := []model.NormalizedFact{}
	for rows.Next() {
		var f model.NormalizedFact
		var period time.Time
		var scope string
		var refs []byte
		if err := rows.Scan(&f.CanonicalKey, &period, &scope, &f.ValueBase, &refs); err != nil {
			return nil, eris.Wrap(err, "postgres: scan fact")
		}
		f.PeriodEnd = model.NewDate(period.Year(), period.Month(), period.Day())
		f.EntityScope = model.EntityScope(scope)
		if err := json.Unmarshal(refs, &f.SourceRefs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal source refs")
		}
		facts = append(facts, f)
	}
	return facts, eris.Wrap(rows.Err(), "postgres: list facts iterate")
}

func (s *PostgresStore) ListMetrics(ctx context.Context, runID string) ([]model.MetricFact, error) {
	if err := s.requireRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT metric_key, period_end, value, calc_trace
		 FROM metrics WHERE run_id = $1 ORDER BY formula_id, period_end`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list metrics")
	}
	defer rows.Close()

	metrics := []model.MetricFact{}
	for rows.Next() {
		var m model.MetricFact
		var period time.Time
		var trace []byte
		if err := rows.Scan(&m.MetricKey, &period, &m.Value, &trace); err != nil {
			return nil, eris.Wrap(err, "postgres: scan metric")
		}
		m.PeriodEnd = model.NewDate(period.Year(), period.Month(), period.Day())
		if err := json.Unmarshal(trace, &m.CalcTrace); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal calc trace")
		}
		metrics = append(metrics, m)
	}
	return metrics, eris.Wrap(rows.Err(), "postgres: list metrics iterate")
}

func (s *PostgresStore) GetRating(ctx context.Context, runID string) (*model.RatingResult, error) {
	var result []byte
	err := s.pool.QueryRow(ctx, `SELECT result FROM ratings WHERE run_id = $1`, runID).Scan(&result)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get rating %s", runID)
	}
	var r model.RatingResult
	if err := json.Unmarshal(result, &r); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal rating")
	}
	return &r, nil
}

package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/credit-core/internal/model"
	"github.com/sells-group/credit-core/internal/pipeline"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func fixtureRunInput(t *testing.T, target string) RunInput {
	t.Helper()
	data, err := os.ReadFile("../../testdata/extraction.json")
	require.NoError(t, err)
	var in pipeline.Input
	require.NoError(t, json.Unmarshal(data, &in))

	p, err := pipeline.New(pipeline.DefaultConfig())
	require.NoError(t, err)
	res, err := p.Run(in)
	require.NoError(t, err)

	return RunInput{
		Target:     target,
		DocumentID: res.DocumentID,
		Versions:   res.Versions,
		Facts:      res.Facts,
		Metrics:    res.Metrics,
		Rating:     res.Rating,
	}
}

func TestSQLite_SaveRun_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	in := fixtureRunInput(t, "acme")

	run, err := st.SaveRun(ctx, in)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusCurrent, run.Status)
	assert.Equal(t, len(in.Facts), run.FactCount)
	assert.Equal(t, len(in.Metrics), run.MetricCount)
	assert.Equal(t, in.Rating.Grade, run.Grade)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run, got)

	facts, err := st.ListFacts(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, in.Facts, facts)

	metrics, err := st.ListMetrics(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, in.Metrics, metrics)

	rating, err := st.GetRating(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, in.Rating, rating)
}

func TestSQLite_SaveRun_Supersedes(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	in := fixtureRunInput(t, "acme")

	first, err := st.SaveRun(ctx, in)
	require.NoError(t, err)
	second, err := st.SaveRun(ctx, in)
	require.NoError(t, err)
	other, err := st.SaveRun(ctx, RunInput{Target: "globex", DocumentID: "empty"})
	require.NoError(t, err)

	prev, err := st.GetRun(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSuperseded, prev.Status)

	// Superseded runs keep their facts.
	facts, err := st.ListFacts(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, facts, len(in.Facts))

	current, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusCurrent})
	require.NoError(t, err)
	require.Len(t, current, 2)
	assert.Equal(t, other.ID, current[0].ID)
	assert.Equal(t, second.ID, current[1].ID)

	history, err := st.ListRuns(ctx, RunFilter{Target: "acme"})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)
	assert.Equal(t, first.ID, history[1].ID)

	page, err := st.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, second.ID, page[0].ID)
}

func TestSQLite_EmptyRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.SaveRun(ctx, RunInput{Target: "acme"})
	require.NoError(t, err)

	facts, err := st.ListFacts(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, facts)

	_, err = st.GetRating(ctx, run.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.ListFacts(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.ListMetrics(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.GetRating(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	runs, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestSQLite_SaveRun_RequiresTarget(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.SaveRun(context.Background(), RunInput{DocumentID: "doc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target is required")
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}

// Package store persists evaluation runs. Runs are append-only: saving a
// new run for a target supersedes the previous one, and stored facts and
// metrics are never updated in place.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/credit-core/internal/model"
)

// ErrNotFound is returned when a run or one of its artifacts does not exist.
var ErrNotFound = eris.New("store: not found")

// RunInput is everything persisted for one evaluation run.
type RunInput struct {
	Target     string
	DocumentID string
	Versions   model.Versions
	Facts      []model.NormalizedFact
	Metrics    []model.MetricFact
	Rating     *model.RatingResult
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Target string          `json:"target,omitempty"`
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

const defaultListLimit = 100

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}

// Store defines the persistence interface for evaluation runs.
type Store interface {
	// SaveRun stores a new current run for in.Target and marks any prior
	// current run for that target superseded, atomically.
	SaveRun(ctx context.Context, in RunInput) (*model.Run, error)
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	ListFacts(ctx context.Context, runID string) ([]model.NormalizedFact, error)
	ListMetrics(ctx context.Context, runID string) ([]model.MetricFact, error)
	GetRating(ctx context.Context, runID string) (*model.RatingResult, error)

	Migrate(ctx context.Context) error
	Close() error
}

func validateRunInput(in RunInput) error {
	if in.Target == "" {
		return eris.New("store: target is required")
	}
	return nil
}

func newRun(id string, in RunInput, now time.Time) *model.Run {
	r := &model.Run{
		ID:          id,
		Target:      in.Target,
		DocumentID:  in.DocumentID,
		Status:      model.RunStatusCurrent,
		Versions:    in.Versions,
		FactCount:   len(in.Facts),
		MetricCount: len(in.Metrics),
		CreatedAt:   now.UTC().Truncate(time.Microsecond),
	}
	if in.Rating != nil {
		r.Grade = in.Rating.Grade
	}
	return r
}

var (
	factColumns   = []string{"run_id", "canonical_key", "period_end", "entity_scope", "value_base", "source_refs"}
	metricColumns = []string{"run_id", "metric_key", "period_end", "formula_id", "value", "calc_trace"}
)

// factRows flattens facts into insert rows. date converts the period end
// to the driver's representation.
func factRows(runID string, facts []model.NormalizedFact, date func(model.Date) any) ([][]any, error) {
	rows := make([][]any, 0, len(facts))
	for _, f := range facts {
		refs, err := json.Marshal(f.SourceRefs)
		if err != nil {
			return nil, eris.Wrapf(err, "store: marshal source refs for %s", f.Key())
		}
		rows = append(rows, []any{runID, f.CanonicalKey, date(f.PeriodEnd), string(f.EntityScope), f.ValueBase, string(refs)})
	}
	return rows, nil
}

func metricRows(runID string, metrics []model.MetricFact, date func(model.Date) any) ([][]any, error) {
	rows := make([][]any, 0, len(metrics))
	for _, m := range metrics {
		trace, err := json.Marshal(m.CalcTrace)
		if err != nil {
			return nil, eris.Wrapf(err, "store: marshal calc trace for %s", m.Key())
		}
		rows = append(rows, []any{runID, m.MetricKey, date(m.PeriodEnd), m.CalcTrace.FormulaID, m.Value, string(trace)})
	}
	return rows, nil
}

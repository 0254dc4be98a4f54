package formula

import (
	"math"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/credit-core/internal/facts"
	"github.com/sells-group/credit-core/internal/model"
)

// Metrics indexes MetricFacts materialized earlier in a run.
type Metrics map[model.MetricKey]model.MetricFact

// Evaluate computes one formula for one period and scope. It returns either a
// MetricFact with a full calc trace or a SkippedMetric explaining why no
// value was produced. It never returns a NaN or infinite value.
func Evaluate(spec Spec, store *facts.Store, metrics Metrics, period model.Date, scope model.EntityScope) (model.MetricFact, *model.SkippedMetric) {
	id := spec.ID.String()
	values := make(Values, len(spec.Inputs))
	inputs := make([]model.CalcInput, 0, len(spec.Inputs))
	var missing []string

	for _, in := range spec.Inputs {
		p := period
		if in.Offset != 0 {
			p = period.AddYears(in.Offset)
		}

		var (
			v  float64
			ok bool
		)
		switch in.Source {
		case model.SourceFact:
			v, ok = store.Value(in.Key, p, scope)
		case model.SourceMetric:
			var m model.MetricFact
			m, ok = metrics[model.MetricKey{MetricKey: in.Key, PeriodEnd: p}]
			v = m.Value
		}
		if !ok {
			if !in.Optional {
				missing = append(missing, in.Key+"@"+p.String())
			}
			continue
		}

		values[in.name()] = v
		ci := model.CalcInput{Source: in.Source, Key: in.Key, PeriodEnd: p, Value: v}
		if in.Source == model.SourceFact {
			ci.EntityScope = scope
		}
		inputs = append(inputs, ci)
	}

	skip := func(reason string) (model.MetricFact, *model.SkippedMetric) {
		return model.MetricFact{}, &model.SkippedMetric{
			MetricKey: spec.MetricKey,
			FormulaID: id,
			PeriodEnd: period,
			Reason:    reason,
			Missing:   missing,
		}
	}

	if len(missing) > 0 {
		return skip(model.SkipMissingInput)
	}
	out, ok := spec.Compute(values)
	if !ok {
		return skip(model.SkipUndefined)
	}
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return skip(model.SkipNonFinite)
	}

	return model.MetricFact{
		MetricKey: spec.MetricKey,
		PeriodEnd: period,
		Value:     out,
		CalcTrace: model.CalcTrace{
			FormulaID: id,
			Inputs:    inputs,
			Output:    out,
		},
	}, nil
}

// Result is the output of EvaluateAll.
type Result struct {
	Metrics []model.MetricFact
	Skipped []model.SkippedMetric
}

// EvaluateAll runs every formula in library order for every period present in
// the store for scope. Composite formulas see only metrics produced earlier in
// the same call. Both lists are sorted by formula id, then period.
func EvaluateAll(lib *Library, store *facts.Store, scope model.EntityScope) Result {
	periods := store.Periods(scope)
	materialized := make(Metrics)
	var res Result

	for _, spec := range lib.specs {
		for _, p := range periods {
			m, skipped := Evaluate(spec, store, materialized, p, scope)
			if skipped != nil {
				res.Skipped = append(res.Skipped, *skipped)
				continue
			}
			materialized[m.Key()] = m
			res.Metrics = append(res.Metrics, m)
		}
	}

	slices.SortFunc(res.Metrics, func(a, b model.MetricFact) int {
		if c := strings.Compare(a.CalcTrace.FormulaID, b.CalcTrace.FormulaID); c != 0 {
			return c
		}
		return a.PeriodEnd.Compare(b.PeriodEnd)
	})
	slices.SortFunc(res.Skipped, func(a, b model.SkippedMetric) int {
		if c := strings.Compare(a.FormulaID, b.FormulaID); c != 0 {
			return c
		}
		return a.PeriodEnd.Compare(b.PeriodEnd)
	})

	zap.L().Debug("formula: evaluation complete",
		zap.String("library", lib.version),
		zap.String("scope", string(scope)),
		zap.Int("periods", len(periods)),
		zap.Int("metrics", len(res.Metrics)),
		zap.Int("skipped", len(res.Skipped)),
	)
	return res
}

// IndexMetrics builds a Metrics index from a list.
func IndexMetrics(list []model.MetricFact) Metrics {
	idx := make(Metrics, len(list))
	for _, m := range list {
		idx[m.Key()] = m
	}
	return idx
}

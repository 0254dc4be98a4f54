// Package coalesce collapses mapped observations that share a fact identity
// into a single NormalizedFact while keeping every contributor as a source ref.
package coalesce

import (
	"cmp"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credit-core/internal/model"
)

// compare is the total order used to pick a winner: higher confidence first,
// then lexically smaller source sheet, then smaller line number, then smaller
// page, then raw label.
func compare(a, b model.MappedObservation) int {
	if c := cmp.Compare(b.Mapping.Confidence, a.Mapping.Confidence); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Observation.SourceSheet, b.Observation.SourceSheet); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Observation.LineNo, b.Observation.LineNo); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Observation.Page, b.Observation.Page); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Observation.RawLabel, b.Observation.RawLabel); c != 0 {
		return c
	}
	return cmp.Compare(a.Value, b.Value)
}

// Coalesce builds one NormalizedFact from observations sharing a fact key.
// The winner supplies value_base; all contributors are kept as source refs in
// comparator order, winner first.
func Coalesce(group []model.MappedObservation) (model.NormalizedFact, error) {
	if len(group) == 0 {
		return model.NormalizedFact{}, eris.New("coalesce: empty observation group")
	}

	key := group[0].Key()
	for _, m := range group[1:] {
		if m.Key() != key {
			return model.NormalizedFact{}, eris.Errorf("coalesce: mixed fact keys %s and %s", key, m.Key())
		}
	}
	if !group[0].Mapping.Mapped() {
		return model.NormalizedFact{}, eris.Errorf("coalesce: unmapped observation in group %s", key)
	}

	ordered := slices.Clone(group)
	slices.SortStableFunc(ordered, compare)

	winner := ordered[0]
	refs := make([]model.SourceRef, len(ordered))
	for i, m := range ordered {
		refs[i] = model.SourceRefFor(m)
		if i > 0 && m.Value != winner.Value {
			zap.L().Warn("coalesce: conflicting values for fact",
				zap.String("fact", key.String()),
				zap.Float64("winner_value", winner.Value),
				zap.String("winner_ref", winner.Observation.CellRef()),
				zap.Float64("other_value", m.Value),
				zap.String("other_ref", m.Observation.CellRef()),
			)
		}
	}

	return model.NormalizedFact{
		CanonicalKey: key.CanonicalKey,
		PeriodEnd:    key.PeriodEnd,
		EntityScope:  key.EntityScope,
		ValueBase:    winner.Value,
		SourceRefs:   refs,
	}, nil
}

// CoalesceAll groups mapped observations by fact key and coalesces each
// group. GROUP and COMPANY scopes are never merged. Facts are returned sorted
// by canonical key, period end and entity scope.
func CoalesceAll(mapped []model.MappedObservation) ([]model.NormalizedFact, error) {
	groups := make(map[model.FactKey][]model.MappedObservation)
	var keys []model.FactKey
	for _, m := range mapped {
		if !m.Mapping.Mapped() {
			continue
		}
		k := m.Key()
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], m)
	}

	slices.SortFunc(keys, model.FactKey.Compare)

	facts := make([]model.NormalizedFact, 0, len(keys))
	for _, k := range keys {
		f, err := Coalesce(groups[k])
		if err != nil {
			return nil, eris.Wrapf(err, "coalesce: fact %s", k)
		}
		facts = append(facts, f)
	}
	return facts, nil
}

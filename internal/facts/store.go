// Package facts holds the immutable, queryable snapshot of normalized facts
// for one document.
package facts

import (
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/credit-core/internal/model"
)

// Store is a read-only fact snapshot keyed by (canonical_key, period_end,
// entity_scope). It is safe for concurrent reads.
type Store struct {
	facts []model.NormalizedFact
	index map[model.FactKey]int
}

// New builds a Store. Duplicate fact keys are an error: coalescing must have
// produced exactly one fact per key.
func New(in []model.NormalizedFact) (*Store, error) {
	s := &Store{
		facts: make([]model.NormalizedFact, 0, len(in)),
		index: make(map[model.FactKey]int, len(in)),
	}
	sorted := slices.Clone(in)
	slices.SortFunc(sorted, func(a, b model.NormalizedFact) int {
		return a.Key().Compare(b.Key())
	})
	for _, f := range sorted {
		k := f.Key()
		if _, dup := s.index[k]; dup {
			return nil, eris.Errorf("facts: duplicate fact %s", k)
		}
		if !k.EntityScope.Valid() {
			return nil, eris.Errorf("facts: fact %s has invalid scope", k)
		}
		f.SourceRefs = slices.Clone(f.SourceRefs)
		s.index[k] = len(s.facts)
		s.facts = append(s.facts, f)
	}
	return s, nil
}

// Get returns the fact for the key, if present.
func (s *Store) Get(canonicalKey string, periodEnd model.Date, scope model.EntityScope) (model.NormalizedFact, bool) {
	i, ok := s.index[model.FactKey{CanonicalKey: canonicalKey, PeriodEnd: periodEnd, EntityScope: scope}]
	if !ok {
		return model.NormalizedFact{}, false
	}
	return s.facts[i], true
}

// Value returns value_base for the key, if present.
func (s *Store) Value(canonicalKey string, periodEnd model.Date, scope model.EntityScope) (float64, bool) {
	f, ok := s.Get(canonicalKey, periodEnd, scope)
	return f.ValueBase, ok
}

// Facts returns all facts sorted by key.
func (s *Store) Facts() []model.NormalizedFact {
	return slices.Clone(s.facts)
}

// Periods returns the distinct period ends present for scope, ascending.
func (s *Store) Periods(scope model.EntityScope) []model.Date {
	var out []model.Date
	for _, f := range s.facts {
		if f.EntityScope != scope {
			continue
		}
		if !slices.ContainsFunc(out, func(d model.Date) bool { return d.Compare(f.PeriodEnd) == 0 }) {
			out = append(out, f.PeriodEnd)
		}
	}
	slices.SortFunc(out, model.Date.Compare)
	return out
}

// HasScope reports whether any fact exists for scope.
func (s *Store) HasScope(scope model.EntityScope) bool {
	for _, f := range s.facts {
		if f.EntityScope == scope {
			return true
		}
	}
	return false
}

// Len returns the number of facts.
func (s *Store) Len() int {
	return len(s.facts)
}

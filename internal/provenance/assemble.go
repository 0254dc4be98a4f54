// Package provenance resolves memo citations to the metrics, facts and raw
// observations behind them.
package provenance

import (
	"fmt"

	"github.com/sells-group/credit-core/internal/facts"
	"github.com/sells-group/credit-core/internal/formula"
	"github.com/sells-group/credit-core/internal/model"
)

// Link kinds reported by MissingLinkError.
const (
	LinkMetric = "metric"
	LinkFact   = "fact"
)

// MissingLinkError reports a citation whose audit chain is broken: a cited
// metric, a traced fact, or a fact's source refs could not be resolved, or a
// recorded value disagrees with its source.
type MissingLinkError struct {
	Section   string     `json:"section"`
	Kind      string     `json:"kind"`
	Key       string     `json:"key"`
	PeriodEnd model.Date `json:"period_end"`
	Reason    string     `json:"reason"`
}

func (e *MissingLinkError) Error() string {
	return fmt.Sprintf("provenance: section %q: %s %s@%s: %s", e.Section, e.Kind, e.Key, e.PeriodEnd, e.Reason)
}

// Assemble builds the provenance bundle for the given citations. Any broken
// link fails the whole bundle with a *MissingLinkError.
func Assemble(citations []model.SectionCitation, metrics []model.MetricFact, store *facts.Store, versions model.Versions) (*model.ProvenanceBundle, error) {
	a := &assembler{metrics: formula.IndexMetrics(metrics), store: store}
	bundle := &model.ProvenanceBundle{
		Versions: versions,
		Sections: make([]model.SectionProvenance, 0, len(citations)),
	}

	for _, c := range citations {
		sp := model.SectionProvenance{
			Section:       c.Section,
			EvidenceNotes: c.EvidenceNotes,
			Metrics:       make([]model.TracedMetric, 0, len(c.Metrics)),
		}
		for _, cm := range c.Metrics {
			tm, err := a.trace(c.Section, cm.MetricKey, cm.PeriodEnd, nil)
			if err != nil {
				return nil, err
			}
			sp.Metrics = append(sp.Metrics, *tm)
		}
		bundle.Sections = append(bundle.Sections, sp)
	}
	return bundle, nil
}

type assembler struct {
	metrics formula.Metrics
	store   *facts.Store
}

func (a *assembler) trace(section, key string, period model.Date, path []model.MetricKey) (*model.TracedMetric, error) {
	mk := model.MetricKey{MetricKey: key, PeriodEnd: period}
	broken := func(kind, k string, p model.Date, reason string) error {
		return &MissingLinkError{Section: section, Kind: kind, Key: k, PeriodEnd: p, Reason: reason}
	}

	for _, seen := range path {
		if seen == mk {
			return nil, broken(LinkMetric, key, period, "circular calc trace")
		}
	}
	path = append(path, mk)

	m, ok := a.metrics[mk]
	if !ok {
		return nil, broken(LinkMetric, key, period, "metric not found")
	}
	if m.CalcTrace.Output != m.Value {
		return nil, broken(LinkMetric, key, period, "calc trace output differs from metric value")
	}

	tm := &model.TracedMetric{
		MetricKey: m.MetricKey,
		PeriodEnd: m.PeriodEnd,
		Value:     m.Value,
		FormulaID: m.CalcTrace.FormulaID,
		Inputs:    make([]model.TracedInput, 0, len(m.CalcTrace.Inputs)),
	}

	for _, in := range m.CalcTrace.Inputs {
		ti := model.TracedInput{Input: in}
		switch in.Source {
		case model.SourceFact:
			f, ok := a.store.Get(in.Key, in.PeriodEnd, in.EntityScope)
			if !ok {
				return nil, broken(LinkFact, in.Key, in.PeriodEnd, "fact not found")
			}
			if f.ValueBase != in.Value {
				return nil, broken(LinkFact, in.Key, in.PeriodEnd,
					fmt.Sprintf("trace value %v differs from fact value %v", in.Value, f.ValueBase))
			}
			if len(f.SourceRefs) == 0 {
				return nil, broken(LinkFact, in.Key, in.PeriodEnd, "fact has no source refs")
			}
			ti.SourceRefs = f.SourceRefs
		case model.SourceMetric:
			nested, err := a.trace(section, in.Key, in.PeriodEnd, path)
			if err != nil {
				return nil, err
			}
			if nested.Value != in.Value {
				return nil, broken(LinkMetric, in.Key, in.PeriodEnd,
					fmt.Sprintf("trace value %v differs from metric value %v", in.Value, nested.Value))
			}
			ti.Metric = nested
		default:
			return nil, broken(string(in.Source), in.Key, in.PeriodEnd, "unknown input source")
		}
		tm.Inputs = append(tm.Inputs, ti)
	}
	return tm, nil
}

package model

import "strings"

// MappingResult is the Mapping Engine output for one raw label. CanonicalKey
// is empty when Method is UNMAPPED.
type MappingResult struct {
	CanonicalKey string        `json:"canonical_key,omitempty"`
	Method       MappingMethod `json:"mapping_method"`
	Confidence   float64       `json:"mapping_confidence"`
}

// Mapped reports whether a canonical key was found.
func (r MappingResult) Mapped() bool {
	return r.Method != MethodUnmapped && r.CanonicalKey != ""
}

// MappedObservation pairs a raw observation with its mapping and the value
// after the rule's sign convention has been applied.
type MappedObservation struct {
	Observation RawObservation `json:"observation"`
	Mapping     MappingResult  `json:"mapping"`
	Value       float64        `json:"value"`
}

// Key returns the fact identity the observation contributes to.
func (m MappedObservation) Key() FactKey {
	return FactKey{
		CanonicalKey: m.Mapping.CanonicalKey,
		PeriodEnd:    m.Observation.PeriodEnd,
		EntityScope:  m.Observation.EntityScope,
	}
}

// SourceRef is the provenance of one contributing raw observation.
type SourceRef struct {
	Page              int           `json:"page"`
	LineNo            int           `json:"line_no"`
	RawLabel          string        `json:"raw_label"`
	SourceSheet       string        `json:"source_sheet"`
	MappingMethod     MappingMethod `json:"mapping_method"`
	MappingConfidence float64       `json:"mapping_confidence"`
	ExtractionCellRef string        `json:"extraction_cell_ref"`
	Value             float64       `json:"value"`
}

// SourceRefFor builds the SourceRef for a mapped observation.
func SourceRefFor(m MappedObservation) SourceRef {
	return SourceRef{
		Page:              m.Observation.Page,
		LineNo:            m.Observation.LineNo,
		RawLabel:          m.Observation.RawLabel,
		SourceSheet:       m.Observation.SourceSheet,
		MappingMethod:     m.Mapping.Method,
		MappingConfidence: m.Mapping.Confidence,
		ExtractionCellRef: m.Observation.CellRef(),
		Value:             m.Value,
	}
}

// FactKey is the identity of a NormalizedFact.
type FactKey struct {
	CanonicalKey string      `json:"canonical_key"`
	PeriodEnd    Date        `json:"period_end"`
	EntityScope  EntityScope `json:"entity_scope"`
}

func (k FactKey) String() string {
	return k.CanonicalKey + "@" + k.PeriodEnd.String() + "/" + string(k.EntityScope)
}

// Compare orders keys by canonical key, period end, then entity scope.
func (k FactKey) Compare(o FactKey) int {
	if c := strings.Compare(k.CanonicalKey, o.CanonicalKey); c != 0 {
		return c
	}
	if c := k.PeriodEnd.Compare(o.PeriodEnd); c != 0 {
		return c
	}
	return strings.Compare(string(k.EntityScope), string(o.EntityScope))
}

// NormalizedFact is the canonical unit of truth: one value per key, with
// every contributing observation listed in SourceRefs.
type NormalizedFact struct {
	CanonicalKey string      `json:"canonical_key"`
	PeriodEnd    Date        `json:"period_end"`
	EntityScope  EntityScope `json:"entity_scope"`
	ValueBase    float64     `json:"value_base"`
	SourceRefs   []SourceRef `json:"source_refs"`
}

// Key returns the fact identity.
func (f NormalizedFact) Key() FactKey {
	return FactKey{CanonicalKey: f.CanonicalKey, PeriodEnd: f.PeriodEnd, EntityScope: f.EntityScope}
}

package model

// CitedMetric is a metric reference made by a memo section.
type CitedMetric struct {
	MetricKey string `json:"metric_key"`
	PeriodEnd Date   `json:"period_end"`
}

// SectionCitation lists the metrics and evidence notes a memo section cites.
type SectionCitation struct {
	Section       string        `json:"section"`
	Metrics       []CitedMetric `json:"metrics"`
	EvidenceNotes []string      `json:"evidence_notes,omitempty"`
}

// TracedInput is a calc-trace input resolved to its origin: the contributing
// fact's source refs, or the nested trace of a composite metric.
type TracedInput struct {
	Input      CalcInput     `json:"input"`
	SourceRefs []SourceRef   `json:"source_refs,omitempty"`
	Metric     *TracedMetric `json:"metric,omitempty"`
}

// TracedMetric is a cited metric resolved through its calc trace.
type TracedMetric struct {
	MetricKey string        `json:"metric_key"`
	PeriodEnd Date          `json:"period_end"`
	Value     float64       `json:"value"`
	FormulaID string        `json:"formula_id"`
	Inputs    []TracedInput `json:"inputs"`
}

// SectionProvenance is the resolved audit chain for one memo section.
type SectionProvenance struct {
	Section       string         `json:"section"`
	EvidenceNotes []string       `json:"evidence_notes,omitempty"`
	Metrics       []TracedMetric `json:"metrics"`
}

// ProvenanceBundle is the export-only audit view: section → metrics → facts.
// It is assembled on demand and never stored as a source of truth.
type ProvenanceBundle struct {
	Versions Versions            `json:"versions"`
	Sections []SectionProvenance `json:"sections"`
}

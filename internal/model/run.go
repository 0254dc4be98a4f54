package model

import "time"

// Versions records the configuration versions that produced a run's outputs.
type Versions struct {
	MappingRules   string `json:"mapping_rules"`
	FormulaLibrary string `json:"formula_library"`
	RatingScheme   string `json:"rating_scheme"`
}

// RunStatus is the lifecycle state of a stored evaluation run.
type RunStatus string

const (
	RunStatusCurrent    RunStatus = "current"
	RunStatusSuperseded RunStatus = "superseded"
)

// Run is a persisted evaluation run for one review target.
type Run struct {
	ID          string    `json:"id"`
	Target      string    `json:"target"`
	DocumentID  string    `json:"document_id"`
	Status      RunStatus `json:"status"`
	Versions    Versions  `json:"versions"`
	FactCount   int       `json:"fact_count"`
	MetricCount int       `json:"metric_count"`
	Grade       string    `json:"grade,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

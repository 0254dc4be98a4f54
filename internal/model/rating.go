package model

// DriverKind distinguishes metric-backed drivers from qualitative inputs.
type DriverKind string

const (
	DriverQuantitative DriverKind = "quantitative"
	DriverQualitative  DriverKind = "qualitative"
)

// PDBand is a probability-of-default bucket in percent.
type PDBand struct {
	LowerPct float64 `json:"lower_pct" yaml:"lower_pct"`
	UpperPct float64 `json:"upper_pct" yaml:"upper_pct"`
}

// DriverScore is one line of a rating's score breakdown.
type DriverScore struct {
	Driver        string     `json:"driver"`
	Kind          DriverKind `json:"kind"`
	Weight        float64    `json:"weight"`
	Metric        string     `json:"metric,omitempty"`
	Value         *float64   `json:"value,omitempty"`
	Level         string     `json:"level,omitempty"`
	RawScore      float64    `json:"raw_score"`
	WeightedScore float64    `json:"weighted_score"`
	Defaulted     bool       `json:"defaulted"`
}

// RatingResult is the output of the Rating Engine.
type RatingResult struct {
	SchemeID         string        `json:"scheme_id"`
	PeriodEnd        Date          `json:"period_end"`
	CompositeScore   float64       `json:"composite_score"`
	BaseGrade        string        `json:"base_grade"`
	Grade            string        `json:"grade"`
	PDBand           PDBand        `json:"pd_band"`
	ScoreBreakdown   []DriverScore `json:"score_breakdown"`
	DefaultedDrivers []string      `json:"defaulted_drivers"`
	AppliedCaps      []string      `json:"applied_caps"`
}

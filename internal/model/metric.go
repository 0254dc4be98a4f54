package model

// InputSource distinguishes canonical fact inputs from composite metric inputs.
type InputSource string

const (
	SourceFact   InputSource = "fact"
	SourceMetric InputSource = "metric"
)

// CalcInput is one resolved input consumed by a formula.
type CalcInput struct {
	Source      InputSource `json:"source"`
	Key         string      `json:"key"`
	PeriodEnd   Date        `json:"period_end"`
	EntityScope EntityScope `json:"entity_scope,omitempty"`
	Value       float64     `json:"value"`
}

// CalcTrace records everything needed to redo a metric by hand.
type CalcTrace struct {
	FormulaID string      `json:"formula_id"`
	Inputs    []CalcInput `json:"inputs"`
	Output    float64     `json:"output"`
}

// MetricKey identifies a MetricFact.
type MetricKey struct {
	MetricKey string `json:"metric_key"`
	PeriodEnd Date   `json:"period_end"`
}

func (k MetricKey) String() string {
	return k.MetricKey + "@" + k.PeriodEnd.String()
}

// MetricFact is a computed metric value with its calc trace.
type MetricFact struct {
	MetricKey string    `json:"metric_key"`
	PeriodEnd Date      `json:"period_end"`
	Value     float64   `json:"value"`
	CalcTrace CalcTrace `json:"calc_trace"`
}

// Key returns the metric identity.
func (m MetricFact) Key() MetricKey {
	return MetricKey{MetricKey: m.MetricKey, PeriodEnd: m.PeriodEnd}
}

// Skip reasons.
const (
	SkipMissingInput = "missing_input"
	SkipUndefined    = "undefined"
	SkipNonFinite    = "non_finite"
)

// SkippedMetric records a formula that produced no MetricFact for a period.
type SkippedMetric struct {
	MetricKey string   `json:"metric_key"`
	FormulaID string   `json:"formula_id"`
	PeriodEnd Date     `json:"period_end"`
	Reason    string   `json:"reason"`
	Missing   []string `json:"missing,omitempty"`
}

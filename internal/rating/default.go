package rating

import "github.com/sells-group/credit-core/internal/model"

// DefaultSchemeID is the id of DefaultScheme.
const DefaultSchemeID = "credit-rating/v1"

// Qualitative level names used by the default scheme.
const (
	LevelHigh = "HIGH"
	LevelMed  = "MED"
	LevelLow  = "LOW"
)

// Flags raised from notes and consumed by caps.
const (
	FlagGoingConcern   = "going_concern"
	FlagCovenantBreach = "covenant_breach"
)

// leverageFallback is read when no reported ebitda line exists.
func leverageFallback() []string {
	return []string{"net_debt_to_operating_ebitda"}
}

const (
	neutralQuantScore = 50
	neutralQualScore  = 65
)

func qualLevels() []Level {
	return []Level{
		{Name: LevelHigh, Score: 85},
		{Name: LevelMed, Score: neutralQualScore},
		{Name: LevelLow, Score: 40},
	}
}

func qualDriver(name string, weight float64) Driver {
	return Driver{
		Name:         name,
		Kind:         model.DriverQualitative,
		Levels:       qualLevels(),
		Weight:       weight,
		DefaultScore: neutralQualScore,
		DefaultLevel: LevelMed,
	}
}

// DefaultScheme returns the credit-rating/v1 scheme. Quantitative drivers
// carry 65 of the 100 weight points and qualitative drivers 35.
func DefaultScheme() Scheme {
	return Scheme{
		ID: DefaultSchemeID,
		Drivers: []Driver{
			{
				Name: "leverage", Kind: model.DriverQuantitative, Metric: "net_debt_to_ebitda",
				Direction: LowerIsBetter, Weight: 25, DefaultScore: neutralQuantScore,
				Bands:           []Band{{1, 95}, {2, 80}, {3, 65}, {4, 50}, {5, 35}, {6, 20}, {8, 10}},
				FallbackMetrics: leverageFallback(),
				GuardMetric:     "operating_ebitda",
			},
			{
				Name: "interest_cover", Kind: model.DriverQuantitative, Metric: "interest_cover",
				Direction: HigherIsBetter, Weight: 15, DefaultScore: neutralQuantScore,
				Bands: []Band{{8, 95}, {5, 80}, {3, 65}, {2, 50}, {1.5, 35}, {1, 20}, {0, 10}},
			},
			{
				Name: "profitability", Kind: model.DriverQuantitative, Metric: "ebitda_margin",
				Direction: HigherIsBetter, Weight: 10, DefaultScore: neutralQuantScore,
				Bands:           []Band{{25, 90}, {15, 75}, {10, 60}, {5, 45}, {0, 30}, {-100, 10}},
				FallbackMetrics: []string{"operating_ebitda_margin"},
			},
			{
				Name: "liquidity", Kind: model.DriverQuantitative, Metric: "current_ratio",
				Direction: HigherIsBetter, Weight: 10, DefaultScore: neutralQuantScore,
				Bands: []Band{{2, 90}, {1.5, 75}, {1.2, 60}, {1, 45}, {0.8, 30}, {0, 15}},
			},
			{
				Name: "growth", Kind: model.DriverQuantitative, Metric: "revenue_growth",
				Direction: HigherIsBetter, Weight: 5, DefaultScore: neutralQuantScore,
				Bands: []Band{{15, 85}, {5, 70}, {0, 55}, {-10, 35}, {-100, 15}},
			},
			qualDriver("management", 10),
			qualDriver("market_position", 10),
			qualDriver("industry_risk", 10),
			qualDriver("financial_policy", 5),
		},
		Grades: []Grade{
			{"AAA", 85, model.PDBand{LowerPct: 0, UpperPct: 0.02}},
			{"AA+", 80, model.PDBand{LowerPct: 0.02, UpperPct: 0.03}},
			{"AA", 75, model.PDBand{LowerPct: 0.03, UpperPct: 0.04}},
			{"AA-", 70, model.PDBand{LowerPct: 0.04, UpperPct: 0.05}},
			{"A+", 65, model.PDBand{LowerPct: 0.05, UpperPct: 0.07}},
			{"A", 60, model.PDBand{LowerPct: 0.07, UpperPct: 0.09}},
			{"A-", 55, model.PDBand{LowerPct: 0.09, UpperPct: 0.12}},
			{"BBB+", 50, model.PDBand{LowerPct: 0.12, UpperPct: 0.18}},
			{"BBB", 45, model.PDBand{LowerPct: 0.18, UpperPct: 0.25}},
			{"BBB-", 40, model.PDBand{LowerPct: 0.25, UpperPct: 0.40}},
			{"BB+", 35, model.PDBand{LowerPct: 0.40, UpperPct: 0.65}},
			{"BB", 30, model.PDBand{LowerPct: 0.65, UpperPct: 1.00}},
			{"BB-", 25, model.PDBand{LowerPct: 1.00, UpperPct: 1.60}},
			{"B+", 20, model.PDBand{LowerPct: 1.60, UpperPct: 2.50}},
			{"B", 15, model.PDBand{LowerPct: 2.50, UpperPct: 4.00}},
			{"B-", 10, model.PDBand{LowerPct: 4.00, UpperPct: 7.00}},
			{"CCC", 0, model.PDBand{LowerPct: 7.00, UpperPct: 100}},
		},
		Caps: []Cap{
			{Name: "non_positive_ebitda", Metric: "operating_ebitda", Op: OpLTE, Threshold: 0, Grade: "B"},
			{Name: "leverage_6x", Metric: "net_debt_to_ebitda", FallbackMetrics: leverageFallback(), Op: OpGTE, Threshold: 6, Grade: "B"},
			{Name: "leverage_5x", Metric: "net_debt_to_ebitda", FallbackMetrics: leverageFallback(), Op: OpGTE, Threshold: 5, Grade: "BB"},
			{Name: "leverage_4x", Metric: "net_debt_to_ebitda", FallbackMetrics: leverageFallback(), Op: OpGTE, Threshold: 4, Grade: "BBB-"},
			{Name: "interest_cover_1_5x", Metric: "interest_cover", Op: OpLT, Threshold: 1.5, Grade: "B+"},
			{Name: "interest_cover_2x", Metric: "interest_cover", Op: OpLT, Threshold: 2.0, Grade: "BB+"},
			{Name: "current_ratio_0_8x", Metric: "current_ratio", Op: OpLT, Threshold: 0.8, Grade: "BB"},
			{Name: "short_term_debt_to_cash_5x", Metric: "short_term_debt_to_cash", Op: OpGT, Threshold: 5, Grade: "BB-"},
			{Name: "going_concern", Flag: FlagGoingConcern, Grade: "B"},
			{Name: "covenant_breach", Flag: FlagCovenantBreach, Grade: "BB-"},
		},
	}
}

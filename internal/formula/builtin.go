package formula

import (
	"math"

	"github.com/sells-group/credit-core/internal/model"
)

// Built-in library identity.
const (
	Namespace   = "credit"
	V1          = "v1"
	BuiltinName = Namespace + "/" + V1
)

func v1(name string) ID {
	return ID{Namespace: Namespace, Version: V1, Name: name}
}

func fact(key string) Input {
	return Input{Key: key, Source: model.SourceFact}
}

func metric(key string) Input {
	return Input{Key: key, Source: model.SourceMetric}
}

func optional(in Input) Input {
	in.Optional = true
	return in
}

func prior(key string) Input {
	return Input{Name: key + "_prior", Key: key, Source: model.SourceFact, Offset: -1}
}

// ratio returns num/den, undefined when den is zero.
func ratio(num, den float64) (float64, bool) {
	if den == 0 {
		return 0, false
	}
	return num / den, true
}

func pct(v float64, ok bool) (float64, bool) {
	return v * 100, ok
}

// BuiltinV1Specs returns the credit/v1 formula definitions. Expense facts
// are stored negative, so costs enter calculations as magnitudes.
//
// net_debt is the balance sheet figure and includes lease liabilities.
// net_debt_to_ebitda and net_debt_to_operating_ebitda measure borrowings
// only: total_debt (or the borrowing lines) less cash.
//
// operating_ebitda is the reported ebitda line when present, otherwise
// operating_profit plus depreciation and amortisation.
func BuiltinV1Specs() []Spec {
	return []Spec{
		{
			ID:        v1("ebitda_margin"),
			MetricKey: "ebitda_margin",
			Inputs:    []Input{fact("ebitda"), fact("revenue")},
			Compute: func(v Values) (float64, bool) {
				return pct(ratio(v["ebitda"], v["revenue"]))
			},
		},
		{
			ID:        v1("gross_margin"),
			MetricKey: "gross_margin",
			Inputs:    []Input{fact("gross_profit"), fact("revenue")},
			Compute: func(v Values) (float64, bool) {
				return pct(ratio(v["gross_profit"], v["revenue"]))
			},
		},
		{
			ID:        v1("interest_cover"),
			MetricKey: "interest_cover",
			Inputs:    []Input{fact("operating_profit"), fact("finance_costs")},
			Compute: func(v Values) (float64, bool) {
				return ratio(v["operating_profit"], math.Abs(v["finance_costs"]))
			},
		},
		{
			ID:        v1("current_ratio"),
			MetricKey: "current_ratio",
			Inputs:    []Input{fact("total_current_assets"), fact("total_current_liabilities")},
			Compute: func(v Values) (float64, bool) {
				return ratio(v["total_current_assets"], math.Abs(v["total_current_liabilities"]))
			},
		},
		{
			ID:        v1("net_debt"),
			MetricKey: "net_debt",
			Inputs:    []Input{fact("total_debt"), fact("cash"), optional(fact("lease_liabilities"))},
			Compute: func(v Values) (float64, bool) {
				return v["total_debt"] + math.Abs(v.Or("lease_liabilities", 0)) - v["cash"], true
			},
		},
		{
			ID:        v1("net_debt_to_ebitda"),
			MetricKey: "net_debt_to_ebitda",
			Inputs:    []Input{fact("total_debt"), fact("cash"), fact("ebitda")},
			Compute: func(v Values) (float64, bool) {
				return ratio(v["total_debt"]-v["cash"], v["ebitda"])
			},
		},
		{
			ID:        v1("debt_to_equity"),
			MetricKey: "debt_to_equity",
			Inputs:    []Input{fact("total_debt"), fact("total_equity")},
			Compute: func(v Values) (float64, bool) {
				return ratio(v["total_debt"], v["total_equity"])
			},
		},
		{
			ID:        v1("revenue_growth"),
			MetricKey: "revenue_growth",
			Inputs:    []Input{fact("revenue"), prior("revenue")},
			Compute: func(v Values) (float64, bool) {
				g, ok := ratio(v["revenue"], v["revenue_prior"])
				return pct(g-1, ok)
			},
		},
		{
			ID:        v1("fcf_conversion"),
			MetricKey: "fcf_conversion",
			Inputs:    []Input{fact("net_cfo"), optional(fact("capex")), fact("ebitda")},
			Compute: func(v Values) (float64, bool) {
				fcf := v["net_cfo"] - math.Abs(v.Or("capex", 0))
				return ratio(fcf, v["ebitda"])
			},
		},
		{
			ID:        v1("operating_ebitda"),
			MetricKey: "operating_ebitda",
			Inputs: []Input{
				optional(fact("ebitda")),
				optional(fact("operating_profit")),
				optional(fact("depreciation_amortisation")),
			},
			Compute: func(v Values) (float64, bool) {
				if e, ok := v.Get("ebitda"); ok {
					return e, true
				}
				op, okOp := v.Get("operating_profit")
				da, okDA := v.Get("depreciation_amortisation")
				if !okOp || !okDA {
					return 0, false
				}
				return op + math.Abs(da), true
			},
		},
		{
			ID:        v1("operating_ebitda_margin"),
			MetricKey: "operating_ebitda_margin",
			Inputs:    []Input{metric("operating_ebitda"), fact("revenue")},
			Compute: func(v Values) (float64, bool) {
				return pct(ratio(v["operating_ebitda"], v["revenue"]))
			},
		},
		{
			ID:        v1("gross_debt"),
			MetricKey: "gross_debt",
			Inputs: []Input{
				optional(fact("total_debt")),
				optional(fact("short_term_borrowings")),
				optional(fact("long_term_borrowings")),
			},
			Compute: func(v Values) (float64, bool) {
				if d, ok := v.Get("total_debt"); ok {
					return d, true
				}
				st, okST := v.Get("short_term_borrowings")
				lt, okLT := v.Get("long_term_borrowings")
				if !okST && !okLT {
					return 0, false
				}
				return st + lt, true
			},
		},
		{
			ID:        v1("net_debt_to_operating_ebitda"),
			MetricKey: "net_debt_to_operating_ebitda",
			Inputs:    []Input{metric("gross_debt"), fact("cash"), metric("operating_ebitda")},
			Compute: func(v Values) (float64, bool) {
				return ratio(v["gross_debt"]-v["cash"], v["operating_ebitda"])
			},
		},
		{
			ID:        v1("short_term_debt_to_cash"),
			MetricKey: "short_term_debt_to_cash",
			Inputs:    []Input{fact("short_term_borrowings"), fact("cash")},
			Compute: func(v Values) (float64, bool) {
				return ratio(v["short_term_borrowings"], v["cash"])
			},
		},
		{
			ID:        v1("net_gearing"),
			MetricKey: "net_gearing",
			Inputs:    []Input{metric("net_debt"), fact("total_equity")},
			Compute: func(v Values) (float64, bool) {
				return pct(ratio(v["net_debt"], v["total_equity"]))
			},
		},
	}
}

// BuiltinV1 returns the compiled credit/v1 library.
func BuiltinV1() *Library {
	return MustNewLibrary(BuiltinName, BuiltinV1Specs())
}

package facts

import (
	"math"

	"github.com/sells-group/credit-core/internal/model"
)

// Severity of a consistency finding.
type Severity string

const (
	SeverityFailure Severity = "failure"
	SeverityWarning Severity = "warning"
)

// Finding is one statement-consistency problem. Findings are advisory and
// never block evaluation.
type Finding struct {
	Check       string            `json:"check"`
	Severity    Severity          `json:"severity"`
	PeriodEnd   model.Date        `json:"period_end"`
	EntityScope model.EntityScope `json:"entity_scope"`
	Expected    float64           `json:"expected,omitempty"`
	Actual      float64           `json:"actual"`
	Message     string            `json:"message"`
}

const (
	balanceTolerance     = 0.02
	grossProfitTolerance = 0.01
	debtToLiabilitiesMax = 1.5
)

// Check runs statement-consistency checks for every (scope, period) in the
// store: the balance sheet identity, negative cash, gross debt against total
// liabilities and gross profit against revenue less cost of sales.
func Check(s *Store) []Finding {
	var out []Finding
	for _, scope := range []model.EntityScope{model.ScopeGroup, model.ScopeCompany} {
		for _, p := range s.Periods(scope) {
			out = append(out, checkPeriod(s, p, scope)...)
		}
	}
	return out
}

func checkPeriod(s *Store, p model.Date, scope model.EntityScope) []Finding {
	var out []Finding
	get := func(key string) (float64, bool) { return s.Value(key, p, scope) }
	finding := func(check string, sev Severity, expected, actual float64, msg string) Finding {
		return Finding{Check: check, Severity: sev, PeriodEnd: p, EntityScope: scope, Expected: expected, Actual: actual, Message: msg}
	}

	ta, okTA := get("total_assets")
	te, okTE := get("total_equity")
	tl, okTL := get("total_liabilities")
	if okTA && okTE && okTL {
		expected := te + tl
		if math.Abs(ta-expected) > balanceTolerance*math.Max(math.Abs(ta), 1) {
			out = append(out, finding("balance_sheet_identity", SeverityFailure, expected, ta,
				"total assets do not equal total equity plus total liabilities"))
		}
	}

	if cash, ok := get("cash"); ok && cash < 0 {
		out = append(out, finding("cash_negative", SeverityWarning, 0, cash,
			"cash and cash equivalents negative, verify source"))
	}

	var gross float64
	for _, k := range []string{"short_term_borrowings", "long_term_borrowings", "lease_liabilities"} {
		if v, ok := get(k); ok {
			gross += math.Abs(v)
		}
	}
	if gross > 0 && okTL && tl > 0 && gross/tl > debtToLiabilitiesMax {
		out = append(out, finding("debt_reconciliation", SeverityWarning, tl, gross,
			"gross debt exceeds total liabilities"))
	}

	rev, okRev := get("revenue")
	cos, okCOS := get("cost_of_sales")
	gp, okGP := get("gross_profit")
	if okRev && okCOS && okGP {
		expected := rev - math.Abs(cos)
		if math.Abs(gp-expected) > grossProfitTolerance*math.Max(math.Abs(rev), 1) {
			out = append(out, finding("gross_profit", SeverityWarning, expected, gp,
				"gross profit does not equal revenue less cost of sales"))
		}
	}
	return out
}

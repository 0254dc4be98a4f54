package facts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/credit-core/internal/model"
)

func fact(key, period string, scope model.EntityScope, value float64) model.NormalizedFact {
	return model.NormalizedFact{
		CanonicalKey: key,
		PeriodEnd:    model.MustDate(period),
		EntityScope:  scope,
		ValueBase:    value,
		SourceRefs:   []model.SourceRef{{SourceSheet: "SFP_GROUP", LineNo: 1, RawLabel: key, Value: value}},
	}
}

func TestNew(t *testing.T) {
	s, err := New([]model.NormalizedFact{
		fact("revenue", "2025-06-30", model.ScopeGroup, 1000),
		fact("cash", "2025-06-30", model.ScopeGroup, 50),
		fact("cash", "2024-06-30", model.ScopeGroup, 30),
		fact("cash", "2025-06-30", model.ScopeCompany, 20),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, s.Len())

	f, ok := s.Get("cash", model.MustDate("2025-06-30"), model.ScopeGroup)
	require.True(t, ok)
	assert.Equal(t, 50.0, f.ValueBase)

	v, ok := s.Value("cash", model.MustDate("2025-06-30"), model.ScopeCompany)
	require.True(t, ok)
	assert.Equal(t, 20.0, v)

	_, ok = s.Get("ebitda", model.MustDate("2025-06-30"), model.ScopeGroup)
	assert.False(t, ok)

	all := s.Facts()
	require.Len(t, all, 4)
	assert.Equal(t, "cash@2024-06-30/GROUP", all[0].Key().String())
	assert.Equal(t, "revenue@2025-06-30/GROUP", all[3].Key().String())

	assert.Equal(t, []model.Date{model.MustDate("2024-06-30"), model.MustDate("2025-06-30")}, s.Periods(model.ScopeGroup))
	assert.Equal(t, []model.Date{model.MustDate("2025-06-30")}, s.Periods(model.ScopeCompany))
	assert.True(t, s.HasScope(model.ScopeCompany))
}

func TestNew_Immutable(t *testing.T) {
	in := []model.NormalizedFact{fact("cash", "2025-06-30", model.ScopeGroup, 50)}
	s, err := New(in)
	require.NoError(t, err)

	in[0].ValueBase = 999
	in[0].SourceRefs[0].Value = 999
	out := s.Facts()
	out[0].ValueBase = 777

	f, _ := s.Get("cash", model.MustDate("2025-06-30"), model.ScopeGroup)
	assert.Equal(t, 50.0, f.ValueBase)
	assert.Equal(t, 50.0, f.SourceRefs[0].Value)
}

func TestNew_Errors(t *testing.T) {
	_, err := New([]model.NormalizedFact{
		fact("cash", "2025-06-30", model.ScopeGroup, 50),
		fact("cash", "2025-06-30", model.ScopeGroup, 51),
	})
	assert.Error(t, err)

	_, err = New([]model.NormalizedFact{fact("cash", "2025-06-30", "DIVISION", 50)})
	assert.Error(t, err)
}

func TestCheck(t *testing.T) {
	s, err := New([]model.NormalizedFact{
		fact("total_assets", "2025-06-30", model.ScopeGroup, 1000),
		fact("total_equity", "2025-06-30", model.ScopeGroup, 400),
		fact("total_liabilities", "2025-06-30", model.ScopeGroup, 500),
		fact("cash", "2025-06-30", model.ScopeGroup, -5),
		fact("revenue", "2025-06-30", model.ScopeGroup, 1000),
		fact("cost_of_sales", "2025-06-30", model.ScopeGroup, -600),
		fact("gross_profit", "2025-06-30", model.ScopeGroup, 400),

		fact("total_assets", "2024-06-30", model.ScopeGroup, 900),
		fact("total_equity", "2024-06-30", model.ScopeGroup, 400),
		fact("total_liabilities", "2024-06-30", model.ScopeGroup, 495),
		fact("long_term_borrowings", "2024-06-30", model.ScopeGroup, 800),
	})
	require.NoError(t, err)

	findings := Check(s)
	checks := make([]string, len(findings))
	for i, f := range findings {
		checks[i] = f.PeriodEnd.String() + ":" + f.Check
	}
	assert.Equal(t, []string{
		"2024-06-30:debt_reconciliation",
		"2025-06-30:balance_sheet_identity",
		"2025-06-30:cash_negative",
	}, checks)
	assert.Equal(t, SeverityFailure, findings[1].Severity)
	assert.Equal(t, 900.0, findings[1].Expected)
}

func TestCheck_Clean(t *testing.T) {
	s, err := New([]model.NormalizedFact{
		fact("total_assets", "2025-06-30", model.ScopeGroup, 1000),
		fact("total_equity", "2025-06-30", model.ScopeGroup, 400),
		fact("total_liabilities", "2025-06-30", model.ScopeGroup, 600),
	})
	require.NoError(t, err)
	assert.Empty(t, Check(s))
}

package coalesce

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/credit-core/internal/model"
)

func mapped(key string, value float64, sheet string, line int, method model.MappingMethod, scope model.EntityScope) model.MappedObservation {
	return model.MappedObservation{
		Observation: model.RawObservation{
			RawLabel:    key + " label",
			Value:       value,
			SourceSheet: sheet,
			LineNo:      line,
			Page:        2,
			EntityScope: scope,
			PeriodEnd:   model.MustDate("2025-06-30"),
		},
		Mapping: model.MappingResult{
			CanonicalKey: key,
			Method:       method,
			Confidence:   method.Confidence(),
		},
		Value: value,
	}
}

func TestCoalesce_HigherConfidenceWins(t *testing.T) {
	notes := mapped("inventory", 118, "NOTES", 44, model.MethodRegex, model.ScopeGroup)
	sfp := mapped("inventory", 120, "SFP_GROUP", 10, model.MethodRule, model.ScopeGroup)

	f, err := Coalesce([]model.MappedObservation{notes, sfp})
	require.NoError(t, err)

	assert.Equal(t, "inventory", f.CanonicalKey)
	assert.Equal(t, model.MustDate("2025-06-30"), f.PeriodEnd)
	assert.Equal(t, 120.0, f.ValueBase)
	require.Len(t, f.SourceRefs, 2)
	assert.Equal(t, "SFP_GROUP", f.SourceRefs[0].SourceSheet)
	assert.Equal(t, model.MethodRule, f.SourceRefs[0].MappingMethod)
	assert.Equal(t, "NOTES", f.SourceRefs[1].SourceSheet)
	assert.Equal(t, 118.0, f.SourceRefs[1].Value)
	assert.Equal(t, "SFP_GROUP!R10@2025-06-30", f.SourceRefs[0].ExtractionCellRef)
}

func TestCoalesce_TieBreaks(t *testing.T) {
	tests := []struct {
		name      string
		a, b      model.MappedObservation
		wantValue float64
	}{
		{
			name:      "sheet name",
			a:         mapped("cash", 1, "SFP_GROUP", 3, model.MethodRule, model.ScopeGroup),
			b:         mapped("cash", 2, "CF_GROUP", 9, model.MethodRule, model.ScopeGroup),
			wantValue: 2,
		},
		{
			name:      "line number",
			a:         mapped("cash", 1, "SFP_GROUP", 12, model.MethodRule, model.ScopeGroup),
			b:         mapped("cash", 2, "SFP_GROUP", 11, model.MethodRule, model.ScopeGroup),
			wantValue: 2,
		},
		{
			name:      "confidence beats sheet",
			a:         mapped("cash", 1, "AAA", 1, model.MethodRegex, model.ScopeGroup),
			b:         mapped("cash", 2, "ZZZ", 99, model.MethodRule, model.ScopeGroup),
			wantValue: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f1, err := Coalesce([]model.MappedObservation{tt.a, tt.b})
			require.NoError(t, err)
			f2, err := Coalesce([]model.MappedObservation{tt.b, tt.a})
			require.NoError(t, err)

			assert.Equal(t, tt.wantValue, f1.ValueBase)
			assert.Equal(t, f1, f2, "result must not depend on input order")
		})
	}
}

func TestCoalesce_Errors(t *testing.T) {
	_, err := Coalesce(nil)
	assert.Error(t, err)

	_, err = Coalesce([]model.MappedObservation{
		mapped("cash", 1, "SFP_GROUP", 1, model.MethodRule, model.ScopeGroup),
		mapped("cash", 1, "SFP_COMPANY", 1, model.MethodRule, model.ScopeCompany),
	})
	assert.Error(t, err)

	unm := mapped("", 1, "SFP_GROUP", 1, model.MethodUnmapped, model.ScopeGroup)
	_, err = Coalesce([]model.MappedObservation{unm})
	assert.Error(t, err)
}

func TestCoalesceAll(t *testing.T) {
	input := []model.MappedObservation{
		mapped("revenue", 1000, "IS_GROUP", 1, model.MethodRule, model.ScopeGroup),
		mapped("cash", 50, "SFP_GROUP", 5, model.MethodRule, model.ScopeGroup),
		mapped("cash", 40, "SFP_COMPANY", 5, model.MethodRule, model.ScopeCompany),
		mapped("cash", 51, "NOTES", 20, model.MethodRegex, model.ScopeGroup),
		mapped("", 7, "NOTES", 21, model.MethodUnmapped, model.ScopeGroup),
	}
	prior := mapped("cash", 30, "SFP_GROUP", 5, model.MethodRule, model.ScopeGroup)
	prior.Observation.PeriodEnd = model.MustDate("2024-06-30")
	input = append(input, prior)

	facts, err := CoalesceAll(input)
	require.NoError(t, err)
	require.Len(t, facts, 4)

	keys := make([]string, len(facts))
	total := 0
	for i, f := range facts {
		keys[i] = f.Key().String()
		total += len(f.SourceRefs)
	}
	assert.Equal(t, []string{
		"cash@2024-06-30/GROUP",
		"cash@2025-06-30/COMPANY",
		"cash@2025-06-30/GROUP",
		"revenue@2025-06-30/GROUP",
	}, keys)
	assert.Equal(t, 5, total, "every mapped observation appears in exactly one fact")
	assert.Equal(t, 40.0, facts[1].ValueBase)
	assert.Equal(t, 50.0, facts[2].ValueBase)
}

func TestCoalesceAll_OrderIndependent(t *testing.T) {
	input := []model.MappedObservation{
		mapped("cash", 50, "SFP_GROUP", 5, model.MethodRule, model.ScopeGroup),
		mapped("cash", 51, "NOTES", 20, model.MethodRegex, model.ScopeGroup),
		mapped("revenue", 1000, "IS_GROUP", 1, model.MethodRule, model.ScopeGroup),
		mapped("revenue", 990, "NOTES", 2, model.MethodRegex, model.ScopeGroup),
	}
	want, err := CoalesceAll(input)
	require.NoError(t, err)

	reversed := slices.Clone(input)
	slices.Reverse(reversed)
	got, err := CoalesceAll(reversed)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

package rating

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/credit-core/internal/model"
)

var fy25 = model.MustDate("2025-06-30")

func defaultEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(DefaultScheme())
	require.NoError(t, err)
	return e
}

func strongSnapshot() Snapshot {
	return Snapshot{PeriodEnd: fy25, Metrics: map[string]float64{
		"net_debt_to_ebitda": 0.5,
		"interest_cover":     10,
		"ebitda_margin":      30,
		"current_ratio":      2.5,
		"revenue_growth":     20,
	}}
}

func allLevels(level string) Qualitative {
	return Qualitative{Levels: map[string]string{
		"management":       level,
		"market_position":  level,
		"industry_risk":    level,
		"financial_policy": level,
	}}
}

func TestDefaultScheme_Valid(t *testing.T) {
	s := DefaultScheme()
	require.NoError(t, s.Validate())
	assert.InDelta(t, 100, s.WeightSum(), 1e-9)
	assert.Equal(t, DefaultSchemeID, s.ID)
}

func TestRate_AllDefaults(t *testing.T) {
	res := defaultEngine(t).Rate(Snapshot{PeriodEnd: fy25}, Qualitative{})

	assert.Equal(t, 55.25, res.CompositeScore)
	assert.Equal(t, "A-", res.Grade)
	assert.Equal(t, res.BaseGrade, res.Grade)
	assert.Len(t, res.DefaultedDrivers, 9)
	assert.Empty(t, res.AppliedCaps)
	assert.Equal(t, model.PDBand{LowerPct: 0.09, UpperPct: 0.12}, res.PDBand)
	require.Len(t, res.ScoreBreakdown, 9)
	assert.Nil(t, res.ScoreBreakdown[0].Value)
	assert.Equal(t, LevelMed, res.ScoreBreakdown[5].Level)
}

func TestRate_Strong(t *testing.T) {
	res := defaultEngine(t).Rate(strongSnapshot(), allLevels(LevelHigh))

	assert.Equal(t, 90.0, res.CompositeScore)
	assert.Equal(t, "AAA", res.Grade)
	assert.Empty(t, res.DefaultedDrivers)

	lev := res.ScoreBreakdown[0]
	assert.Equal(t, "leverage", lev.Driver)
	require.NotNil(t, lev.Value)
	assert.Equal(t, 0.5, *lev.Value)
	assert.Equal(t, 95.0, lev.RawScore)
	assert.Equal(t, 23.75, lev.WeightedScore)
}

func TestRate_LeverageCaps(t *testing.T) {
	snap := strongSnapshot()
	snap.Metrics["net_debt_to_ebitda"] = 6.5

	res := defaultEngine(t).Rate(snap, allLevels(LevelHigh))

	assert.Equal(t, 68.75, res.CompositeScore)
	assert.Equal(t, "A+", res.BaseGrade)
	assert.Equal(t, "B", res.Grade)
	assert.Equal(t, []string{"leverage_6x", "leverage_5x", "leverage_4x"}, res.AppliedCaps)
	assert.Equal(t, model.PDBand{LowerPct: 2.5, UpperPct: 4.0}, res.PDBand)
}

func TestRate_GoingConcernFlag(t *testing.T) {
	q := allLevels(LevelHigh)
	q.Flags = []string{FlagGoingConcern}

	res := defaultEngine(t).Rate(strongSnapshot(), q)
	assert.Equal(t, "AAA", res.BaseGrade)
	assert.Equal(t, "B", res.Grade)
	assert.Equal(t, []string{"going_concern"}, res.AppliedCaps)
}

func TestRate_CovenantBreachFlag(t *testing.T) {
	q := allLevels(LevelHigh)
	q.Flags = []string{FlagCovenantBreach}

	res := defaultEngine(t).Rate(strongSnapshot(), q)
	assert.Equal(t, "AAA", res.BaseGrade)
	assert.Equal(t, "BB-", res.Grade)
	assert.Equal(t, []string{"covenant_breach"}, res.AppliedCaps)
	assert.Equal(t, model.PDBand{LowerPct: 1.0, UpperPct: 1.6}, res.PDBand)
}

func TestRate_ShortTermDebtToCash(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		grade string
		caps  []string
	}{
		{"above 5x", 6, "BB-", []string{"short_term_debt_to_cash_5x"}},
		{"at 5x", 5, "AAA", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := strongSnapshot()
			snap.Metrics["short_term_debt_to_cash"] = tt.value
			res := defaultEngine(t).Rate(snap, allLevels(LevelHigh))
			assert.Equal(t, tt.grade, res.Grade)
			assert.Equal(t, tt.caps, res.AppliedCaps)
		})
	}
}

func TestRate_NonPositiveEbitda(t *testing.T) {
	snap := strongSnapshot()
	snap.Metrics["net_debt_to_ebitda"] = -17.8
	snap.Metrics["operating_ebitda"] = -50

	res := defaultEngine(t).Rate(snap, allLevels(LevelHigh))

	lev := res.ScoreBreakdown[0]
	require.NotNil(t, lev.Value)
	assert.Equal(t, -17.8, *lev.Value)
	assert.False(t, lev.Defaulted)
	assert.Equal(t, 10.0, lev.RawScore)
	assert.Equal(t, 68.75, res.CompositeScore)
	assert.Equal(t, "B", res.Grade)
	assert.Equal(t, []string{"non_positive_ebitda"}, res.AppliedCaps)
}

func TestRate_LeverageFallback(t *testing.T) {
	snap := strongSnapshot()
	delete(snap.Metrics, "net_debt_to_ebitda")
	snap.Metrics["net_debt_to_operating_ebitda"] = 6.5
	snap.Metrics["operating_ebitda"] = 40

	res := defaultEngine(t).Rate(snap, allLevels(LevelHigh))

	lev := res.ScoreBreakdown[0]
	assert.Equal(t, "net_debt_to_operating_ebitda", lev.Metric)
	assert.False(t, lev.Defaulted)
	assert.Equal(t, 68.75, res.CompositeScore)
	assert.Equal(t, "B", res.Grade)
	assert.Equal(t, []string{"leverage_6x", "leverage_5x", "leverage_4x"}, res.AppliedCaps)
}

func TestRate_CapsNeverImprove(t *testing.T) {
	snap := Snapshot{PeriodEnd: fy25, Metrics: map[string]float64{
		"net_debt_to_ebitda": 10,
		"interest_cover":     -1,
		"ebitda_margin":      -200,
		"current_ratio":      0.1,
		"revenue_growth":     -50,
	}}

	res := defaultEngine(t).Rate(snap, allLevels(LevelLow))

	assert.Equal(t, 21.25, res.CompositeScore)
	assert.Equal(t, "B+", res.BaseGrade)
	assert.Equal(t, "B", res.Grade)
	assert.Equal(t, []string{"leverage_6x"}, res.AppliedCaps)
}

func TestRate_UnknownLevelDefaults(t *testing.T) {
	q := Qualitative{Levels: map[string]string{"management": "EXCELLENT"}}
	res := defaultEngine(t).Rate(strongSnapshot(), q)
	assert.Contains(t, res.DefaultedDrivers, "management")
	assert.Equal(t, LevelMed, res.ScoreBreakdown[5].Level)
}

func TestRate_Deterministic(t *testing.T) {
	e := defaultEngine(t)
	first := e.Rate(strongSnapshot(), allLevels(LevelMed))
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.Rate(strongSnapshot(), allLevels(LevelMed)))
	}
}

func TestScheme_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Scheme)
		want   string
	}{
		{"weights", func(s *Scheme) { s.Drivers[0].Weight = 24 }, "weights must sum to 100"},
		{"band order", func(s *Scheme) { s.Drivers[0].Bands[1].Threshold = 0.5 }, "thresholds must ascend"},
		{"grade order", func(s *Scheme) { s.Grades[2].MinScore = 90 }, "min_score must be below"},
		{"last grade", func(s *Scheme) { s.Grades[len(s.Grades)-1].MinScore = 5 }, "last grade must have min_score 0"},
		{"cap grade", func(s *Scheme) { s.Caps[0].Grade = "Z" }, "unknown grade"},
		{"cap op", func(s *Scheme) { s.Caps[0].Op = "eq" }, "unknown op"},
		{"kind", func(s *Scheme) { s.Drivers[5].Kind = "vibes" }, "unknown kind"},
		{"id", func(s *Scheme) { s.ID = "" }, "id is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultScheme()
			tt.mutate(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)

			_, err = New(s)
			assert.Error(t, err)
		})
	}
}

func TestSnapshots(t *testing.T) {
	fy24 := model.MustDate("2024-06-30")
	metrics := []model.MetricFact{
		{MetricKey: "interest_cover", PeriodEnd: fy24, Value: 3},
		{MetricKey: "interest_cover", PeriodEnd: fy25, Value: 4},
		{MetricKey: "current_ratio", PeriodEnd: fy25, Value: 1.1},
	}

	snap, ok := LatestSnapshot(metrics)
	require.True(t, ok)
	assert.Equal(t, fy25, snap.PeriodEnd)
	assert.Equal(t, map[string]float64{"interest_cover": 4, "current_ratio": 1.1}, snap.Metrics)

	old := SnapshotFor(metrics, fy24)
	assert.Equal(t, map[string]float64{"interest_cover": 3}, old.Metrics)

	_, ok = LatestSnapshot(nil)
	assert.False(t, ok)
}

func TestQualitativeFromNotes(t *testing.T) {
	notes := []model.Note{
		{NoteNumber: "12", Title: "Impairment of goodwill", NoteType: "impairment"},
		{NoteNumber: "30", Title: "Going concern", NoteType: "GOING_CONCERN"},
		{NoteNumber: "31", Title: "Contingent liabilities", NoteType: "CONTINGENCIES"},
	}
	base := Qualitative{Levels: map[string]string{"market_position": LevelHigh}}

	q := QualitativeFromNotes(notes, base)
	assert.Equal(t, LevelHigh, q.Levels["market_position"], "explicit levels win")
	assert.Equal(t, LevelLow, q.Levels["financial_policy"])
	assert.Equal(t, []string{FlagGoingConcern}, q.Flags)
	assert.Len(t, base.Levels, 1, "base is not modified")

	assert.Equal(t, Qualitative{}, QualitativeFromNotes(nil, Qualitative{}))
}

func TestLoadScheme(t *testing.T) {
	data, err := yaml.Marshal(DefaultScheme())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "scheme.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	s, err := LoadScheme(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultScheme(), s)

	_, err = ParseScheme([]byte("id: x\ndrivers: []\ngrades: []\n"))
	assert.Error(t, err)

	_, err = ParseScheme([]byte("id: [unterminated"))
	assert.Error(t, err)

	_, err = LoadScheme(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

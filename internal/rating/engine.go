package rating

import (
	"math"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credit-core/internal/model"
)

// Snapshot is the fixed set of metric values a rating is computed from.
type Snapshot struct {
	PeriodEnd model.Date         `json:"period_end"`
	Metrics   map[string]float64 `json:"metrics"`
}

// SnapshotFor collects the metrics for one period.
func SnapshotFor(metrics []model.MetricFact, period model.Date) Snapshot {
	snap := Snapshot{PeriodEnd: period, Metrics: make(map[string]float64)}
	for _, m := range metrics {
		if m.PeriodEnd.Compare(period) == 0 {
			snap.Metrics[m.MetricKey] = m.Value
		}
	}
	return snap
}

// LatestSnapshot returns the snapshot for the most recent period that has any
// metric. It reports false when metrics is empty.
func LatestSnapshot(metrics []model.MetricFact) (Snapshot, bool) {
	if len(metrics) == 0 {
		return Snapshot{}, false
	}
	latest := metrics[0].PeriodEnd
	for _, m := range metrics[1:] {
		if m.PeriodEnd.Compare(latest) > 0 {
			latest = m.PeriodEnd
		}
	}
	return SnapshotFor(metrics, latest), true
}

// Qualitative holds analyst-supplied qualitative levels by driver name and
// flags raised from notes.
type Qualitative struct {
	Levels map[string]string `json:"levels,omitempty"`
	Flags  []string          `json:"flags,omitempty"`
}

// Engine rates snapshots against a validated scheme.
type Engine struct {
	scheme Scheme
}

// New validates the scheme and returns an Engine.
func New(scheme Scheme) (*Engine, error) {
	if err := scheme.Validate(); err != nil {
		return nil, eris.Wrapf(err, "rating: scheme %s", scheme.ID)
	}
	return &Engine{scheme: scheme}, nil
}

// SchemeID returns the id of the scheme in use.
func (e *Engine) SchemeID() string {
	return e.scheme.ID
}

// Scheme returns the scheme in use.
func (e *Engine) Scheme() Scheme {
	return e.scheme
}

// Rate scores the snapshot. Missing inputs take the driver's default score
// and are listed in DefaultedDrivers; Rate never fails on absent data. Caps
// can only worsen the grade, and the PD band follows the final grade.
func (e *Engine) Rate(snap Snapshot, q Qualitative) model.RatingResult {
	res := model.RatingResult{
		SchemeID:         e.scheme.ID,
		PeriodEnd:        snap.PeriodEnd,
		ScoreBreakdown:   make([]model.DriverScore, 0, len(e.scheme.Drivers)),
		DefaultedDrivers: []string{},
		AppliedCaps:      []string{},
	}

	var composite float64
	for _, d := range e.scheme.Drivers {
		ds := e.scoreDriver(d, snap, q)
		weighted := ds.RawScore * d.Weight / 100
		ds.WeightedScore = round2(weighted)
		composite += weighted
		if ds.Defaulted {
			res.DefaultedDrivers = append(res.DefaultedDrivers, d.Name)
		}
		res.ScoreBreakdown = append(res.ScoreBreakdown, ds)
	}
	res.CompositeScore = round2(composite)

	base := e.gradeFor(res.CompositeScore)
	final := base
	for _, c := range e.scheme.Caps {
		if !c.triggered(snap.Metrics, q.Flags) {
			continue
		}
		idx := e.scheme.gradeIndex(c.Grade)
		if idx <= base {
			continue
		}
		res.AppliedCaps = append(res.AppliedCaps, c.Name)
		if idx > final {
			final = idx
		}
	}

	res.BaseGrade = e.scheme.Grades[base].Grade
	res.Grade = e.scheme.Grades[final].Grade
	res.PDBand = e.scheme.Grades[final].PD

	zap.L().Debug("rating: scored",
		zap.String("scheme", e.scheme.ID),
		zap.String("period", snap.PeriodEnd.String()),
		zap.Float64("composite", res.CompositeScore),
		zap.String("base_grade", res.BaseGrade),
		zap.String("grade", res.Grade),
		zap.Strings("caps", res.AppliedCaps),
		zap.Strings("defaulted", res.DefaultedDrivers),
	)
	return res
}

func (e *Engine) scoreDriver(d Driver, snap Snapshot, q Qualitative) model.DriverScore {
	ds := model.DriverScore{Driver: d.Name, Kind: d.Kind, Weight: d.Weight}

	switch d.Kind {
	case model.DriverQuantitative:
		key, v, ok := lookupMetric(snap.Metrics, d.Metric, d.FallbackMetrics)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			ds.RawScore = d.DefaultScore
			ds.Defaulted = true
			return ds
		}
		ds.Metric = key
		ds.Value = &v
		ds.RawScore = scoreBands(d, v)
		if g, guarded := snap.Metrics[d.GuardMetric]; guarded && d.GuardMetric != "" && g <= 0 {
			ds.RawScore = d.Bands[len(d.Bands)-1].Score
			zap.L().Debug("rating: guard metric not positive, worst band applied",
				zap.String("driver", d.Name),
				zap.String("guard", d.GuardMetric),
				zap.Float64("guard_value", g),
			)
		}

	case model.DriverQualitative:
		level, supplied := q.Levels[d.Name]
		if supplied {
			if score, ok := levelScore(d, level); ok {
				ds.Level = level
				ds.RawScore = score
				return ds
			}
			zap.L().Warn("rating: unknown qualitative level, using default",
				zap.String("driver", d.Name),
				zap.String("level", level),
			)
		}
		ds.Level = d.DefaultLevel
		ds.RawScore = d.DefaultScore
		ds.Defaulted = true
	}
	return ds
}

func scoreBands(d Driver, v float64) float64 {
	for _, b := range d.Bands {
		if d.Direction == LowerIsBetter && v <= b.Threshold {
			return b.Score
		}
		if d.Direction == HigherIsBetter && v >= b.Threshold {
			return b.Score
		}
	}
	return d.Bands[len(d.Bands)-1].Score
}

func levelScore(d Driver, level string) (float64, bool) {
	i := slices.IndexFunc(d.Levels, func(l Level) bool { return l.Name == level })
	if i < 0 {
		return 0, false
	}
	return d.Levels[i].Score, true
}

func (e *Engine) gradeFor(score float64) int {
	for i, g := range e.scheme.Grades {
		if score >= g.MinScore {
			return i
		}
	}
	return len(e.scheme.Grades) - 1
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

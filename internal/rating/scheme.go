// Package rating scores a metric snapshot and qualitative inputs into an
// internal grade and PD band using a versioned, static scheme.
package rating

import (
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/credit-core/internal/model"
)

// Direction says which way a quantitative driver improves.
type Direction string

const (
	HigherIsBetter Direction = "higher_is_better"
	LowerIsBetter  Direction = "lower_is_better"
)

// Band is one row of a quantitative scoring table. For higher_is_better
// drivers a value scores when it is >= Threshold; for lower_is_better when it
// is <= Threshold. Bands are evaluated in order and the first match wins. A
// value matching no band takes the last band's score.
type Band struct {
	Threshold float64 `yaml:"threshold" json:"threshold"`
	Score     float64 `yaml:"score" json:"score"`
}

// Level is one row of a qualitative scoring table.
type Level struct {
	Name  string  `yaml:"name" json:"name"`
	Score float64 `yaml:"score" json:"score"`
}

// Driver is one weighted scoring input.
type Driver struct {
	Name         string           `yaml:"name" json:"name"`
	Kind         model.DriverKind `yaml:"kind" json:"kind"`
	Metric       string           `yaml:"metric,omitempty" json:"metric,omitempty"`
	Direction    Direction        `yaml:"direction,omitempty" json:"direction,omitempty"`
	Bands        []Band           `yaml:"bands,omitempty" json:"bands,omitempty"`
	Levels       []Level          `yaml:"levels,omitempty" json:"levels,omitempty"`
	Weight       float64          `yaml:"weight" json:"weight"`
	DefaultScore float64          `yaml:"default_score" json:"default_score"`
	DefaultLevel string           `yaml:"default_level,omitempty" json:"default_level,omitempty"`

	// FallbackMetrics are read in order when Metric is absent.
	FallbackMetrics []string `yaml:"fallback_metrics,omitempty" json:"fallback_metrics,omitempty"`
	// GuardMetric, when present and not positive, forces the worst band score.
	GuardMetric     string   `yaml:"guard_metric,omitempty" json:"guard_metric,omitempty"`
}

// lookupMetric returns the first of primary and fallback present in metrics.
func lookupMetric(metrics map[string]float64, primary string, fallback []string) (string, float64, bool) {
	if v, ok := metrics[primary]; ok {
		return primary, v, true
	}
	for _, k := range fallback {
		if v, ok := metrics[k]; ok {
			return k, v, true
		}
	}
	return "", 0, false
}

// Grade maps composite scores >= MinScore to a grade and PD band. Grades are
// ordered best first.
type Grade struct {
	Grade    string       `yaml:"grade" json:"grade"`
	MinScore float64      `yaml:"min_score" json:"min_score"`
	PD       model.PDBand `yaml:"pd" json:"pd"`
}

// Cap operators.
const (
	OpGT  = "gt"
	OpGTE = "gte"
	OpLT  = "lt"
	OpLTE = "lte"
)

// Cap limits the final grade to at most Grade when its condition holds. A
// cap is either metric based (Metric, Op, Threshold) or flag based (Flag).
type Cap struct {
	Name      string  `yaml:"name" json:"name"`
	Metric    string  `yaml:"metric,omitempty" json:"metric,omitempty"`
	Op        string  `yaml:"op,omitempty" json:"op,omitempty"`
	Threshold float64 `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Flag      string  `yaml:"flag,omitempty" json:"flag,omitempty"`
	Grade     string  `yaml:"grade" json:"grade"`

	FallbackMetrics []string `yaml:"fallback_metrics,omitempty" json:"fallback_metrics,omitempty"`
}

func (c Cap) triggered(metrics map[string]float64, flags []string) bool {
	if c.Flag != "" {
		for _, f := range flags {
			if f == c.Flag {
				return true
			}
		}
		return false
	}
	_, v, ok := lookupMetric(metrics, c.Metric, c.FallbackMetrics)
	if !ok {
		return false
	}
	switch c.Op {
	case OpGT:
		return v > c.Threshold
	case OpGTE:
		return v >= c.Threshold
	case OpLT:
		return v < c.Threshold
	case OpLTE:
		return v <= c.Threshold
	}
	return false
}

// Scheme is a complete, versioned rating configuration. A published scheme
// is never edited; changes are published under a new ID.
type Scheme struct {
	ID      string   `yaml:"id" json:"id"`
	Drivers []Driver `yaml:"drivers" json:"drivers"`
	Grades  []Grade  `yaml:"grades" json:"grades"`
	Caps    []Cap    `yaml:"caps,omitempty" json:"caps,omitempty"`
}

// WeightSum returns the sum of all driver weights.
func (s Scheme) WeightSum() float64 {
	var sum float64
	for _, d := range s.Drivers {
		sum += d.Weight
	}
	return sum
}

func (s Scheme) gradeIndex(grade string) int {
	for i, g := range s.Grades {
		if g.Grade == grade {
			return i
		}
	}
	return -1
}

// Validate checks that the scheme is internally consistent.
func (s Scheme) Validate() error {
	var errs []string

	if strings.TrimSpace(s.ID) == "" {
		errs = append(errs, "id is required")
	}
	if len(s.Drivers) == 0 {
		errs = append(errs, "at least one driver is required")
	}

	names := make(map[string]bool)
	for i, d := range s.Drivers {
		label := fmt.Sprintf("driver %d (%s)", i, d.Name)
		if d.Name == "" {
			errs = append(errs, fmt.Sprintf("driver %d: name is required", i))
		}
		if names[d.Name] {
			errs = append(errs, label+": duplicate name")
		}
		names[d.Name] = true
		if d.Weight <= 0 {
			errs = append(errs, label+": weight must be > 0")
		}
		if d.DefaultScore < 0 || d.DefaultScore > 100 {
			errs = append(errs, label+": default_score must be between 0 and 100")
		}

		switch d.Kind {
		case model.DriverQuantitative:
			errs = append(errs, validateBands(label, d)...)
		case model.DriverQualitative:
			if len(d.Levels) == 0 {
				errs = append(errs, label+": levels are required")
			}
			seen := make(map[string]bool)
			for _, l := range d.Levels {
				if l.Name == "" || seen[l.Name] {
					errs = append(errs, fmt.Sprintf("%s: level %q missing or duplicated", label, l.Name))
				}
				seen[l.Name] = true
				if l.Score < 0 || l.Score > 100 {
					errs = append(errs, fmt.Sprintf("%s: level %q score must be between 0 and 100", label, l.Name))
				}
			}
			if d.DefaultLevel != "" && !seen[d.DefaultLevel] {
				errs = append(errs, fmt.Sprintf("%s: default_level %q is not a level", label, d.DefaultLevel))
			}
		default:
			errs = append(errs, fmt.Sprintf("%s: unknown kind %q", label, d.Kind))
		}
	}

	if sum := s.WeightSum(); math.Abs(sum-100) > 0.01 {
		errs = append(errs, fmt.Sprintf("weights must sum to 100, got %.2f", sum))
	}

	if len(s.Grades) == 0 {
		errs = append(errs, "at least one grade is required")
	}
	for i, g := range s.Grades {
		if g.Grade == "" {
			errs = append(errs, fmt.Sprintf("grade %d: name is required", i))
		}
		if i > 0 && g.MinScore >= s.Grades[i-1].MinScore {
			errs = append(errs, fmt.Sprintf("grade %s: min_score must be below %s", g.Grade, s.Grades[i-1].Grade))
		}
		if g.PD.LowerPct < 0 || g.PD.UpperPct < g.PD.LowerPct {
			errs = append(errs, fmt.Sprintf("grade %s: invalid pd band", g.Grade))
		}
	}
	if n := len(s.Grades); n > 0 && s.Grades[n-1].MinScore != 0 {
		errs = append(errs, "last grade must have min_score 0")
	}

	for i, c := range s.Caps {
		label := fmt.Sprintf("cap %d (%s)", i, c.Name)
		if s.gradeIndex(c.Grade) < 0 {
			errs = append(errs, fmt.Sprintf("%s: unknown grade %q", label, c.Grade))
		}
		switch {
		case c.Flag != "" && c.Metric != "":
			errs = append(errs, label+": set either flag or metric")
		case c.Flag == "" && c.Metric == "":
			errs = append(errs, label+": flag or metric is required")
		case c.Metric != "" && !validOp(c.Op):
			errs = append(errs, fmt.Sprintf("%s: unknown op %q", label, c.Op))
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("rating: scheme validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validOp(op string) bool {
	switch op {
	case OpGT, OpGTE, OpLT, OpLTE:
		return true
	}
	return false
}

func validateBands(label string, d Driver) []string {
	var errs []string
	if d.Metric == "" {
		errs = append(errs, label+": metric is required")
	}
	if d.Direction != HigherIsBetter && d.Direction != LowerIsBetter {
		errs = append(errs, fmt.Sprintf("%s: unknown direction %q", label, d.Direction))
	}
	if len(d.Bands) == 0 {
		errs = append(errs, label+": bands are required")
	}
	for i, b := range d.Bands {
		if b.Score < 0 || b.Score > 100 {
			errs = append(errs, fmt.Sprintf("%s: band %d score must be between 0 and 100", label, i))
		}
		if i == 0 {
			continue
		}
		prev := d.Bands[i-1].Threshold
		if d.Direction == HigherIsBetter && b.Threshold >= prev {
			errs = append(errs, fmt.Sprintf("%s: band %d thresholds must descend", label, i))
		}
		if d.Direction == LowerIsBetter && b.Threshold <= prev {
			errs = append(errs, fmt.Sprintf("%s: band %d thresholds must ascend", label, i))
		}
	}
	return errs
}

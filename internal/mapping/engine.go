package mapping

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/credit-core/internal/model"
)

var snakeCaseRe = regexp.MustCompile(`^[a-z][a-z0-9]*(_[a-z0-9]+)*$`)

// NormalizeLabel applies NFKC normalization and case folding, trims the label
// and collapses internal whitespace runs to a single space.
func NormalizeLabel(label string) string {
	label = norm.NFKC.String(label)
	label = cases.Fold().String(label)
	return strings.Join(strings.Fields(label), " ")
}

// ConfigError reports a rule table that failed validation. It is fatal at
// load time: no evaluation may run against a partially valid table.
type ConfigError struct {
	Version  string
	Problems []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("mapping: rule table %q invalid: %s", e.Version, strings.Join(e.Problems, "; "))
}

// Context carries the row metadata available to mapping. Rules in the
// current table versions match on the label alone.
type Context struct {
	SourceSheet string
	EntityScope model.EntityScope
}

type exactEntry struct {
	synonym string
	rule    int
}

type patternEntry struct {
	re   *regexp.Regexp
	rule int
}

// Engine is a compiled, immutable rule table. It is safe for concurrent use.
type Engine struct {
	table    RuleTable
	exact    []exactEntry
	patterns []patternEntry
}

// Compile validates the table and returns an Engine. Any malformed rule
// yields a *ConfigError.
func Compile(table RuleTable) (*Engine, error) {
	table = table.Clone()
	var problems []string

	if strings.TrimSpace(table.Version) == "" {
		problems = append(problems, "version is required")
	}

	e := &Engine{table: table}
	seen := make(map[string]int)
	for i, r := range table.Exact {
		if !snakeCaseRe.MatchString(r.CanonicalKey) {
			problems = append(problems, fmt.Sprintf("exact rule %d: canonical_key %q must be snake_case", i, r.CanonicalKey))
		}
		if len(r.Synonyms) == 0 {
			problems = append(problems, fmt.Sprintf("exact rule %d: at least one synonym is required", i))
		}
		for _, syn := range r.Synonyms {
			n := NormalizeLabel(syn)
			if n == "" {
				problems = append(problems, fmt.Sprintf("exact rule %d: empty synonym", i))
				continue
			}
			if prev, dup := seen[n]; dup {
				problems = append(problems, fmt.Sprintf("exact rule %d: synonym %q already defined by rule %d", i, n, prev))
				continue
			}
			seen[n] = i
			e.exact = append(e.exact, exactEntry{synonym: n, rule: i})
		}
	}

	for i, r := range table.Patterns {
		if !snakeCaseRe.MatchString(r.CanonicalKey) {
			problems = append(problems, fmt.Sprintf("pattern rule %d: canonical_key %q must be snake_case", i, r.CanonicalKey))
		}
		if strings.TrimSpace(r.Pattern) == "" {
			problems = append(problems, fmt.Sprintf("pattern rule %d: pattern is required", i))
			continue
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			problems = append(problems, fmt.Sprintf("pattern rule %d: %v", i, err))
			continue
		}
		e.patterns = append(e.patterns, patternEntry{re: re, rule: i})
	}

	if len(problems) > 0 {
		return nil, &ConfigError{Version: table.Version, Problems: problems}
	}
	return e, nil
}

// MustCompile is Compile for tables known to be valid. It panics otherwise.
func MustCompile(table RuleTable) *Engine {
	e, err := Compile(table)
	if err != nil {
		panic(err)
	}
	return e
}

// Version returns the rule table version.
func (e *Engine) Version() string {
	return e.table.Version
}

// Table returns a copy of the compiled rule table.
func (e *Engine) Table() RuleTable {
	return e.table.Clone()
}

// Map resolves a raw label. Pass A compares the normalized label against
// exact synonyms in rule order; pass B evaluates patterns in rule order.
// The first match wins. UNMAPPED is a normal outcome, never an error.
func (e *Engine) Map(rawLabel string, ctx Context) model.MappingResult {
	res, _ := e.resolve(rawLabel, ctx)
	return res
}

func (e *Engine) resolve(rawLabel string, _ Context) (model.MappingResult, bool) {
	normalized := NormalizeLabel(rawLabel)
	if normalized == "" {
		return unmapped(), false
	}

	for _, x := range e.exact {
		if x.synonym == normalized {
			r := e.table.Exact[x.rule]
			return model.MappingResult{
				CanonicalKey: r.CanonicalKey,
				Method:       model.MethodRule,
				Confidence:   model.ConfidenceRule,
			}, r.Expense
		}
	}

	for _, p := range e.patterns {
		if p.re.MatchString(normalized) {
			r := e.table.Patterns[p.rule]
			return model.MappingResult{
				CanonicalKey: r.CanonicalKey,
				Method:       model.MethodRegex,
				Confidence:   model.ConfidenceRegex,
			}, r.Expense
		}
	}

	return unmapped(), false
}

func unmapped() model.MappingResult {
	return model.MappingResult{Method: model.MethodUnmapped, Confidence: model.ConfidenceUnmapped}
}

// Batch is the outcome of mapping a list of observations.
type Batch struct {
	Mapped   []model.MappedObservation
	Unmapped []model.RawObservation
	Errors   []model.RecordError
}

// MapObservations validates and maps each observation in input order.
// Invalid records are reported in Errors and skipped; the rest of the batch
// is still processed. Expense lines are stored with a negative sign.
func (e *Engine) MapObservations(obs []model.RawObservation) Batch {
	var b Batch
	for i, o := range obs {
		if problems := o.Validate(); len(problems) > 0 {
			rerr := model.NewRecordError(i, o, problems)
			zap.L().Warn("mapping: rejected record",
				zap.Int("index", i),
				zap.String("sheet", o.SourceSheet),
				zap.Int("line_no", o.LineNo),
				zap.String("reason", rerr.Reason),
			)
			b.Errors = append(b.Errors, rerr)
			continue
		}

		res, expense := e.resolve(o.RawLabel, Context{SourceSheet: o.SourceSheet, EntityScope: o.EntityScope})
		if !res.Mapped() {
			b.Unmapped = append(b.Unmapped, o)
			continue
		}

		value := o.Value
		if expense && value > 0 {
			value = -value
		}
		b.Mapped = append(b.Mapped, model.MappedObservation{
			Observation: o,
			Mapping:     res,
			Value:       value,
		})
	}

	zap.L().Debug("mapping: batch complete",
		zap.String("rules_version", e.table.Version),
		zap.Int("mapped", len(b.Mapped)),
		zap.Int("unmapped", len(b.Unmapped)),
		zap.Int("rejected", len(b.Errors)),
	)
	return b
}

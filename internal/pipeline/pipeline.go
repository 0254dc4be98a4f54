// Package pipeline runs the credit transformation core end to end: mapping,
// coalescing, metric evaluation, rating and provenance.
package pipeline

import (
	"errors"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credit-core/internal/coalesce"
	"github.com/sells-group/credit-core/internal/facts"
	"github.com/sells-group/credit-core/internal/formula"
	"github.com/sells-group/credit-core/internal/mapping"
	"github.com/sells-group/credit-core/internal/model"
	"github.com/sells-group/credit-core/internal/provenance"
	"github.com/sells-group/credit-core/internal/rating"
)

// Config selects the versioned configuration a Pipeline evaluates with.
type Config struct {
	Rules    mapping.RuleTable
	Formulas *formula.Library
	Scheme   rating.Scheme
	// Scope fixes the entity scope for metrics and rating. When empty, GROUP
	// is used if the input has any GROUP observations, otherwise COMPANY.
	Scope model.EntityScope
}

// DefaultConfig returns the built-in rule table, formula library and scheme.
func DefaultConfig() Config {
	return Config{
		Rules:    mapping.DefaultRuleTable(),
		Formulas: formula.BuiltinV1(),
		Scheme:   rating.DefaultScheme(),
	}
}

// Pipeline is an immutable, validated configuration. Run is safe for
// concurrent use.
type Pipeline struct {
	mapper   *mapping.Engine
	formulas *formula.Library
	rater    *rating.Engine
	scope    model.EntityScope
}

// New validates every configuration table before anything is evaluated.
func New(cfg Config) (*Pipeline, error) {
	mapper, err := mapping.Compile(cfg.Rules)
	if err != nil {
		return nil, err
	}
	if cfg.Formulas == nil {
		return nil, eris.New("pipeline: formula library is required")
	}
	rater, err := rating.New(cfg.Scheme)
	if err != nil {
		return nil, err
	}
	if cfg.Scope != "" && !cfg.Scope.Valid() {
		return nil, eris.Errorf("pipeline: invalid scope %q", cfg.Scope)
	}
	return &Pipeline{mapper: mapper, formulas: cfg.Formulas, rater: rater, scope: cfg.Scope}, nil
}

// Versions reports the configuration versions stamped on every result.
func (p *Pipeline) Versions() model.Versions {
	return model.Versions{
		MappingRules:   p.mapper.Version(),
		FormulaLibrary: p.formulas.Version(),
		RatingScheme:   p.rater.SchemeID(),
	}
}

// Mapper returns the compiled rule table.
func (p *Pipeline) Mapper() *mapping.Engine {
	return p.mapper
}

// Formulas returns the formula library.
func (p *Pipeline) Formulas() *formula.Library {
	return p.formulas
}

// Input is one document's extraction output plus optional analyst inputs.
type Input struct {
	DocumentID   string                  `json:"document_id"`
	Observations []model.RawObservation  `json:"observations"`
	Notes        []model.Note            `json:"notes,omitempty"`
	Qualitative  rating.Qualitative      `json:"qualitative,omitempty"`
	Citations    []model.SectionCitation `json:"citations,omitempty"`
	// Rejected carries rows the loader could not parse. They are reported
	// ahead of the records rejected during mapping.
	Rejected     []model.RecordError     `json:"rejected,omitempty"`
}

// Result is everything one evaluation run produces.
type Result struct {
	DocumentID   string                  `json:"document_id"`
	Versions     model.Versions          `json:"versions"`
	Scope        model.EntityScope       `json:"scope"`
	Facts        []model.NormalizedFact  `json:"facts"`
	Metrics      []model.MetricFact      `json:"metrics"`
	Skipped      []model.SkippedMetric   `json:"skipped"`
	Rating       *model.RatingResult     `json:"rating,omitempty"`
	Provenance   *model.ProvenanceBundle `json:"provenance,omitempty"`
	Unmapped     []mapping.UnmappedLabel `json:"unmapped"`
	RecordErrors []model.RecordError     `json:"record_errors"`
	Findings     []facts.Finding         `json:"findings"`

	// ProvenanceError is the broken link that left Provenance nil.
	ProvenanceError *provenance.MissingLinkError `json:"provenance_error,omitempty"`
}

// Run evaluates one document. Rejected records, unmapped labels, skipped
// metrics and defaulted drivers are reported in the result. Run returns an
// error only when the cited provenance chain is broken; the result is still
// returned with its facts, metrics and rating, and a nil Provenance.
func (p *Pipeline) Run(in Input) (*Result, error) {
	log := zap.L().With(zap.String("document_id", in.DocumentID))
	res := &Result{DocumentID: in.DocumentID, Versions: p.Versions()}

	batch := p.mapper.MapObservations(in.Observations)
	res.RecordErrors = append(slices.Clone(in.Rejected), batch.Errors...)
	res.Unmapped = mapping.UnmappedQueue(batch.Unmapped)

	factList, err := coalesce.CoalesceAll(batch.Mapped)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: coalesce")
	}
	store, err := facts.New(factList)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: build fact store")
	}
	res.Facts = store.Facts()
	res.Findings = facts.Check(store)

	res.Scope = p.resolveScope(store)
	eval := formula.EvaluateAll(p.formulas, store, res.Scope)
	res.Metrics = eval.Metrics
	res.Skipped = eval.Skipped

	if periods := store.Periods(res.Scope); len(periods) > 0 {
		latest := periods[len(periods)-1]
		q := rating.QualitativeFromNotes(in.Notes, in.Qualitative)
		r := p.rater.Rate(rating.SnapshotFor(res.Metrics, latest), q)
		res.Rating = &r
	}

	var provErr error
	if len(in.Citations) > 0 {
		bundle, err := provenance.Assemble(in.Citations, res.Metrics, store, res.Versions)
		if err != nil {
			provErr = err
			var link *provenance.MissingLinkError
			if errors.As(err, &link) {
				res.ProvenanceError = link
			}
			log.Warn("pipeline: provenance bundle broken", zap.Error(err))
		} else {
			res.Provenance = bundle
		}
	}

	fields := []zap.Field{
		zap.String("scope", string(res.Scope)),
		zap.Int("observations", len(in.Observations)),
		zap.Int("mapped", len(batch.Mapped)),
		zap.Int("unmapped", len(batch.Unmapped)),
		zap.Int("rejected", len(res.RecordErrors)),
		zap.Int("facts", len(res.Facts)),
		zap.Int("metrics", len(res.Metrics)),
		zap.Int("skipped", len(res.Skipped)),
	}
	if res.Rating != nil {
		fields = append(fields, zap.String("grade", res.Rating.Grade))
	}
	log.Info("pipeline: run complete", fields...)
	return res, provErr
}

func (p *Pipeline) resolveScope(store *facts.Store) model.EntityScope {
	if p.scope != "" {
		return p.scope
	}
	if store.HasScope(model.ScopeGroup) || !store.HasScope(model.ScopeCompany) {
		return model.ScopeGroup
	}
	return model.ScopeCompany
}

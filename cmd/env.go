package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/credit-core/internal/config"
	"github.com/sells-group/credit-core/internal/formula"
	"github.com/sells-group/credit-core/internal/ingest"
	"github.com/sells-group/credit-core/internal/mapping"
	"github.com/sells-group/credit-core/internal/model"
	"github.com/sells-group/credit-core/internal/pipeline"
	"github.com/sells-group/credit-core/internal/rating"
	"github.com/sells-group/credit-core/internal/store"
)

// loadRuleTable returns the configured rule table, or the built-in one.
func loadRuleTable(c *config.Config) (mapping.RuleTable, error) {
	if c.Rules.Path == "" {
		return mapping.DefaultRuleTable(), nil
	}
	engine, err := mapping.LoadRuleTable(c.Rules.Path)
	if err != nil {
		return mapping.RuleTable{}, err
	}
	return engine.Table(), nil
}

// pipelineConfig assembles the versioned tables named by the configuration.
func pipelineConfig(c *config.Config) (pipeline.Config, error) {
	pc := pipeline.DefaultConfig()

	rules, err := loadRuleTable(c)
	if err != nil {
		return pipeline.Config{}, err
	}
	pc.Rules = rules

	if c.Rating.SchemePath != "" {
		scheme, err := rating.LoadScheme(c.Rating.SchemePath)
		if err != nil {
			return pipeline.Config{}, err
		}
		pc.Scheme = scheme
	}
	pc.Formulas = formula.BuiltinV1()
	if c.Pipeline.Scope != "" {
		pc.Scope = model.EntityScope(strings.ToUpper(c.Pipeline.Scope))
	}
	return pc, nil
}

// buildPipeline validates every configuration table before any input is read.
func buildPipeline(c *config.Config) (*pipeline.Pipeline, error) {
	pc, err := pipelineConfig(c)
	if err != nil {
		return nil, err
	}
	p, err := pipeline.New(pc)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("pipeline ready",
		zap.String("rules", p.Versions().MappingRules),
		zap.String("formulas", p.Versions().FormulaLibrary),
		zap.String("scheme", p.Versions().RatingScheme),
	)
	return p, nil
}

func ingestOptions(c *config.Config) ingest.Options {
	scale := ingest.ScaleFactor(c.Ingest.Scale)
	return ingest.Options{
		Workbook: ingest.WorkbookOptions{
			YearEndMonth: time.Month(c.Ingest.YearEndMonth),
			YearEndDay:   c.Ingest.YearEndDay,
			Scale:        scale,
		},
		Scale: scale,
	}
}

// loadInput reads an extraction file and, when notesPath is set, the notes
// that feed qualitative drivers.
func loadInput(c *config.Config, path, notesPath string) (*pipeline.Input, error) {
	in, err := ingest.LoadFile(path, ingestOptions(c))
	if err != nil {
		return nil, err
	}
	if notesPath == "" {
		return in, nil
	}
	f, err := os.Open(notesPath)
	if err != nil {
		return nil, eris.Wrapf(err, "open notes %s", notesPath)
	}
	defer f.Close() //nolint:errcheck
	notes, err := ingest.LoadNotes(f)
	if err != nil {
		return nil, err
	}
	in.Notes = append(in.Notes, notes...)
	return in, nil
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch c.Store.Driver {
	case "sqlite":
		if dir := filepath.Dir(c.Store.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, eris.Wrap(err, "create sqlite dir")
			}
		}
		st, err = store.NewSQLite(c.Store.SQLitePath)
	case "postgres":
		st, err = store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

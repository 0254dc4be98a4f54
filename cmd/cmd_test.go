package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/credit-core/internal/config"
	"github.com/sells-group/credit-core/internal/mapping"
	"github.com/sells-group/credit-core/internal/model"
	"github.com/sells-group/credit-core/internal/runner"
	"github.com/sells-group/credit-core/internal/store"
	"github.com/sells-group/credit-core/internal/suggest"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.SQLitePath = filepath.Join(t.TempDir(), "db", "credit.db")
	c.Ingest.YearEndMonth = 6
	c.Ingest.YearEndDay = 30
	c.Ingest.Scale = "units"
	c.Batch.MaxConcurrent = 2
	c.Server.Port = 8080
	return c
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"run", "batch", "verify", "rules", "suggest", "serve", "runs"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "credit-core", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRulesCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rulesCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "promote", "unmapped"} {
		assert.True(t, names[name], "rules should have subcommand %q", name)
	}
}

func TestCommandFlags(t *testing.T) {
	for _, name := range []string{"target", "notes", "out", "snapshot", "save"} {
		assert.NotNil(t, runCmd.Flags().Lookup(name), "run should have --%s", name)
	}
	assert.NotNil(t, batchCmd.Flags().Lookup("concurrency"))
	assert.NotNil(t, verifyCmd.Flags().Lookup("update"))
	assert.NotNil(t, suggestCmd.Flags().Lookup("llm"))

	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}

func TestSplitTargetArg(t *testing.T) {
	target, path := splitTargetArg("acme=data/afs.xlsx")
	assert.Equal(t, "acme", target)
	assert.Equal(t, "data/afs.xlsx", path)

	target, path = splitTargetArg("data/afs.json")
	assert.Empty(t, target)
	assert.Equal(t, "data/afs.json", path)
}

func TestSnapshotPath(t *testing.T) {
	assert.Equal(t, filepath.Join("testdata", "snapshots", "afs-2025.json"), snapshotPath("testdata/snapshots", "afs-2025"))
}

func TestBuildPipeline_Defaults(t *testing.T) {
	c := testConfig(t)
	c.Pipeline.Scope = "company"

	pc, err := pipelineConfig(c)
	require.NoError(t, err)
	assert.Equal(t, model.ScopeCompany, pc.Scope)
	assert.Equal(t, mapping.DefaultVersion, pc.Rules.Version)

	p, err := buildPipeline(c)
	require.NoError(t, err)
	assert.Equal(t, mapping.DefaultVersion, p.Versions().MappingRules)
}

func TestBuildPipeline_BadRulesPath(t *testing.T) {
	c := testConfig(t)
	c.Rules.Path = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := buildPipeline(c)
	assert.Error(t, err)
}

func TestLoadInput(t *testing.T) {
	c := testConfig(t)
	in, err := loadInput(c, "../testdata/extraction.json", "")
	require.NoError(t, err)
	assert.Equal(t, "afs-2025-acme", in.DocumentID)
	assert.NotEmpty(t, in.Observations)
}

func TestInitStore_SQLiteRoundTrip(t *testing.T) {
	c := testConfig(t)
	ctx := context.Background()

	st, err := initStore(ctx, c)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	p, err := buildPipeline(c)
	require.NoError(t, err)
	in, err := loadInput(c, "../testdata/extraction.json", "")
	require.NoError(t, err)

	rep, err := runner.New(p, st).Process(ctx, runner.Job{Target: "acme", Input: *in})
	require.NoError(t, err)

	d, err := loadRunDetail(ctx, st, rep.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, rep.Run.ID, d.Run.ID)
	assert.Len(t, d.Facts, len(rep.Result.Facts))
	require.NotNil(t, d.Rating)

	_, err = loadRunDetail(ctx, st, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInitStore_UnknownDriver(t *testing.T) {
	c := testConfig(t)
	c.Store.Driver = "mysql"
	_, err := initStore(context.Background(), c)
	assert.Error(t, err)
}

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	runs := []model.Run{
		{ID: "abc12345-6789-0000-0000-000000000000", Target: "acme", DocumentID: "afs-2025", Status: model.RunStatusCurrent, Grade: "A-", FactCount: 30, MetricCount: 12, CreatedAt: now},
		{ID: "def12345-6789-0000-0000-000000000000", Target: "acme", DocumentID: "afs-2024", Status: model.RunStatusSuperseded, CreatedAt: now.Add(-time.Hour)},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "TARGET")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "superseded")
	assert.Contains(t, output, "A-")
	assert.Contains(t, output, "2026-03-15 10:30")
}

func TestFormatUnmapped(t *testing.T) {
	queue := []mapping.UnmappedLabel{
		{RawLabel: "Deferred revenue", Count: 2, Sheets: []string{"SFP_GROUP"}},
		{RawLabel: "Sundry", Count: 1, Sheets: []string{"IS_GROUP"}},
	}
	var buf bytes.Buffer
	formatUnmapped(&buf, queue, []string{"revenue (0.50)", ""})

	output := buf.String()
	assert.Contains(t, output, "Deferred revenue")
	assert.Contains(t, output, "revenue (0.50)")
	assert.Contains(t, output, "Sundry")
}

func TestFormatCandidates(t *testing.T) {
	var buf bytes.Buffer
	formatCandidates(&buf, "Bank overdrafts", []suggest.Candidate{
		{CanonicalKey: "short_term_borrowings", Score: 0.5, Source: suggest.SourceRules, Rationale: `token overlap with "bank overdraft"`},
	})
	assert.Contains(t, buf.String(), "short_term_borrowings")
	assert.Contains(t, buf.String(), "0.500")

	buf.Reset()
	formatCandidates(&buf, "Sundry", nil)
	assert.Contains(t, buf.String(), "(no candidates)")
}

func TestFormatBatchReport(t *testing.T) {
	jobs := []runner.Job{{Target: "acme"}, {Target: "globex"}}
	rep := &runner.BatchReport{Reports: make([]*runner.Report, 2), Failed: 1}
	rep.Failures = []runner.Failure{
		{Index: 1, Target: "globex", DocumentID: "afs", Kind: "permanent", Message: "boom"},
	}
	var buf bytes.Buffer
	formatBatchReport(&buf, jobs, rep)
	assert.Contains(t, buf.String(), "FAIL  globex")
	assert.Contains(t, buf.String(), "0 succeeded, 1 failed")
}

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/credit-core/internal/model"
	"github.com/sells-group/credit-core/internal/pipeline"
	"github.com/sells-group/credit-core/internal/store"
)

type fixture struct {
	srv    *Server
	run    *model.Run
	result *pipeline.Result
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	data, err := os.ReadFile("../../testdata/extraction.json")
	require.NoError(t, err)
	var in pipeline.Input
	require.NoError(t, json.Unmarshal(data, &in))

	p, err := pipeline.New(pipeline.DefaultConfig())
	require.NoError(t, err)
	res, err := p.Run(in)
	require.NoError(t, err)

	run, err := st.SaveRun(ctx, store.RunInput{
		Target:     "acme",
		DocumentID: res.DocumentID,
		Versions:   res.Versions,
		Facts:      res.Facts,
		Metrics:    res.Metrics,
		Rating:     res.Rating,
	})
	require.NoError(t, err)

	return fixture{srv: New(st, Config{}), run: run, result: res}
}

func (f fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestListRuns(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/runs?target=acme&status=current", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []model.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, f.run.ID, runs[0].ID)

	rec = f.do(t, http.MethodGet, "/runs?target=nobody", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListRuns_BadParams(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/runs?limit=abc", "/runs?offset=-1", "/runs?status=archived"} {
		rec := f.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestGetRun(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/runs/"+f.run.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var run model.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, f.run.Versions, run.Versions)
	assert.Equal(t, f.run.Grade, run.Grade)

	rec = f.do(t, http.MethodGet, "/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunArtifacts(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/runs/"+f.run.ID+"/facts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var gotFacts []model.NormalizedFact
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &gotFacts))
	assert.Equal(t, f.result.Facts, gotFacts)

	rec = f.do(t, http.MethodGet, "/runs/"+f.run.ID+"/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var gotMetrics []model.MetricFact
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &gotMetrics))
	assert.Len(t, gotMetrics, len(f.result.Metrics))

	rec = f.do(t, http.MethodGet, "/runs/"+f.run.ID+"/rating", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rating model.RatingResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rating))
	assert.Equal(t, f.result.Rating.Grade, rating.Grade)

	for _, suffix := range []string{"/facts", "/metrics", "/rating"} {
		rec = f.do(t, http.MethodGet, "/runs/missing"+suffix, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, suffix)
	}
}

func TestProvenance(t *testing.T) {
	f := newFixture(t)

	body := `{"citations":[{"section":"leverage","metrics":[{"metric_key":"net_debt_to_ebitda","period_end":"2025-06-30"}],"evidence_notes":["21"]}]}`
	rec := f.do(t, http.MethodPost, "/runs/"+f.run.ID+"/provenance", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var bundle model.ProvenanceBundle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bundle))
	assert.Equal(t, f.run.Versions, bundle.Versions)
	require.Len(t, bundle.Sections, 1)
	require.Len(t, bundle.Sections[0].Metrics, 1)
	tm := bundle.Sections[0].Metrics[0]
	assert.Equal(t, "net_debt_to_ebitda", tm.MetricKey)
	assert.NotEmpty(t, tm.Inputs)
}

func TestProvenance_MissingLink(t *testing.T) {
	f := newFixture(t)

	body := `{"citations":[{"section":"outlook","metrics":[{"metric_key":"net_debt_to_ebitda","period_end":"2019-06-30"}]}]}`
	rec := f.do(t, http.MethodPost, "/runs/"+f.run.ID+"/provenance", body)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var got struct {
		Error   string `json:"error"`
		Missing struct {
			Section   string `json:"section"`
			Kind      string `json:"kind"`
			Key       string `json:"key"`
			PeriodEnd string `json:"period_end"`
		} `json:"missing"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "outlook", got.Missing.Section)
	assert.Equal(t, "metric", got.Missing.Kind)
	assert.Equal(t, "net_debt_to_ebitda", got.Missing.Key)
	assert.Equal(t, "2019-06-30", got.Missing.PeriodEnd)
	assert.Contains(t, got.Error, "provenance:")
}

func TestProvenance_BadRequests(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/runs/"+f.run.ID+"/provenance", `{"citations":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/runs/"+f.run.ID+"/provenance", `{"bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := `{"citations":[{"section":"s","metrics":[{"metric_key":"net_gearing","period_end":"2025-06-30"}]}]}`
	rec = f.do(t, http.MethodPost, "/runs/missing/provenance", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORS(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/runs", nil)
	req.Header.Set("Origin", "https://audit.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

package suggest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/credit-core/internal/mapping"
	"github.com/sells-group/credit-core/internal/resilience"
	"github.com/sells-group/credit-core/pkg/anthropic"
)

func testTable() mapping.RuleTable {
	return mapping.RuleTable{
		Version: "rules/test",
		Exact: []mapping.ExactRule{
			{Synonyms: []string{"cash and cash equivalents"}, CanonicalKey: "cash"},
			{Synonyms: []string{"trade receivables"}, CanonicalKey: "trade_receivables"},
			{Synonyms: []string{"trade payables"}, CanonicalKey: "trade_payables"},
			{Synonyms: []string{"inventories"}, CanonicalKey: "inventory"},
		},
	}
}

func TestRuleSuggester(t *testing.T) {
	t.Parallel()
	s := NewRuleSuggester(testTable(), 0)
	ctx := context.Background()

	got, err := s.Suggest(ctx, "Trade debtors")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "trade_payables", got[0].CanonicalKey)
	assert.Equal(t, "trade_receivables", got[1].CanonicalKey)
	assert.Equal(t, 0.333, got[0].Score)
	assert.Equal(t, SourceRules, got[0].Source)

	got, err = s.Suggest(ctx, "Cash at bank")
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "cash", got[0].CanonicalKey)
	assert.Equal(t, 0.333, got[0].Score)
	assert.Equal(t, `token overlap with "cash"`, got[0].Rationale)

	got, err = s.Suggest(ctx, "Inventories - raw materials")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "inventory", got[0].CanonicalKey)

	got, err = s.Suggest(ctx, "   ")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.Suggest(ctx, "Goodwill")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRuleSuggester_Limit(t *testing.T) {
	t.Parallel()
	got, err := NewRuleSuggester(testTable(), 1).Suggest(context.Background(), "trade")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRuleSuggester_DefaultTableDeterministic(t *testing.T) {
	t.Parallel()
	s := NewRuleSuggester(mapping.DefaultRuleTable(), 5)
	a, err := s.Suggest(context.Background(), "Provision for bonus accrual")
	require.NoError(t, err)
	b, err := s.Suggest(context.Background(), "Provision for bonus accrual")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

type fakeClient struct {
	calls   int
	replies []string
	errs    []error
}

func (f *fakeClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	text := f.replies[min(i, len(f.replies)-1)]
	return &anthropic.MessageResponse{
		Model:   req.Model,
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}, nil
}

func fastConfig() LLMConfig {
	return LLMConfig{
		RPS: 1000,
		Retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
		},
	}
}

func TestLLMSuggester(t *testing.T) {
	t.Parallel()
	client := &fakeClient{replies: []string{"```json\n" + `{"candidates":[
		{"canonical_key":"inventory","confidence":0.9,"rationale":"raw materials are inventory"},
		{"canonical_key":"raw_materials","confidence":0.8,"rationale":"not in table"},
		{"canonical_key":"trade_payables","confidence":1.4},
		{"canonical_key":"inventory","confidence":0.1}
	]}` + "\n```"}}

	s := NewLLMSuggester(client, testTable(), fastConfig())
	got, err := s.Suggest(context.Background(), "Inventories - raw materials")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "trade_payables", got[0].CanonicalKey)
	assert.Equal(t, 1.0, got[0].Score)
	assert.Equal(t, "inventory", got[1].CanonicalKey)
	assert.Equal(t, 0.9, got[1].Score)
	assert.Equal(t, SourceLLM, got[1].Source)
	assert.Equal(t, 1, client.calls)
}

func TestLLMSuggester_RetriesTransient(t *testing.T) {
	t.Parallel()
	client := &fakeClient{
		errs:    []error{resilience.NewTransientError(errors.New("overloaded"), 529)},
		replies: []string{`{"candidates":[{"canonical_key":"cash","confidence":0.7}]}`},
	}
	got, err := NewLLMSuggester(client, testTable(), fastConfig()).Suggest(context.Background(), "Bank balances")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cash", got[0].CanonicalKey)
	assert.Equal(t, 2, client.calls)
}

func TestLLMSuggester_Errors(t *testing.T) {
	t.Parallel()

	client := &fakeClient{errs: []error{errors.New("invalid api key")}, replies: []string{""}}
	_, err := NewLLMSuggester(client, testTable(), fastConfig()).Suggest(context.Background(), "Cash")
	require.Error(t, err)
	assert.Equal(t, 1, client.calls)

	client = &fakeClient{replies: []string{"I am not sure."}}
	_, err = NewLLMSuggester(client, testTable(), fastConfig()).Suggest(context.Background(), "Cash")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse model reply")

	got, err := NewLLMSuggester(&fakeClient{}, testTable(), fastConfig()).Suggest(context.Background(), " ")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSystemPrompt(t *testing.T) {
	t.Parallel()
	p := systemPrompt([]string{"cash", "inventory"})
	assert.Contains(t, p, "- cash\n- inventory\n")
	assert.Contains(t, p, `"candidates"`)
}

func TestChain(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	failing := NewLLMSuggester(&fakeClient{errs: []error{errors.New("down")}, replies: []string{""}}, testTable(), fastConfig())
	llm := NewLLMSuggester(&fakeClient{replies: []string{`{"candidates":[{"canonical_key":"trade_receivables","confidence":0.95}]}`}}, testTable(), fastConfig())

	got, err := Chain{NewRuleSuggester(testTable(), 0), llm}.Suggest(ctx, "Trade debtors")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "trade_receivables", got[0].CanonicalKey)
	assert.Equal(t, SourceLLM, got[0].Source)
	assert.Equal(t, "trade_payables", got[1].CanonicalKey)

	got, err = Chain{NewRuleSuggester(testTable(), 0), failing}.Suggest(ctx, "Trade debtors")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = Chain{failing}.Suggest(ctx, "Trade debtors")
	require.Error(t, err)
}

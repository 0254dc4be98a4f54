package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/credit-core/internal/mapping"
	"github.com/sells-group/credit-core/internal/resilience"
	"github.com/sells-group/credit-core/pkg/anthropic"
)

// DefaultModel is used when LLMConfig.Model is empty.
const DefaultModel = "claude-haiku-4-5-20251001"

// LLMConfig configures an LLMSuggester.
type LLMConfig struct {
	Model string
	// RPS caps requests per second. Zero means 1.
	RPS   float64
	Limit int
	Retry resilience.RetryConfig
}

// LLMSuggester asks a language model for candidate keys. Replies naming a
// key outside the rule table are discarded.
type LLMSuggester struct {
	client  anthropic.Client
	model   string
	limit   int
	known   map[string]bool
	system  []anthropic.SystemBlock
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewLLMSuggester builds a suggester over the canonical keys of table.
func NewLLMSuggester(client anthropic.Client, table mapping.RuleTable, cfg LLMConfig) *LLMSuggester {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 1
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger("anthropic", "suggest")
	}

	keys := table.CanonicalKeys()
	known := make(map[string]bool, len(keys))
	for _, k := range keys {
		known[k] = true
	}
	return &LLMSuggester{
		client:  client,
		model:   cfg.Model,
		limit:   cfg.Limit,
		known:   known,
		system:  anthropic.CachedSystem(systemPrompt(keys), "1h"),
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), 1),
		retry:   cfg.Retry,
	}
}

func systemPrompt(keys []string) string {
	var b strings.Builder
	b.WriteString("You map line items from annual financial statements to canonical account keys.\n")
	b.WriteString("Choose only from these keys:\n")
	for _, k := range keys {
		b.WriteString("- ")
		b.WriteString(k)
		b.WriteByte('\n')
	}
	b.WriteString(`Reply with JSON only: {"candidates":[{"canonical_key":"...","confidence":0.0,"rationale":"..."}]}, best first. `)
	b.WriteString(`Reply {"candidates":[]} if no key fits.`)
	return b.String()
}

type llmReply struct {
	Candidates []struct {
		CanonicalKey string  `json:"canonical_key"`
		Confidence   float64 `json:"confidence"`
		Rationale    string  `json:"rationale"`
	} `json:"candidates"`
}

// Suggest implements Suggester.
func (s *LLMSuggester) Suggest(ctx context.Context, rawLabel string) ([]Candidate, error) {
	if strings.TrimSpace(rawLabel) == "" {
		return nil, nil
	}
	temp := 0.0
	req := anthropic.MessageRequest{
		Model:       s.model,
		MaxTokens:   512,
		System:      s.system,
		Messages:    []anthropic.Message{{Role: "user", Content: fmt.Sprintf("Line item: %q", rawLabel)}},
		Temperature: &temp,
	}

	resp, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "suggest: rate limit wait")
		}
		return s.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "suggest: label %q", rawLabel)
	}
	resp.Usage.LogCost(s.model, "suggest")

	var reply llmReply
	if err := json.Unmarshal([]byte(cleanJSON(resp.Text())), &reply); err != nil {
		return nil, eris.Wrap(err, "suggest: parse model reply")
	}

	var out []Candidate
	seen := make(map[string]bool)
	for _, c := range reply.Candidates {
		if !s.known[c.CanonicalKey] {
			zap.L().Debug("suggest: dropping unknown key", zap.String("canonical_key", c.CanonicalKey))
			continue
		}
		if seen[c.CanonicalKey] {
			continue
		}
		seen[c.CanonicalKey] = true
		out = append(out, Candidate{
			CanonicalKey: c.CanonicalKey,
			Score:        min(max(c.Confidence, 0), 1),
			Rationale:    c.Rationale,
			Source:       SourceLLM,
		})
	}
	rank(out)
	if len(out) > s.limit {
		out = out[:s.limit]
	}
	return out, nil
}

// cleanJSON strips markdown fences and surrounding prose from a model reply.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// Chain queries suggesters in order and merges their candidates, keeping the
// best score per key. A failing suggester is logged and skipped unless every
// suggester fails.
type Chain []Suggester

// Suggest implements Suggester.
func (c Chain) Suggest(ctx context.Context, rawLabel string) ([]Candidate, error) {
	best := make(map[string]Candidate)
	var firstErr error
	failed := 0
	for _, s := range c {
		cands, err := s.Suggest(ctx, rawLabel)
		if err != nil {
			zap.L().Warn("suggest: suggester failed", zap.String("raw_label", rawLabel), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			failed++
			continue
		}
		for _, cand := range cands {
			if prev, ok := best[cand.CanonicalKey]; !ok || cand.Score > prev.Score {
				best[cand.CanonicalKey] = cand
			}
		}
	}
	if len(c) > 0 && failed == len(c) {
		return nil, firstErr
	}

	out := make([]Candidate, 0, len(best))
	for _, cand := range best {
		out = append(out, cand)
	}
	rank(out)
	return out, nil
}

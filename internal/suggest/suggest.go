// Package suggest proposes canonical keys for unmapped labels. Suggestions
// are advisory: nothing here feeds the mapping engine until an analyst
// promotes a label with mapping.Promote.
package suggest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/sells-group/credit-core/internal/mapping"
)

// Source identifies which suggester produced a candidate.
type Source string

const (
	SourceRules Source = "rules"
	SourceLLM   Source = "llm"
)

// Candidate is one proposed canonical key for a raw label.
type Candidate struct {
	CanonicalKey string  `json:"canonical_key"`
	Score        float64 `json:"score"`
	Rationale    string  `json:"rationale,omitempty"`
	Source       Source  `json:"source"`
}

// Suggester ranks canonical keys for a raw label, best first.
type Suggester interface {
	Suggest(ctx context.Context, rawLabel string) ([]Candidate, error)
}

// DefaultLimit is the number of candidates returned when none is set.
const DefaultLimit = 3

// RuleSuggester scores canonical keys by token overlap between the label
// and each key's synonyms. It is deterministic and needs no network.
type RuleSuggester struct {
	keys  []string
	vocab map[string][][]string // canonical key → token sets (synonyms and the key itself)
	limit int
}

// NewRuleSuggester indexes the synonyms of table. limit <= 0 uses
// DefaultLimit.
func NewRuleSuggester(table mapping.RuleTable, limit int) *RuleSuggester {
	if limit <= 0 {
		limit = DefaultLimit
	}
	s := &RuleSuggester{keys: table.CanonicalKeys(), vocab: make(map[string][][]string), limit: limit}
	for _, r := range table.Exact {
		for _, syn := range r.Synonyms {
			s.vocab[r.CanonicalKey] = append(s.vocab[r.CanonicalKey], tokens(syn))
		}
	}
	for _, k := range s.keys {
		s.vocab[k] = append(s.vocab[k], tokens(strings.ReplaceAll(k, "_", " ")))
	}
	return s
}

// Suggest implements Suggester.
func (s *RuleSuggester) Suggest(_ context.Context, rawLabel string) ([]Candidate, error) {
	label := tokens(rawLabel)
	if len(label) == 0 {
		return nil, nil
	}

	var out []Candidate
	for _, k := range s.keys {
		best, bestSyn := 0.0, ""
		for _, syn := range s.vocab[k] {
			if score := jaccard(label, syn); score > best {
				best, bestSyn = score, strings.Join(syn, " ")
			}
		}
		if best > 0 {
			out = append(out, Candidate{
				CanonicalKey: k,
				Score:        round3(best),
				Rationale:    fmt.Sprintf("token overlap with %q", bestSyn),
				Source:       SourceRules,
			})
		}
	}
	rank(out)
	if len(out) > s.limit {
		out = out[:s.limit]
	}
	return out, nil
}

// stopwords carry no signal in statement labels.
var stopwords = map[string]bool{"and": true, "of": true, "the": true, "for": true, "to": true, "in": true, "from": true, "on": true}

func tokens(label string) []string {
	norm := mapping.NormalizeLabel(label)
	fields := strings.FieldsFunc(norm, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	inter := 0
	for _, t := range b {
		if set[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func rank(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Score != cs[j].Score {
			return cs[i].Score > cs[j].Score
		}
		return cs[i].CanonicalKey < cs[j].CanonicalKey
	})
}

func round3(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}

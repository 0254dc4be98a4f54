package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/credit-core/internal/resilience"
	"github.com/sells-group/credit-core/internal/suggest"
	"github.com/sells-group/credit-core/pkg/anthropic"
)

var (
	suggestLLM   bool
	suggestLimit int
)

var suggestCmd = &cobra.Command{
	Use:   "suggest <raw-label>...",
	Short: "Propose canonical keys for raw labels",
	Long:  "Ranks canonical keys by token overlap with the rule table. With --llm, candidates from Claude are merged in. Suggestions are advisory; use 'rules promote' to accept one.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		mode := "suggest"
		if suggestLLM {
			mode = "llm"
		}
		if err := cfg.Validate(mode); err != nil {
			return err
		}

		table, err := loadRuleTable(cfg)
		if err != nil {
			return err
		}

		var s suggest.Suggester = suggest.NewRuleSuggester(table, suggestLimit)
		if suggestLLM {
			llm := suggest.NewLLMSuggester(anthropic.NewClient(cfg.Anthropic.Key), table, suggest.LLMConfig{
				Model: cfg.Anthropic.Model,
				RPS:   cfg.Anthropic.RPS,
				Limit: suggestLimit,
				Retry: resilience.FromRetryConfig(cfg.Anthropic.MaxRetries, cfg.Anthropic.InitialBackoffMs, cfg.Anthropic.MaxBackoffMs),
			})
			s = suggest.Chain{s, llm}
		}

		for _, label := range args {
			cands, err := s.Suggest(ctx, label)
			if err != nil {
				return err
			}
			formatCandidates(os.Stdout, label, cands)
		}
		return nil
	},
}

func init() {
	suggestCmd.Flags().BoolVar(&suggestLLM, "llm", false, "also ask Claude (requires CREDIT_ANTHROPIC_KEY)")
	suggestCmd.Flags().IntVar(&suggestLimit, "limit", suggest.DefaultLimit, "max candidates per label")
	rootCmd.AddCommand(suggestCmd)
}

func formatCandidates(out io.Writer, label string, cands []suggest.Candidate) {
	_, _ = fmt.Fprintf(out, "%s\n", label)
	if len(cands) == 0 {
		_, _ = fmt.Fprintln(out, "  (no candidates)")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, c := range cands {
		_, _ = fmt.Fprintf(w, "  %s\t%.3f\t%s\t%s\n", c.CanonicalKey, c.Score, c.Source, c.Rationale)
	}
	_ = w.Flush()
}

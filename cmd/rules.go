package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/credit-core/internal/mapping"
	"github.com/sells-group/credit-core/internal/suggest"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and version the mapping rule table",
}

// -- rules list --

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the active rule table as YAML",
	RunE: func(cmd *cobra.Command, _ []string) error {
		table, err := loadRuleTable(cfg)
		if err != nil {
			return err
		}
		if _, err := mapping.Compile(table); err != nil {
			return err
		}
		return mapping.WriteRuleTable(os.Stdout, table)
	},
}

// -- rules promote --

var rulesPromoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Publish a new rule table version with a label promoted to a canonical key",
	RunE: func(cmd *cobra.Command, _ []string) error {
		label, _ := cmd.Flags().GetString("label")
		key, _ := cmd.Flags().GetString("key")
		version, _ := cmd.Flags().GetString("version")
		outPath, _ := cmd.Flags().GetString("out")

		table, err := loadRuleTable(cfg)
		if err != nil {
			return err
		}
		next, err := mapping.Promote(table, label, key, version)
		if err != nil {
			return err
		}

		out := io.Writer(os.Stdout)
		if outPath != "" {
			if outPath == cfg.Rules.Path {
				return eris.Errorf("rules promote: refusing to overwrite published table %s", outPath)
			}
			f, err := os.Create(outPath)
			if err != nil {
				return eris.Wrapf(err, "rules promote: create %s", outPath)
			}
			defer f.Close() //nolint:errcheck
			out = f
		}
		if err := mapping.WriteRuleTable(out, next); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "promoted %q -> %s in %s\n", label, key, next.Version)
		return nil
	},
}

// -- rules unmapped --

var rulesUnmappedCmd = &cobra.Command{
	Use:   "unmapped <extraction-file>",
	Short: "Show the unmapped label queue for an extraction, with suggestions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		p, err := buildPipeline(cfg)
		if err != nil {
			return err
		}
		in, err := loadInput(cfg, args[0], "")
		if err != nil {
			return err
		}
		batch := p.Mapper().MapObservations(in.Observations)
		queue := mapping.UnmappedQueue(batch.Unmapped)
		if len(queue) == 0 {
			fmt.Fprintln(os.Stderr, "No unmapped labels.")
			return nil
		}

		rs := suggest.NewRuleSuggester(p.Mapper().Table(), 1)
		hints := make([]string, len(queue))
		for i, u := range queue {
			cands, err := rs.Suggest(ctx, u.RawLabel)
			if err != nil {
				return err
			}
			if len(cands) > 0 {
				hints[i] = fmt.Sprintf("%s (%.2f)", cands[0].CanonicalKey, cands[0].Score)
			}
		}
		formatUnmapped(os.Stdout, queue, hints)
		return nil
	},
}

func init() {
	rulesPromoteCmd.Flags().String("label", "", "raw label to promote")
	rulesPromoteCmd.Flags().String("key", "", "canonical key the label maps to")
	rulesPromoteCmd.Flags().String("version", "", "version of the new rule table")
	rulesPromoteCmd.Flags().String("out", "", "write the new table here instead of stdout")
	_ = rulesPromoteCmd.MarkFlagRequired("label")
	_ = rulesPromoteCmd.MarkFlagRequired("key")
	_ = rulesPromoteCmd.MarkFlagRequired("version")

	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesPromoteCmd)
	rulesCmd.AddCommand(rulesUnmappedCmd)
	rootCmd.AddCommand(rulesCmd)
}

// formatUnmapped writes the review queue as a table. hints is parallel to queue.
func formatUnmapped(out io.Writer, queue []mapping.UnmappedLabel, hints []string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "COUNT\tLABEL\tSHEETS\tSUGGESTION")
	for i, u := range queue {
		hint := "-"
		if i < len(hints) && hints[i] != "" {
			hint = hints[i]
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%v\t%s\n", u.Count, u.RawLabel, u.Sheets, hint)
	}
	_ = w.Flush()
}

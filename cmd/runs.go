package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/credit-core/internal/model"
	"github.com/sells-group/credit-core/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored evaluation runs",
	Long:  "Commands for listing and viewing stored runs and their facts, metrics and ratings.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List evaluation runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		target, _ := cmd.Flags().GetString("target")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.RunStatus(status),
			Target: target,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

// runDetail is the full stored record of one run.
type runDetail struct {
	Run     *model.Run             `json:"run"`
	Facts   []model.NormalizedFact `json:"facts"`
	Metrics []model.MetricFact     `json:"metrics"`
	Rating  *model.RatingResult    `json:"rating,omitempty"`
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run with its facts, metrics and rating",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		d, err := loadRunDetail(ctx, st, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	},
}

func loadRunDetail(ctx context.Context, st store.Store, runID string) (*runDetail, error) {
	run, err := st.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	d := &runDetail{Run: run}
	if d.Facts, err = st.ListFacts(ctx, runID); err != nil {
		return nil, err
	}
	if d.Metrics, err = st.ListMetrics(ctx, runID); err != nil {
		return nil, err
	}
	d.Rating, err = st.GetRating(ctx, runID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return d, nil
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (current, superseded)")
	runsListCmd.Flags().String("target", "", "filter by review target")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTARGET\tDOCUMENT\tSTATUS\tGRADE\tFACTS\tMETRICS\tCREATED")
	for _, r := range runs {
		id := r.ID
		if len(id) > 8 {
			id = id[:8]
		}
		grade := r.Grade
		if grade == "" {
			grade = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			id, r.Target, r.DocumentID, r.Status, grade, r.FactCount, r.MetricCount,
			r.CreatedAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}

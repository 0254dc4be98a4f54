package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/credit-core/internal/pipeline"
	"github.com/sells-group/credit-core/internal/runner"
	"github.com/sells-group/credit-core/internal/snapshot"
	"github.com/sells-group/credit-core/internal/store"
)

var (
	runTarget   string
	runNotes    string
	runOut      string
	runSnapshot string
	runSave     bool
)

var runCmd = &cobra.Command{
	Use:   "run <extraction-file>",
	Short: "Evaluate one extraction file",
	Long:  "Maps, coalesces, computes metrics and rates one extraction (.json, .csv or .xlsx). The full result is written as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		p, err := buildPipeline(cfg)
		if err != nil {
			return err
		}
		in, err := loadInput(cfg, args[0], runNotes)
		if err != nil {
			return err
		}

		var st store.Store
		if runSave {
			if runTarget == "" {
				return eris.New("run: --target is required with --save")
			}
			if st, err = initStore(ctx, cfg); err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
		}

		target := runTarget
		if target == "" {
			target = in.DocumentID
		}
		rep, provErr := runner.New(p, st).Process(ctx, runner.Job{Target: target, Input: *in})
		if rep == nil {
			return provErr
		}
		if rep.Run != nil {
			zap.L().Info("run saved", zap.String("run_id", rep.Run.ID), zap.String("target", rep.Run.Target))
		}

		if runSnapshot != "" {
			if err := snapshot.Write(runSnapshot, snapshot.Capture(rep.Result)); err != nil {
				return err
			}
		}

		out := io.Writer(os.Stdout)
		if runOut != "" {
			f, err := os.Create(runOut)
			if err != nil {
				return eris.Wrapf(err, "run: create %s", runOut)
			}
			defer f.Close() //nolint:errcheck
			out = f
		}
		if err := writeResult(out, rep.Result); err != nil {
			return err
		}
		printRunSummary(os.Stderr, rep.Result)
		return provErr
	},
}

func init() {
	runCmd.Flags().StringVar(&runTarget, "target", "", "review target the run belongs to (default: document id)")
	runCmd.Flags().StringVar(&runNotes, "notes", "", "notes JSON file for qualitative drivers")
	runCmd.Flags().StringVar(&runOut, "out", "", "write the result JSON here instead of stdout")
	runCmd.Flags().StringVar(&runSnapshot, "snapshot", "", "also write a regression snapshot to this path")
	runCmd.Flags().BoolVar(&runSave, "save", false, "persist the run to the configured store")
	rootCmd.AddCommand(runCmd)
}

func writeResult(w io.Writer, res *pipeline.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(res), "run: encode result")
}

// printRunSummary writes a short human-readable summary of res to w.
func printRunSummary(w io.Writer, res *pipeline.Result) {
	grade := "-"
	if res.Rating != nil {
		grade = fmt.Sprintf("%s (score %.2f, period %s)", res.Rating.Grade, res.Rating.CompositeScore, res.Rating.PeriodEnd)
	}
	_, _ = fmt.Fprintf(w, "document %s  scope %s  facts %d  metrics %d  skipped %d  unmapped %d  rejected %d  grade %s\n",
		res.DocumentID, res.Scope, len(res.Facts), len(res.Metrics), len(res.Skipped),
		len(res.Unmapped), len(res.RecordErrors), grade)
}

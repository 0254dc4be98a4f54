package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/credit-core/internal/runner"
)

var batchConcurrency int

var batchCmd = &cobra.Command{
	Use:   "batch <[target=]file>...",
	Short: "Evaluate and store many extraction files",
	Long:  "Each argument is an extraction file, optionally prefixed with its review target as target=path. Without a prefix the document id is the target.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("batch"); err != nil {
			return err
		}
		p, err := buildPipeline(cfg)
		if err != nil {
			return err
		}

		jobs := make([]runner.Job, 0, len(args))
		for _, arg := range args {
			target, path := splitTargetArg(arg)
			in, err := loadInput(cfg, path, "")
			if err != nil {
				return err
			}
			if target == "" {
				target = in.DocumentID
			}
			jobs = append(jobs, runner.Job{Target: target, Input: *in})
		}

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		concurrency := batchConcurrency
		if concurrency == 0 {
			concurrency = cfg.Batch.MaxConcurrent
		}
		rep, err := runner.New(p, st).ProcessBatch(ctx, jobs, concurrency)
		if err != nil {
			return err
		}

		formatBatchReport(os.Stdout, jobs, rep)
		if rep.Failed > 0 {
			return eris.Errorf("batch: %d of %d jobs failed", rep.Failed, len(jobs))
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "max jobs in flight (default from config)")
	rootCmd.AddCommand(batchCmd)
}

// splitTargetArg splits "target=path". A bare path has no target.
func splitTargetArg(arg string) (target, path string) {
	if i := strings.Index(arg, "="); i > 0 {
		return arg[:i], arg[i+1:]
	}
	return "", arg
}

func formatBatchReport(out io.Writer, jobs []runner.Job, rep *runner.BatchReport) {
	for i, r := range rep.Reports {
		if r == nil || r.Run == nil {
			continue
		}
		_, _ = fmt.Fprintf(out, "ok    %s  %s  run %s  grade %s\n", jobs[i].Target, r.Result.DocumentID, r.Run.ID, r.Run.Grade)
	}
	for _, f := range rep.Failures {
		_, _ = fmt.Fprintf(out, "FAIL  %s  %s  %s: %s\n", f.Target, f.DocumentID, f.Kind, f.Message)
	}
	_, _ = fmt.Fprintf(out, "%d succeeded, %d failed\n", rep.Succeeded, rep.Failed)
}

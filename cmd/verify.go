package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/credit-core/internal/snapshot"
)

var verifyUpdate bool

var verifyCmd = &cobra.Command{
	Use:   "verify <extraction-file> [snapshot-file]",
	Short: "Check outputs against a stored regression snapshot",
	Long:  "Re-runs an extraction and compares facts, metrics and rating with the stored snapshot. Any difference is printed and the command exits non-zero.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("verify"); err != nil {
			return err
		}
		p, err := buildPipeline(cfg)
		if err != nil {
			return err
		}
		in, err := loadInput(cfg, args[0], "")
		if err != nil {
			return err
		}
		res, err := p.Run(*in)
		if res == nil {
			return err
		}
		if err != nil {
			zap.L().Warn("verify: provenance bundle broken, snapshot still compared", zap.Error(err))
		}
		actual := snapshot.Capture(res)

		path := snapshotPath(cfg.Snapshot.Dir, in.DocumentID)
		if len(args) == 2 {
			path = args[1]
		}

		if verifyUpdate {
			if err := snapshot.Write(path, actual); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "snapshot written to %s\n", path)
			return nil
		}

		err = snapshot.VerifyFile(path, actual)
		var mismatch *snapshot.MismatchError
		if errors.As(err, &mismatch) {
			fmt.Fprintln(os.Stdout, mismatch.Diff)
			return err
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "%s matches %s\n", in.DocumentID, path)
		return nil
	},
}

func init() {
	verifyCmd.Flags().BoolVar(&verifyUpdate, "update", false, "overwrite the snapshot with the current outputs")
	rootCmd.AddCommand(verifyCmd)
}

func snapshotPath(dir, documentID string) string {
	return filepath.Join(dir, documentID+".json")
}

// Package snapshot captures pipeline outputs to disk and verifies later runs
// against them.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rotisserie/eris"

	"github.com/sells-group/credit-core/internal/model"
	"github.com/sells-group/credit-core/internal/pipeline"
)

// Snapshot is the regression-relevant subset of a pipeline result.
type Snapshot struct {
	DocumentID string                 `json:"document_id"`
	Versions   model.Versions         `json:"versions"`
	Facts      []model.NormalizedFact `json:"facts"`
	Metrics    []model.MetricFact     `json:"metrics"`
	Rating     *model.RatingResult    `json:"rating,omitempty"`
}

// Capture extracts the snapshot from a result.
func Capture(res *pipeline.Result) Snapshot {
	return Snapshot{
		DocumentID: res.DocumentID,
		Versions:   res.Versions,
		Facts:      res.Facts,
		Metrics:    res.Metrics,
		Rating:     res.Rating,
	}
}

// Write stores the snapshot as indented JSON, creating parent directories.
func Write(path string, s Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return eris.Wrap(err, "snapshot: marshal")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "snapshot: create dir for %s", path)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return eris.Wrapf(err, "snapshot: write %s", path)
	}
	return nil
}

// Read loads a snapshot written by Write.
func Read(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, eris.Wrapf(err, "snapshot: read %s", path)
	}
	var s Snapshot
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Snapshot{}, eris.Wrapf(err, "snapshot: decode %s", path)
	}
	return s, nil
}

// MismatchError is returned by Verify when outputs differ from the stored
// snapshot. Diff is human readable: "-" lines are expected, "+" lines actual.
type MismatchError struct {
	DocumentID string
	Diff       string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("snapshot: %s does not match stored snapshot:\n%s", e.DocumentID, e.Diff)
}

var compareOpts = []cmp.Option{
	cmpopts.EquateEmpty(),
	cmp.Comparer(func(a, b model.Date) bool { return a.Compare(b) == 0 }),
}

// Compare returns a diff between expected and actual, or "" when equal.
func Compare(expected, actual Snapshot) string {
	return cmp.Diff(expected, actual, compareOpts...)
}

// Verify compares actual against expected and returns a *MismatchError on
// any difference.
func Verify(expected, actual Snapshot) error {
	if diff := Compare(expected, actual); diff != "" {
		return &MismatchError{DocumentID: actual.DocumentID, Diff: diff}
	}
	return nil
}

// VerifyFile reads the snapshot at path and verifies actual against it.
func VerifyFile(path string, actual Snapshot) error {
	expected, err := Read(path)
	if err != nil {
		return err
	}
	return Verify(expected, actual)
}

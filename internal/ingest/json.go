package ingest

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/credit-core/internal/model"
	"github.com/sells-group/credit-core/internal/pipeline"
)

// Options configures LoadFile.
type Options struct {
	Workbook WorkbookOptions
	// Scale multiplies CSV amounts. Workbooks use Workbook.Scale and JSON
	// inputs are expected to be scale-adjusted already.
	Scale float64
}

// LoadJSON decodes a pipeline input document.
func LoadJSON(r io.Reader) (*pipeline.Input, error) {
	var in pipeline.Input
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		return nil, eris.Wrap(err, "ingest: decode input json")
	}
	return &in, nil
}

// LoadNotes decodes a JSON array of notes-classification records.
func LoadNotes(r io.Reader) ([]model.Note, error) {
	var notes []model.Note
	if err := json.NewDecoder(r).Decode(&notes); err != nil {
		return nil, eris.Wrap(err, "ingest: decode notes json")
	}
	return notes, nil
}

// LoadFile loads a pipeline input from a .json, .csv or .xlsx file. For CSV
// and workbook sources the document ID is the file name without extension
// and rows rejected while loading are carried in Input.Rejected.
func LoadFile(path string, opts Options) (*pipeline.Input, error) {
	ext := strings.ToLower(filepath.Ext(path))
	docID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	switch ext {
	case ".json":
		f, err := os.Open(path) //nolint:gosec // path comes from the operator
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		in, err := LoadJSON(f)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: load %s", path)
		}
		if in.DocumentID == "" {
			in.DocumentID = docID
		}
		return in, nil

	case ".csv":
		f, err := os.Open(path) //nolint:gosec // path comes from the operator
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		x, err := LoadCSV(f, opts.Scale)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: load %s", path)
		}
		return x.Input(docID), nil

	case ".xlsx":
		x, err := LoadWorkbook(path, opts.Workbook)
		if err != nil {
			return nil, err
		}
		return x.Input(docID), nil

	default:
		return nil, eris.Errorf("ingest: unsupported input type %q", ext)
	}
}

// Input wraps the extraction as a pipeline input.
func (x *Extraction) Input(documentID string) *pipeline.Input {
	return &pipeline.Input{
		DocumentID:   documentID,
		Observations: x.Observations,
		Rejected:     x.Errors,
	}
}

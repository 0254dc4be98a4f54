package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/credit-core/internal/model"
)

var csvRequired = []string{"raw_label", "value", "source_sheet", "line_no", "entity_scope", "period_end"}

// LoadCSV reads observations from a CSV file with a header row naming the
// observation fields (raw_label, value, source_sheet, line_no, page,
// entity_scope, period_end). Column order is free. Rows that cannot be
// parsed are reported as record errors.
func LoadCSV(r io.Reader, scale float64) (*Extraction, error) {
	if scale == 0 {
		scale = 1
	}
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return &Extraction{}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read csv header")
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range csvRequired {
		if _, ok := cols[name]; !ok {
			return nil, eris.Errorf("ingest: csv header missing column %q", name)
		}
	}
	get := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	ext := &Extraction{}
	for index := 0; ; index++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: read csv row %d", index+1)
		}

		o := model.RawObservation{
			RawLabel:    get(rec, "raw_label"),
			SourceSheet: get(rec, "source_sheet"),
			EntityScope: model.EntityScope(strings.ToUpper(get(rec, "entity_scope"))),
		}
		var problems []string

		v, ok, verr := ParseAmount(get(rec, "value"))
		switch {
		case verr != nil:
			problems = append(problems, verr.Error())
		case !ok:
			problems = append(problems, "value is required")
		default:
			o.Value = v * scale
		}
		if o.LineNo, err = strconv.Atoi(get(rec, "line_no")); err != nil {
			problems = append(problems, fmt.Sprintf("line_no %q is not an integer", get(rec, "line_no")))
		}
		if s := get(rec, "page"); s != "" {
			if o.Page, err = strconv.Atoi(s); err != nil {
				problems = append(problems, fmt.Sprintf("page %q is not an integer", s))
			}
		}
		if o.PeriodEnd, err = model.ParseDate(get(rec, "period_end")); err != nil {
			problems = append(problems, fmt.Sprintf("period_end %q is not a date", get(rec, "period_end")))
		}

		if len(problems) > 0 {
			ext.Errors = append(ext.Errors, model.NewRecordError(index, o, problems))
			continue
		}
		ext.Observations = append(ext.Observations, o)
	}
	return ext, nil
}

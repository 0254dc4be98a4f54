package ingest

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/credit-core/internal/model"
)

// WorkbookOptions configures LoadWorkbook.
type WorkbookOptions struct {
	YearEndMonth time.Month // default June
	YearEndDay   int        // default 30
	Scale        float64    // multiplier applied to every amount, default 1
	SkipSheets   []string   // default ["Summary"]
}

func (o WorkbookOptions) withDefaults() WorkbookOptions {
	if o.YearEndMonth == 0 {
		o.YearEndMonth = time.June
	}
	if o.YearEndDay == 0 {
		o.YearEndDay = 30
	}
	if o.Scale == 0 {
		o.Scale = 1
	}
	if o.SkipSheets == nil {
		o.SkipSheets = []string{"Summary"}
	}
	return o
}

// Extraction is the output of a loader: observations in source order and the
// rows that could not be turned into observations.
type Extraction struct {
	Observations []model.RawObservation
	Errors       []model.RecordError
}

var yearColumnRe = regexp.MustCompile(`^\s*(\d{4})\b`)

// ScopeForSheet infers the entity scope from a sheet name suffix. Sheets
// without a _COMPANY suffix are consolidated group statements.
func ScopeForSheet(sheet string) model.EntityScope {
	if strings.HasSuffix(strings.ToUpper(strings.TrimSpace(sheet)), "_COMPANY") {
		return model.ScopeCompany
	}
	return model.ScopeGroup
}

type sheetLayout struct {
	page, lineNo, label int
	years               []yearColumn
}

type yearColumn struct {
	index  int
	period model.Date
}

// LoadWorkbook reads an extraction workbook. Each sheet has a header row
// with page, line_no and raw_label columns followed by one column per fiscal
// year, e.g. "2025 (Rm)". Every non-blank amount becomes one observation.
func LoadWorkbook(path string, opts WorkbookOptions) (*Extraction, error) {
	opts = opts.withDefaults()

	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open workbook %s", path)
	}

	ext := &Extraction{}
	for _, sheet := range f.Sheets {
		if slices.Contains(opts.SkipSheets, sheet.Name) {
			continue
		}
		if err := loadSheet(sheet, opts, ext); err != nil {
			return nil, err
		}
	}

	zap.L().Info("ingest: workbook loaded",
		zap.String("path", path),
		zap.Int("sheets", len(f.Sheets)),
		zap.Int("observations", len(ext.Observations)),
		zap.Int("rejected", len(ext.Errors)),
	)
	return ext, nil
}

func loadSheet(sheet *xlsx.Sheet, opts WorkbookOptions, ext *Extraction) error {
	if len(sheet.Rows) == 0 {
		return nil
	}
	layout, err := parseHeader(rowToStrings(sheet.Rows[0]), opts)
	if err != nil {
		return eris.Wrapf(err, "ingest: sheet %q", sheet.Name)
	}
	scope := ScopeForSheet(sheet.Name)

	for i, row := range sheet.Rows[1:] {
		cells := rowToStrings(row)
		label := strings.TrimSpace(cell(cells, layout.label))
		if label == "" {
			continue
		}

		reject := func(reason string) {
			ext.Errors = append(ext.Errors, model.RecordError{
				Index:       len(ext.Observations) + len(ext.Errors),
				SourceSheet: sheet.Name,
				LineNo:      i + 2,
				RawLabel:    label,
				Reason:      reason,
			})
		}

		lineNo := i + 1
		if layout.lineNo >= 0 {
			if s := strings.TrimSpace(cell(cells, layout.lineNo)); s != "" {
				n, err := parseInt(s)
				if err != nil {
					reject(fmt.Sprintf("line_no %q is not an integer", s))
					continue
				}
				lineNo = n
			}
		}
		page := 0
		if layout.page >= 0 {
			if s := strings.TrimSpace(cell(cells, layout.page)); s != "" {
				n, err := parseInt(s)
				if err != nil {
					reject(fmt.Sprintf("page %q is not an integer", s))
					continue
				}
				page = n
			}
		}

		for _, yc := range layout.years {
			v, ok, err := ParseAmount(cell(cells, yc.index))
			if err != nil {
				reject(err.Error())
				continue
			}
			if !ok {
				continue
			}
			ext.Observations = append(ext.Observations, model.RawObservation{
				RawLabel:    label,
				Value:       v * opts.Scale,
				SourceSheet: sheet.Name,
				LineNo:      lineNo,
				Page:        page,
				EntityScope: scope,
				PeriodEnd:   yc.period,
			})
		}
	}
	return nil
}

func parseHeader(header []string, opts WorkbookOptions) (sheetLayout, error) {
	layout := sheetLayout{page: -1, lineNo: -1, label: -1}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		switch name {
		case "page":
			layout.page = i
		case "line_no", "line":
			layout.lineNo = i
		case "raw_label", "label", "line item":
			layout.label = i
		default:
			m := yearColumnRe.FindStringSubmatch(name)
			if m == nil {
				continue
			}
			year, _ := strconv.Atoi(m[1])
			layout.years = append(layout.years, yearColumn{
				index:  i,
				period: model.NewDate(year, opts.YearEndMonth, opts.YearEndDay),
			})
		}
	}
	if layout.label < 0 {
		return layout, eris.New("ingest: header has no raw_label column")
	}
	if len(layout.years) == 0 {
		return layout, eris.New("ingest: header has no year columns")
	}
	return layout, nil
}

func parseInt(s string) (int, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	// Numeric cells may be rendered as floats, e.g. "12.0".
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, eris.Errorf("ingest: %q is not an integer", s)
	}
	return int(f), nil
}

func cell(cells []string, i int) string {
	if i < 0 || i >= len(cells) {
		return ""
	}
	return cells[i]
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, c := range row.Cells {
		cells[j] = c.String()
	}
	return cells
}

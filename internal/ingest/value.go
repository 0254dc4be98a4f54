// Package ingest loads extraction output (xlsx workbooks, CSV and JSON) into
// pipeline inputs.
package ingest

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var scaleFactors = map[string]float64{
	"units":    1,
	"thousand": 1e3,
	"million":  1e6,
	"billion":  1e9,
}

// ScaleFactor maps a scale literal such as "million" to its multiplier.
// Unknown or empty literals scale by 1.
func ScaleFactor(literal string) float64 {
	if f, ok := scaleFactors[strings.ToLower(strings.TrimSpace(literal))]; ok {
		return f
	}
	return 1
}

var numericRe = regexp.MustCompile(`^[0-9]*\.?[0-9]+$`)

// ParseAmount parses an amount as printed in a statement: parentheses or a
// leading minus for negatives, space or comma thousands separators. Blank
// cells and dashes are absent values and report ok=false with no error.
func ParseAmount(raw string) (value float64, ok bool, err error) {
	s := strings.TrimSpace(norm.NFKC.String(raw))
	switch s {
	case "", "-", "–", "—":
		return 0, false, nil
	}

	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	s = strings.NewReplacer(" ", "", ",", "").Replace(s)
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	if !numericRe.MatchString(s) {
		return 0, false, &AmountError{Raw: raw}
	}
	v, perr := strconv.ParseFloat(s, 64)
	if perr != nil {
		return 0, false, &AmountError{Raw: raw}
	}
	if neg {
		v = -v
	}
	return v, true, nil
}

// AmountError reports a cell that is neither blank nor a number.
type AmountError struct {
	Raw string
}

func (e *AmountError) Error() string {
	return "ingest: unparseable amount " + strconv.Quote(e.Raw)
}

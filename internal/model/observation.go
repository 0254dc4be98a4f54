// Package model defines the canonical data types shared by every stage of the
// credit transformation core.
package model

import (
	"fmt"
	"math"
	"strings"
)

// EntityScope identifies whether a fact belongs to the consolidated group or
// the standalone company.
type EntityScope string

const (
	ScopeGroup   EntityScope = "GROUP"
	ScopeCompany EntityScope = "COMPANY"
)

// Valid reports whether s is a known scope.
func (s EntityScope) Valid() bool {
	return s == ScopeGroup || s == ScopeCompany
}

// ParseEntityScope accepts GROUP/COMPANY in any case.
func ParseEntityScope(s string) (EntityScope, bool) {
	scope := EntityScope(strings.ToUpper(strings.TrimSpace(s)))
	return scope, scope.Valid()
}

// MappingMethod records which mapping pass resolved a raw label.
type MappingMethod string

const (
	MethodRule     MappingMethod = "RULE"
	MethodRegex    MappingMethod = "REGEX"
	MethodUnmapped MappingMethod = "UNMAPPED"
)

// Fixed confidences per mapping method.
const (
	ConfidenceRule     = 0.95
	ConfidenceRegex    = 0.85
	ConfidenceUnmapped = 0.0
)

// Confidence returns the fixed confidence for the method.
func (m MappingMethod) Confidence() float64 {
	switch m {
	case MethodRule:
		return ConfidenceRule
	case MethodRegex:
		return ConfidenceRegex
	default:
		return ConfidenceUnmapped
	}
}

// RawObservation is one extracted line item, already scale-adjusted.
type RawObservation struct {
	RawLabel    string      `json:"raw_label"`
	Value       float64     `json:"value"`
	SourceSheet string      `json:"source_sheet"`
	LineNo      int         `json:"line_no"`
	Page        int         `json:"page"`
	EntityScope EntityScope `json:"entity_scope"`
	PeriodEnd   Date        `json:"period_end"`
}

// Validate returns the input-shape problems with the observation, or nil.
func (o RawObservation) Validate() []string {
	var problems []string
	if strings.TrimSpace(o.RawLabel) == "" {
		problems = append(problems, "raw_label is required")
	}
	if math.IsNaN(o.Value) || math.IsInf(o.Value, 0) {
		problems = append(problems, "value must be finite")
	}
	if strings.TrimSpace(o.SourceSheet) == "" {
		problems = append(problems, "source_sheet is required")
	}
	if o.LineNo < 1 {
		problems = append(problems, "line_no must be >= 1")
	}
	if o.Page < 0 {
		problems = append(problems, "page must be >= 0")
	}
	if !o.EntityScope.Valid() {
		problems = append(problems, fmt.Sprintf("entity_scope %q must be GROUP or COMPANY", o.EntityScope))
	}
	if o.PeriodEnd.IsZero() {
		problems = append(problems, "period_end is required")
	}
	return problems
}

// CellRef is the synthetic extraction cell reference for the observation.
func (o RawObservation) CellRef() string {
	return fmt.Sprintf("%s!R%d@%s", o.SourceSheet, o.LineNo, o.PeriodEnd)
}

// RecordError identifies a rejected input record. Rejection of one record
// never aborts the batch.
type RecordError struct {
	Index       int    `json:"index"`
	SourceSheet string `json:"source_sheet,omitempty"`
	LineNo      int    `json:"line_no,omitempty"`
	RawLabel    string `json:"raw_label,omitempty"`
	Reason      string `json:"reason"`
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %d (%s line %d %q): %s", e.Index, e.SourceSheet, e.LineNo, e.RawLabel, e.Reason)
}

// NewRecordError builds a RecordError for the observation at index.
func NewRecordError(index int, o RawObservation, problems []string) RecordError {
	return RecordError{
		Index:       index,
		SourceSheet: o.SourceSheet,
		LineNo:      o.LineNo,
		RawLabel:    o.RawLabel,
		Reason:      strings.Join(problems, "; "),
	}
}

// Note is a structured notes-classification record.
type Note struct {
	NoteNumber string `json:"note_number"`
	Title      string `json:"title"`
	NoteType   string `json:"note_type"`
}

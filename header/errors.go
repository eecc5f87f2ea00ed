package header

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrDateTimeDisabled is returned by DateTime when the model has no date row.
	ErrDateTimeDisabled = errors.New("header: date/time extraction disabled")
	// ErrSensorIDDisabled is returned by SensorID when the model has no sensor id row.
	ErrSensorIDDisabled = errors.New("header: sensor id extraction disabled")
	// ErrUnsetRow is returned when a field is requested with an absent row index.
	ErrUnsetRow = errors.New("header: row index is unset")
	// ErrNoMatch is returned when a configured regex finds nothing in its field.
	ErrNoMatch = errors.New("header: pattern did not match")
)

// RowOutOfRangeError reports a row beyond the scanned header.
type RowOutOfRangeError struct {
	Row   int // 1-based
	Lines int
}

func (e *RowOutOfRangeError) Error() string {
	return fmt.Sprintf("header row %d out of range: file has %d header lines", e.Row, e.Lines)
}

// ColumnOutOfRangeError reports a column beyond the fields of its line.
type ColumnOutOfRangeError struct {
	Row    int // 1-based
	Column int // 1-based
	Fields int
}

func (e *ColumnOutOfRangeError) Error() string {
	return fmt.Sprintf("header column %d out of range: row %d has %d fields", e.Column, e.Row, e.Fields)
}

// AmbiguousDateTimeError is returned when a date or time token resolves to zero
// or to more than one distinct value. A configured pattern that matches
// nothing is reported as zero candidates with Err set to ErrNoMatch.
type AmbiguousDateTimeError struct {
	Field      string // "date" or "time"
	Token      string
	Candidates []time.Time
	Err        error
}

func (e *AmbiguousDateTimeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot interpret %s %q: %v", e.Field, e.Token, e.Err)
	}
	if len(e.Candidates) == 0 {
		return fmt.Sprintf("cannot interpret %s %q", e.Field, e.Token)
	}
	layout := time.DateOnly
	if e.Field == "time" {
		layout = "15:04:05.999999999"
	}
	parts := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		parts[i] = c.Format(layout)
	}
	return fmt.Sprintf("ambiguous %s %q: candidates %s", e.Field, e.Token, strings.Join(parts, ", "))
}

func (e *AmbiguousDateTimeError) Unwrap() error { return e.Err }

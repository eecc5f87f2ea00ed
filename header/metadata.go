package header

import (
	"errors"
	"fmt"
	"time"

	"github.com/lucasjlepore/sensor-labeler/config"
)

// Metadata is what a file header tells us about its recording.
type Metadata struct {
	Date     string
	Time     string
	SensorID string
	Columns  []string
	// BaseTime is the naive recording start. It is zero when the model
	// disables date extraction.
	BaseTime time.Time
	Location *time.Location
}

// HasBaseTime reports whether the header supplied a recording start.
func (m *Metadata) HasBaseTime() bool { return !m.BaseTime.IsZero() }

// AttachTimezone reinterprets the wall clock of BaseTime in the named IANA
// zone.
func (m *Metadata) AttachTimezone(name string) error {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fmt.Errorf("attach timezone %q: %w", name, err)
	}
	m.Location = loc
	if m.HasBaseTime() {
		b := m.BaseTime
		m.BaseTime = time.Date(b.Year(), b.Month(), b.Day(), b.Hour(), b.Minute(), b.Second(), b.Nanosecond(), loc)
	}
	return nil
}

// Parse reads the header of path and extracts every field the model
// configures.
func Parse(path string, model *config.SensorModel) (*Metadata, error) {
	h, err := Open(path, model.CommentMarker, model.HeaderScanLines())
	if err != nil {
		return nil, err
	}
	return h.Metadata(model)
}

// Metadata extracts every field the model configures.
func (h *Header) Metadata(model *config.SensorModel) (*Metadata, error) {
	md := &Metadata{}

	cols, err := h.ColumnNames(model.HeaderRow)
	if err != nil {
		return nil, fmt.Errorf("column names: %w", err)
	}
	md.Columns = cols

	id, err := h.SensorID(model)
	switch {
	case errors.Is(err, ErrSensorIDDisabled):
	case err != nil:
		return nil, err
	default:
		md.SensorID = id
	}

	if model.DateRow.IsSet() {
		if md.Date, err = h.Field(model.DateRow, model.DateCol); err != nil {
			return nil, fmt.Errorf("date: %w", err)
		}
	}
	if model.TimeRow.IsSet() {
		if md.Time, err = h.Field(model.TimeRow, model.TimeCol); err != nil {
			return nil, fmt.Errorf("time: %w", err)
		}
	}

	base, err := h.DateTime(model)
	switch {
	case errors.Is(err, ErrDateTimeDisabled):
	case err != nil:
		return nil, err
	default:
		md.BaseTime = base
	}
	return md, nil
}

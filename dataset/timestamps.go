package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/lucasjlepore/sensor-labeler/config"
)

// AddTimestampColumn derives absolute timestamps by adding the relative
// offsets in source, interpreted in unit, to the header base time.
func (d *Dataset) AddTimestampColumn(source, unit string) error {
	c, ok := d.Channel(source)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownColumn, source)
	}
	step, err := config.UnitDuration(unit)
	if err != nil {
		return err
	}
	if !d.Metadata.HasBaseTime() {
		return fmt.Errorf("%w: column %q needs a header base time", ErrNoTimestampSource, source)
	}
	base := d.Metadata.BaseTime
	ts := make([]time.Time, d.n)
	for i, v := range c.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("column %q row %d: missing time offset", source, i+1)
		}
		ts[i] = base.Add(time.Duration(math.Round(v * float64(step))))
	}
	d.timestamps = ts
	return nil
}

// AddAbsoluteDatetimeColumn derives timestamps from the first timestamp column
// in the model, or failing that from the first relative time column plus the
// header base time. It is a no-op when timestamps are already present.
func (d *Dataset) AddAbsoluteDatetimeColumn() error {
	if d.timestamps != nil {
		return nil
	}
	if d.Model == nil {
		return ErrNoTimestampSource
	}
	for _, spec := range d.Model.ColumnsOfType(config.DataTypeTimestamp) {
		cells, ok := d.text[spec.Name]
		if !ok {
			continue
		}
		ts, err := parseTimestamps(cells, spec.Unit, d.location())
		if err != nil {
			return fmt.Errorf("timestamp column %q: %w", spec.Name, err)
		}
		d.timestamps = ts
		return nil
	}
	for _, spec := range d.Model.ColumnsOfType(config.DataTypeRelativeTime) {
		if _, ok := d.Channel(spec.Name); !ok {
			continue
		}
		if !d.Metadata.HasBaseTime() {
			break
		}
		return d.AddTimestampColumn(spec.Name, spec.Unit)
	}
	return ErrNoTimestampSource
}

func (d *Dataset) location() *time.Location {
	if d.Metadata != nil && d.Metadata.Location != nil {
		return d.Metadata.Location
	}
	return time.UTC
}

func parseTimestamps(cells []string, format string, loc *time.Location) ([]time.Time, error) {
	out := make([]time.Time, len(cells))
	for i, cell := range cells {
		t, err := parseTimestamp(strings.TrimSpace(cell), format, loc)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		out[i] = t
	}
	return out, nil
}

func parseTimestamp(cell, format string, loc *time.Location) (time.Time, error) {
	switch strings.ToLower(format) {
	case "rfc3339":
		return time.Parse(time.RFC3339Nano, cell)
	case "unix_s", "unix_ms":
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return time.Time{}, err
		}
		scale := float64(time.Second)
		if strings.EqualFold(format, "unix_ms") {
			scale = float64(time.Millisecond)
		}
		return time.Unix(0, int64(math.Round(v*scale))).In(loc), nil
	default:
		return time.ParseInLocation(format, cell, loc)
	}
}

// Package dataset holds a parsed sensor recording in memory: numeric
// channels, verbatim text columns, absolute timestamps and labels.
//
// A Dataset is mutated in place by AddDerivedColumn, AddTimestampColumn,
// AddAbsoluteDatetimeColumn, AddLabels and FilterBetweenDates. It is not safe
// for concurrent mutation.
package dataset

import (
	"errors"
	"fmt"
	"time"

	"github.com/lucasjlepore/sensor-labeler/config"
	"github.com/lucasjlepore/sensor-labeler/expr"
	"github.com/lucasjlepore/sensor-labeler/header"
)

var (
	// ErrNoTimestampSource means neither a timestamp column nor a relative
	// time column with a header base time is available.
	ErrNoTimestampSource = errors.New("dataset: no timestamp source")
	// ErrNoTimestamps is returned by operations that need absolute timestamps
	// before they have been derived.
	ErrNoTimestamps = errors.New("dataset: absolute timestamps not derived")
	// ErrDuplicateColumn is returned when a column name is already taken.
	ErrDuplicateColumn = errors.New("dataset: duplicate column")
	// ErrUnknownColumn is returned when a named column does not exist.
	ErrUnknownColumn = errors.New("dataset: unknown column")
)

// Channel is one numeric column. Expr is the conversion or derivation formula
// that produced Values, if any.
type Channel struct {
	Name   string
	Values []float64
	Expr   *expr.Expression
}

// Dataset is an in-memory sensor recording.
type Dataset struct {
	Metadata *header.Metadata
	Model    *config.SensorModel

	n        int
	channels []*Channel
	byName   map[string]int

	textNames []string
	text      map[string][]string

	timestamps []time.Time
	labels     []string
}

// New returns an empty dataset. md may be nil.
func New(md *header.Metadata, model *config.SensorModel) *Dataset {
	if md == nil {
		md = &header.Metadata{}
	}
	return &Dataset{
		Metadata: md,
		Model:    model,
		byName:   make(map[string]int),
		text:     make(map[string][]string),
	}
}

// Len returns the number of rows.
func (d *Dataset) Len() int { return d.n }

// ChannelNames returns the numeric channel names in column order.
func (d *Dataset) ChannelNames() []string {
	names := make([]string, len(d.channels))
	for i, c := range d.channels {
		names[i] = c.Name
	}
	return names
}

// Channel returns the named numeric channel.
func (d *Dataset) Channel(name string) (*Channel, bool) {
	i, ok := d.byName[name]
	if !ok {
		return nil, false
	}
	return d.channels[i], true
}

// TextNames returns the text column names in column order.
func (d *Dataset) TextNames() []string { return append([]string(nil), d.textNames...) }

// Text returns the named text column.
func (d *Dataset) Text(name string) ([]string, bool) {
	v, ok := d.text[name]
	return v, ok
}

// Timestamps returns the absolute timestamps, or nil before they are derived.
func (d *Dataset) Timestamps() []time.Time { return d.timestamps }

// HasTimestamps reports whether absolute timestamps have been derived.
func (d *Dataset) HasTimestamps() bool { return d.timestamps != nil }

// Labels returns the label column, or nil before AddLabels.
func (d *Dataset) Labels() []string { return d.labels }

// HasLabels reports whether AddLabels has run.
func (d *Dataset) HasLabels() bool { return d.labels != nil }

func (d *Dataset) hasColumn(name string) bool {
	if _, ok := d.byName[name]; ok {
		return true
	}
	_, ok := d.text[name]
	return ok
}

func (d *Dataset) checkLen(name string, n int) error {
	if d.n == 0 && len(d.channels) == 0 && len(d.textNames) == 0 && d.timestamps == nil {
		d.n = n
		return nil
	}
	if n != d.n {
		return fmt.Errorf("column %q has %d rows, dataset has %d", name, n, d.n)
	}
	return nil
}

// AddChannel appends a numeric channel. The first column added fixes the row
// count.
func (d *Dataset) AddChannel(name string, values []float64) error {
	if d.hasColumn(name) {
		return fmt.Errorf("%w: %q", ErrDuplicateColumn, name)
	}
	if err := d.checkLen(name, len(values)); err != nil {
		return err
	}
	d.byName[name] = len(d.channels)
	d.channels = append(d.channels, &Channel{Name: name, Values: values})
	return nil
}

// AddTextColumn appends a column kept verbatim.
func (d *Dataset) AddTextColumn(name string, values []string) error {
	if d.hasColumn(name) {
		return fmt.Errorf("%w: %q", ErrDuplicateColumn, name)
	}
	if err := d.checkLen(name, len(values)); err != nil {
		return err
	}
	d.textNames = append(d.textNames, name)
	d.text[name] = values
	return nil
}

// SetTimestamps installs absolute timestamps directly.
func (d *Dataset) SetTimestamps(ts []time.Time) error {
	if err := d.checkLen("timestamp", len(ts)); err != nil {
		return err
	}
	d.timestamps = ts
	return nil
}

// AddDerivedColumn compiles formula, evaluates it for every row and appends the
// result as channel name.
func (d *Dataset) AddDerivedColumn(name, formula string) error {
	if d.hasColumn(name) {
		return fmt.Errorf("%w: %q", ErrDuplicateColumn, name)
	}
	e, err := expr.Compile(formula)
	if err != nil {
		return fmt.Errorf("derived column %q: %w", name, err)
	}
	values, err := e.EvalColumns(d.columnMap(), d.n)
	if err != nil {
		return fmt.Errorf("derived column %q: %w", name, err)
	}
	if err := d.AddChannel(name, values); err != nil {
		return err
	}
	d.channels[d.byName[name]].Expr = e
	return nil
}

func (d *Dataset) columnMap() map[string][]float64 {
	m := make(map[string][]float64, len(d.channels))
	for _, c := range d.channels {
		m[c.Name] = c.Values
	}
	return m
}

// Slice returns rows [i, j) as a new dataset sharing storage with d. Callers
// must not mutate the result.
func (d *Dataset) Slice(i, j int) *Dataset {
	out := New(d.Metadata, d.Model)
	out.n = j - i
	for _, c := range d.channels {
		out.byName[c.Name] = len(out.channels)
		out.channels = append(out.channels, &Channel{Name: c.Name, Values: c.Values[i:j:j], Expr: c.Expr})
	}
	for _, name := range d.textNames {
		out.textNames = append(out.textNames, name)
		out.text[name] = d.text[name][i:j:j]
	}
	if d.timestamps != nil {
		out.timestamps = d.timestamps[i:j:j]
	}
	if d.labels != nil {
		out.labels = d.labels[i:j:j]
	}
	return out
}

// keep restricts every column to the given row indices.
func (d *Dataset) keep(rows []int) {
	for _, c := range d.channels {
		c.Values = pickFloats(c.Values, rows)
	}
	for _, name := range d.textNames {
		src := d.text[name]
		out := make([]string, len(rows))
		for k, r := range rows {
			out[k] = src[r]
		}
		d.text[name] = out
	}
	if d.timestamps != nil {
		out := make([]time.Time, len(rows))
		for k, r := range rows {
			out[k] = d.timestamps[r]
		}
		d.timestamps = out
	}
	if d.labels != nil {
		out := make([]string, len(rows))
		for k, r := range rows {
			out[k] = d.labels[r]
		}
		d.labels = out
	}
	d.n = len(rows)
}

func pickFloats(src []float64, rows []int) []float64 {
	out := make([]float64, len(rows))
	for k, r := range rows {
		out[k] = src[r]
	}
	return out
}

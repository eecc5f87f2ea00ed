// Package window splits a labeled dataset into label-homogeneous runs and
// computes overlapping 2-second statistical features per numeric channel.
package window

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lucasjlepore/sensor-labeler/config"
	"github.com/lucasjlepore/sensor-labeler/dataset"
)

var (
	// ErrMissingLabels is returned when windowing runs before AddLabels.
	ErrMissingLabels = errors.New("window: dataset has no labels")
	// ErrMissingTimestamps is returned when windowing runs before absolute
	// timestamps exist.
	ErrMissingTimestamps = errors.New("window: dataset has no absolute timestamps")
)

// Row is one emitted window.
type Row struct {
	Timestamp time.Time
	Label     string
	Features  []float64
}

// Table is the windowed feature table. Features[i] of every row belongs to
// Columns[i].
type Table struct {
	Columns []string
	Rows    []Row
}

// Column returns the position of a feature column.
func (t *Table) Column(name string) (int, bool) {
	for i, c := range t.Columns {
		if c == name {
			return i, true
		}
	}
	return 0, false
}

// ColumnName is the feature column for one channel and statistic.
func ColumnName(channel string, st Statistic) string {
	return channel + "_" + string(st)
}

// ColumnNames lists feature columns channel-major, in the order Features fills
// them.
func ColumnNames(channels []string, stats []Statistic) []string {
	out := make([]string, 0, len(channels)*len(stats))
	for _, ch := range channels {
		for _, st := range stats {
			out = append(out, ColumnName(ch, st))
		}
	}
	return out
}

// SplitByLabel cuts ds at every label change. The runs share storage with ds
// and are returned in row order.
func SplitByLabel(ds *dataset.Dataset) ([]*dataset.Dataset, error) {
	if !ds.HasLabels() {
		return nil, ErrMissingLabels
	}
	if !ds.HasTimestamps() {
		return nil, ErrMissingTimestamps
	}
	labels := ds.Labels()
	var runs []*dataset.Dataset
	start := 0
	for i := 1; i <= len(labels); i++ {
		if i == len(labels) || labels[i] != labels[start] {
			runs = append(runs, ds.Slice(start, i))
			start = i
		}
	}
	return runs, nil
}

// DetectSamplingRate returns the row offset of the sample nearest to one
// second after the first one. Estimates of 1 or less become 1.
func DetectSamplingRate(ds *dataset.Dataset) int {
	ts := ds.Timestamps()
	if len(ts) < 2 {
		return 1
	}
	target := ts[0].Add(time.Second)
	i := sort.Search(len(ts), func(i int) bool { return !ts[i].Before(target) })
	best := i
	if i == len(ts) || (i > 0 && target.Sub(ts[i-1]) <= ts[i].Sub(target)) {
		best = i - 1
	}
	if best <= 1 {
		return 1
	}
	return best
}

// Features computes the windows of one label-homogeneous run. Each window
// spans 2*rps rows and one is emitted every rps rows, starting once the first
// full window is available.
func Features(sub *dataset.Dataset, channels []string, stats []Statistic) ([]Row, error) {
	p, err := newPlan(sub, channels, stats)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(p.ends))
	for _, end := range p.ends {
		rows = append(rows, p.emit(end))
	}
	return rows, nil
}

// Compute windows every label run of ds and returns the rows sorted by
// timestamp. Empty channels selects every numeric channel except relative time
// columns; empty stats selects DefaultStatistics.
func Compute(ds *dataset.Dataset, channels []string, stats []Statistic) (*Table, error) {
	return ComputeContext(context.Background(), ds, channels, stats, nil)
}

// Progress receives the number of emitted windows so far and the total.
type Progress func(done, total int)

// chunks is the number of slices the work is cut into for progress reports
// and cancellation checks.
const chunks = 100

// ComputeContext is Compute with cooperative cancellation and progress
// reporting. ctx is checked between chunks of roughly one hundredth of the
// windows; chunking has no effect on the result.
func ComputeContext(ctx context.Context, ds *dataset.Dataset, channels []string, stats []Statistic, progress Progress) (*Table, error) {
	runs, err := SplitByLabel(ds)
	if err != nil {
		return nil, err
	}
	channels = defaultChannels(ds, channels)
	if len(stats) == 0 {
		stats = DefaultStatistics
	}

	plans := make([]*plan, 0, len(runs))
	total := 0
	for _, run := range runs {
		p, err := newPlan(run, channels, stats)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
		total += len(p.ends)
	}

	step := (total + chunks - 1) / chunks
	if step < 1 {
		step = 1
	}
	table := &Table{Columns: ColumnNames(channels, stats), Rows: make([]Row, 0, total)}
	for _, p := range plans {
		for _, end := range p.ends {
			table.Rows = append(table.Rows, p.emit(end))
			if done := len(table.Rows); done%step == 0 || done == total {
				if err := ctx.Err(); err != nil {
					return nil, fmt.Errorf("compute windows: %w", err)
				}
				if progress != nil {
					progress(done, total)
				}
			}
		}
	}

	sort.SliceStable(table.Rows, func(i, j int) bool {
		return table.Rows[i].Timestamp.Before(table.Rows[j].Timestamp)
	})
	return table, nil
}

func defaultChannels(ds *dataset.Dataset, channels []string) []string {
	if len(channels) > 0 {
		return channels
	}
	var out []string
	for _, name := range ds.ChannelNames() {
		if ds.Model != nil {
			if spec, ok := ds.Model.Column(name); ok && spec.DataType == config.DataTypeRelativeTime {
				continue
			}
		}
		out = append(out, name)
	}
	return out
}

// plan holds what is needed to emit the windows of one run.
type plan struct {
	sub      *dataset.Dataset
	label    string
	stats    []Statistic
	values   [][]float64
	width    int
	ends     []int
	nFeature int
	scratch  []float64
}

func newPlan(sub *dataset.Dataset, channels []string, stats []Statistic) (*plan, error) {
	if !sub.HasLabels() {
		return nil, ErrMissingLabels
	}
	if !sub.HasTimestamps() {
		return nil, ErrMissingTimestamps
	}
	channels = defaultChannels(sub, channels)
	if len(stats) == 0 {
		stats = DefaultStatistics
	}
	for _, st := range stats {
		if _, ok := aggregates[st]; !ok {
			return nil, fmt.Errorf("unknown statistic %q", st)
		}
	}

	p := &plan{sub: sub, stats: stats, nFeature: len(channels) * len(stats)}
	for _, name := range channels {
		c, ok := sub.Channel(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", dataset.ErrUnknownColumn, name)
		}
		p.values = append(p.values, c.Values)
	}
	if sub.Len() > 0 {
		p.label = sub.Labels()[0]
	}

	rps := DetectSamplingRate(sub)
	p.width = 2 * rps
	p.scratch = make([]float64, 0, p.width)
	for end := p.width - 1; end < sub.Len(); end += rps {
		p.ends = append(p.ends, end)
	}
	return p, nil
}

// emit builds the window ending at row end, inclusive.
func (p *plan) emit(end int) Row {
	row := Row{
		Timestamp: p.sub.Timestamps()[end],
		Label:     p.label,
		Features:  make([]float64, p.nFeature),
	}
	start := end - p.width + 1
	for ci, values := range p.values {
		out := row.Features[ci*len(p.stats) : (ci+1)*len(p.stats)]
		summarize(values[start:end+1], p.scratch, p.stats, out)
	}
	return row
}

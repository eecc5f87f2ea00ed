package sensornotes

import (
	"math"
	"sort"
	"time"

	"github.com/lucasjlepore/sensor-labeler/classify"
	"github.com/lucasjlepore/sensor-labeler/dataset"
	"github.com/lucasjlepore/sensor-labeler/window"
)

// UnlabeledName is how the unlabeled run is shown in summaries.
const UnlabeledName = "(unlabeled)"

// Analysis is a compact description of one labeling run.
type Analysis struct {
	SensorID         string          `json:"sensor_id,omitempty"`
	Model            string          `json:"model"`
	Rows             int             `json:"rows"`
	StartTime        time.Time       `json:"start_time"`
	EndTime          time.Time       `json:"end_time"`
	ElapsedSeconds   float64         `json:"elapsed_seconds"`
	RowsPerSecond    int             `json:"rows_per_second"`
	Channels         []string        `json:"channels"`
	Labels           []LabelCount    `json:"labels,omitempty"`
	Windows          int             `json:"windows"`
	LabeledWindows   int             `json:"labeled_windows"`
	UnlabeledWindows int             `json:"unlabeled_windows"`
	MissingWindows   int             `json:"missing_value_windows"`
	Predictions      []LabelCount    `json:"predictions,omitempty"`
	Spans            []classify.Span `json:"spans,omitempty"`
	Notes            string          `json:"notes"`
}

// LabelCount counts rows and windows carrying one label.
type LabelCount struct {
	Label   string `json:"label"`
	Rows    int    `json:"rows"`
	Windows int    `json:"windows"`
}

// Analyze summarises a run. table, preds and spans may be nil when the run
// stopped before those stages.
func Analyze(ds *dataset.Dataset, table *window.Table, preds []classify.Prediction, spans []classify.Span) *Analysis {
	a := &Analysis{
		Rows:     ds.Len(),
		Channels: ds.ChannelNames(),
		Spans:    spans,
	}
	if ds.Metadata != nil {
		a.SensorID = ds.Metadata.SensorID
	}
	if ds.Model != nil {
		a.Model = ds.Model.Name
	}
	if ts := ds.Timestamps(); len(ts) > 0 {
		a.StartTime = ts[0]
		a.EndTime = ts[len(ts)-1]
		a.ElapsedSeconds = a.EndTime.Sub(a.StartTime).Seconds()
		a.RowsPerSecond = window.DetectSamplingRate(ds)
	}

	counts := map[string]*LabelCount{}
	count := func(label string) *LabelCount {
		c, ok := counts[label]
		if !ok {
			c = &LabelCount{Label: label}
			counts[label] = c
		}
		return c
	}
	for _, label := range ds.Labels() {
		count(label).Rows++
	}
	if table != nil {
		a.Windows = len(table.Rows)
		for _, row := range table.Rows {
			count(row.Label).Windows++
			if row.Label == dataset.Unlabeled {
				a.UnlabeledWindows++
			} else {
				a.LabeledWindows++
			}
			if hasNaN(row.Features) {
				a.MissingWindows++
			}
		}
	}
	a.Labels = sortedCounts(counts)

	predicted := map[string]*LabelCount{}
	for _, p := range preds {
		if p.Missing() {
			continue
		}
		c, ok := predicted[p.Label]
		if !ok {
			c = &LabelCount{Label: p.Label}
			predicted[p.Label] = c
		}
		c.Windows++
	}
	a.Predictions = sortedCounts(predicted)

	a.Notes = BuildRunNotes(a)
	return a
}

func sortedCounts(m map[string]*LabelCount) []LabelCount {
	if len(m) == 0 {
		return nil
	}
	out := make([]LabelCount, 0, len(m))
	for _, c := range m {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

func hasNaN(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

package classify

import (
	"sort"
	"time"
)

// Merge defaults.
const (
	DefaultThreshold = 0.9
	DefaultMinRun    = 2
)

// Span is a run of consecutive same-label predictions.
type Span struct {
	Begin              time.Time `json:"begin"`
	End                time.Time `json:"end"`
	Label              string    `json:"label"`
	AverageProbability float64   `json:"average_probability"`
}

// MergePredictions groups maximal runs of consecutive predictions with the
// same label, in time order, and keeps runs whose mean probability is at
// least threshold and whose length is at least minRun. A Missing prediction
// ends the current run and never starts one.
func MergePredictions(preds []Prediction, threshold float64, minRun int) []Span {
	ordered := append([]Prediction(nil), preds...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	var spans []Span
	start := 0
	sum := 0.0
	for i, p := range ordered {
		if p.Missing() {
			if i > start {
				spans = flush(spans, ordered[start:i], sum, threshold, minRun)
			}
			start, sum = i+1, 0
			continue
		}
		if i > start && p.Label != ordered[start].Label {
			spans = flush(spans, ordered[start:i], sum, threshold, minRun)
			start, sum = i, 0
		}
		sum += p.Probability
	}
	if start < len(ordered) {
		spans = flush(spans, ordered[start:], sum, threshold, minRun)
	}
	return spans
}

func flush(spans []Span, run []Prediction, sum, threshold float64, minRun int) []Span {
	mean := sum / float64(len(run))
	if len(run) < minRun || mean < threshold {
		return spans
	}
	return append(spans, Span{
		Begin:              run[0].Timestamp,
		End:                run[len(run)-1].Timestamp,
		Label:              run[0].Label,
		AverageProbability: mean,
	})
}

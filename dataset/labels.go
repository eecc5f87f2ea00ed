package dataset

import (
	"errors"
	"fmt"
	"time"
)

// Unlabeled marks rows no span covers. Spans may not use it as an activity.
const Unlabeled = ""

// LabelSpan is an annotation over [Start, End) in sensor time.
type LabelSpan struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Activity string    `json:"activity"`
}

// Contains reports whether t falls in [Start, End).
func (s LabelSpan) Contains(t time.Time) bool {
	return !t.Before(s.Start) && t.Before(s.End)
}

func validateSpans(spans []LabelSpan) error {
	var errs []error
	for i, s := range spans {
		if s.Activity == Unlabeled {
			errs = append(errs, fmt.Errorf("span %d: empty activity", i))
		}
		if s.End.Before(s.Start) {
			errs = append(errs, fmt.Errorf("span %d (%s): end %s before start %s", i, s.Activity, s.End.Format(time.RFC3339Nano), s.Start.Format(time.RFC3339Nano)))
		}
	}
	return errors.Join(errs...)
}

// AddLabels sets every row's label to the activity of the first span that
// contains its timestamp, or Unlabeled. The label column is rebuilt from
// scratch on every call.
func (d *Dataset) AddLabels(spans []LabelSpan) error {
	if d.timestamps == nil {
		return ErrNoTimestamps
	}
	if err := validateSpans(spans); err != nil {
		return fmt.Errorf("add labels: %w", err)
	}
	labels := make([]string, d.n)
	for i, t := range d.timestamps {
		for _, s := range spans {
			if s.Contains(t) {
				labels[i] = s.Activity
				break
			}
		}
	}
	d.labels = labels
	return nil
}

// FilterBetweenDates keeps only rows with a timestamp in [start, end).
func (d *Dataset) FilterBetweenDates(start, end time.Time) error {
	if d.timestamps == nil {
		return ErrNoTimestamps
	}
	if end.Before(start) {
		return fmt.Errorf("filter: end %s before start %s", end.Format(time.RFC3339Nano), start.Format(time.RFC3339Nano))
	}
	span := LabelSpan{Start: start, End: end}
	rows := make([]int, 0, d.n)
	for i, t := range d.timestamps {
		if span.Contains(t) {
			rows = append(rows, i)
		}
	}
	d.keep(rows)
	return nil
}

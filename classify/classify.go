// Package classify trains a probabilistic model on labeled feature windows,
// predicts the unlabeled ones and merges confident runs of predictions into
// candidate annotation spans.
package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"gonum.org/v1/gonum/mat"

	"github.com/lucasjlepore/sensor-labeler/window"
)

var (
	// ErrMissingPrerequisite is returned when the model, table or feature
	// list is unset.
	ErrMissingPrerequisite = errors.New("classify: missing prerequisite")
	// ErrNoTrainingData is returned when no labeled rows are usable.
	ErrNoTrainingData = errors.New("classify: no labeled rows to train on")
)

// Prediction is the most likely label of one unlabeled window. A window with
// a missing feature keeps the sentinel label and a NaN probability.
type Prediction struct {
	Timestamp   time.Time `json:"timestamp"`
	Label       string    `json:"label"`
	Probability float64   `json:"probability"`
}

// Missing reports whether p stands for a window that could not be classified.
func (p Prediction) Missing() bool { return math.IsNaN(p.Probability) }

// MarshalJSON writes a NaN probability as null.
func (p Prediction) MarshalJSON() ([]byte, error) {
	type plain Prediction
	out := struct {
		plain
		Probability *float64 `json:"probability"`
	}{plain: plain(p)}
	if !p.Missing() {
		out.Probability = &p.Probability
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a null probability back as NaN.
func (p *Prediction) UnmarshalJSON(data []byte) error {
	type plain Prediction
	var in struct {
		plain
		Probability *float64 `json:"probability"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*p = Prediction(in.plain)
	p.Probability = math.NaN()
	if in.Probability != nil {
		p.Probability = *in.Probability
	}
	return nil
}

// Classifier trains Model on rows of Table whose label differs from Sentinel
// and predicts the rest.
type Classifier struct {
	Model    Model
	Table    *window.Table
	Features []string
	Sentinel string
	Logger   *slog.Logger
}

func (c *Classifier) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// TrainAndPredict fits the model on labeled rows and returns one prediction per
// sentinel row, in table order. Rows with a NaN feature are left out of
// training, and sentinel rows among them yield a Missing prediction.
func (c *Classifier) TrainAndPredict() ([]Prediction, error) {
	switch {
	case c.Model == nil:
		return nil, fmt.Errorf("%w: model", ErrMissingPrerequisite)
	case c.Table == nil:
		return nil, fmt.Errorf("%w: feature table", ErrMissingPrerequisite)
	case len(c.Features) == 0:
		return nil, fmt.Errorf("%w: feature list", ErrMissingPrerequisite)
	}

	cols := make([]int, len(c.Features))
	for i, name := range c.Features {
		j, ok := c.Table.Column(name)
		if !ok {
			return nil, fmt.Errorf("classify: unknown feature column %q", name)
		}
		cols[i] = j
	}

	var train, test, order []int
	skipped := 0
	for i, row := range c.Table.Rows {
		ok := finite(row.Features, cols)
		if !ok {
			skipped++
		}
		switch {
		case row.Label == c.Sentinel:
			order = append(order, i)
			if ok {
				test = append(test, i)
			}
		case ok:
			train = append(train, i)
		}
	}
	log := c.logger()
	if skipped > 0 {
		log.Warn("skipped windows with missing values", "count", humanize.Comma(int64(skipped)))
	}
	if len(train) == 0 {
		return nil, ErrNoTrainingData
	}

	labels := make([]string, len(train))
	for n, i := range train {
		labels[n] = c.Table.Rows[i].Label
	}
	if err := c.Model.Fit(c.matrix(train, cols), labels); err != nil {
		return nil, fmt.Errorf("fit model: %w", err)
	}
	log.Info("trained classifier",
		"train_windows", humanize.Comma(int64(len(train))),
		"predict_windows", humanize.Comma(int64(len(test))),
		"features", len(cols))
	if len(order) == 0 {
		return nil, nil
	}

	var (
		classes []string
		proba   *mat.Dense
	)
	if len(test) > 0 {
		var err error
		classes, proba, err = c.Model.PredictProba(c.matrix(test, cols))
		if err != nil {
			return nil, fmt.Errorf("predict: %w", err)
		}
	}
	preds := make([]Prediction, 0, len(order))
	n := 0
	for _, i := range order {
		row := c.Table.Rows[i]
		if n == len(test) || test[n] != i {
			preds = append(preds, Prediction{Timestamp: row.Timestamp, Label: c.Sentinel, Probability: math.NaN()})
			continue
		}
		best := 0
		for k := 1; k < len(classes); k++ {
			if proba.At(n, k) > proba.At(n, best) {
				best = k
			}
		}
		preds = append(preds, Prediction{
			Timestamp:   row.Timestamp,
			Label:       classes[best],
			Probability: proba.At(n, best),
		})
		n++
	}
	return preds, nil
}

func (c *Classifier) matrix(rows, cols []int) *mat.Dense {
	x := mat.NewDense(len(rows), len(cols), nil)
	for n, i := range rows {
		features := c.Table.Rows[i].Features
		for k, j := range cols {
			x.Set(n, k, features[j])
		}
	}
	return x
}

func finite(features []float64, cols []int) bool {
	for _, j := range cols {
		if math.IsNaN(features[j]) || math.IsInf(features[j], 0) {
			return false
		}
	}
	return true
}

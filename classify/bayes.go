package classify

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Model is a multi-class probabilistic classifier.
type Model interface {
	// Fit trains on the rows of x with labels y.
	Fit(x *mat.Dense, y []string) error
	// PredictProba returns the class names and one row of class
	// probabilities per row of x, columns in class order.
	PredictProba(x *mat.Dense) ([]string, *mat.Dense, error)
}

// DefaultVarSmoothing is the share of the largest feature variance added to
// every class variance.
const DefaultVarSmoothing = 1e-9

// GaussianNB is Gaussian naive Bayes with per-class feature means and
// variances.
type GaussianNB struct {
	VarSmoothing float64

	classes  []string
	logPrior []float64
	means    *mat.Dense
	vars     *mat.Dense
}

// NewGaussianNB returns an untrained model with default smoothing.
func NewGaussianNB() *GaussianNB {
	return &GaussianNB{VarSmoothing: DefaultVarSmoothing}
}

// Classes returns the trained class names in sorted order.
func (m *GaussianNB) Classes() []string { return append([]string(nil), m.classes...) }

// Fit implements Model.
func (m *GaussianNB) Fit(x *mat.Dense, y []string) error {
	rows, cols := x.Dims()
	if rows == 0 {
		return errors.New("gaussian nb: no training rows")
	}
	if rows != len(y) {
		return fmt.Errorf("gaussian nb: %d rows but %d labels", rows, len(y))
	}

	byClass := make(map[string][]int)
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	m.classes = m.classes[:0]
	for label := range byClass {
		m.classes = append(m.classes, label)
	}
	sort.Strings(m.classes)

	epsilon := 0.0
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, x)
		if _, v := stat.PopMeanVariance(col, nil); v > epsilon {
			epsilon = v
		}
	}
	epsilon *= m.VarSmoothing

	k := len(m.classes)
	m.means = mat.NewDense(k, cols, nil)
	m.vars = mat.NewDense(k, cols, nil)
	m.logPrior = make([]float64, k)
	for c, label := range m.classes {
		idx := byClass[label]
		m.logPrior[c] = math.Log(float64(len(idx)) / float64(rows))
		values := make([]float64, len(idx))
		for j := 0; j < cols; j++ {
			for n, i := range idx {
				values[n] = x.At(i, j)
			}
			mean, variance := stat.PopMeanVariance(values, nil)
			m.means.Set(c, j, mean)
			m.vars.Set(c, j, variance+epsilon)
		}
	}
	return nil
}

// PredictProba implements Model.
func (m *GaussianNB) PredictProba(x *mat.Dense) ([]string, *mat.Dense, error) {
	if m.means == nil {
		return nil, nil, errors.New("gaussian nb: model is not trained")
	}
	rows, cols := x.Dims()
	if _, want := m.means.Dims(); cols != want {
		return nil, nil, fmt.Errorf("gaussian nb: %d features, model has %d", cols, want)
	}

	k := len(m.classes)
	proba := mat.NewDense(rows, k, nil)
	jll := make([]float64, k)
	for i := 0; i < rows; i++ {
		for c := 0; c < k; c++ {
			ll := m.logPrior[c]
			for j := 0; j < cols; j++ {
				v := m.vars.At(c, j)
				d := x.At(i, j) - m.means.At(c, j)
				ll -= 0.5 * (math.Log(2*math.Pi*v) + d*d/v)
			}
			jll[c] = ll
		}
		norm := floats.LogSumExp(jll)
		for c := 0; c < k; c++ {
			proba.Set(i, c, math.Exp(jll[c]-norm))
		}
	}
	return m.Classes(), proba, nil
}

package classify

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/lucasjlepore/sensor-labeler/window"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }

func TestMergePredictions(t *testing.T) {
	t.Parallel()

	preds := []Prediction{
		{Timestamp: at(1), Label: "A", Probability: .95},
		{Timestamp: at(2), Label: "A", Probability: .95},
		{Timestamp: at(3), Label: "A", Probability: .92},
		{Timestamp: at(4), Label: "B", Probability: .99},
		{Timestamp: at(5), Label: "B", Probability: .99},
	}
	got := MergePredictions(preds, 0.9, 2)
	want := []Span{
		{Begin: at(1), End: at(3), Label: "A", AverageProbability: 0.94},
		{Begin: at(4), End: at(5), Label: "B", AverageProbability: 0.99},
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Fatalf("spans mismatch (-want +got):\n%s", diff)
	}
}

func TestMergePredictionsFilters(t *testing.T) {
	t.Parallel()

	preds := []Prediction{
		{Timestamp: at(6), Label: "C", Probability: .99},
		{Timestamp: at(1), Label: "A", Probability: .80},
		{Timestamp: at(2), Label: "A", Probability: .85},
		{Timestamp: at(3), Label: "B", Probability: .99},
		{Timestamp: at(4), Label: "A", Probability: .99},
		{Timestamp: at(5), Label: "A", Probability: .97},
	}

	// A(1,2) is not confident, B(3) and C(6) are too short.
	got := MergePredictions(preds, DefaultThreshold, DefaultMinRun)
	require.Len(t, got, 1)
	assert.Equal(t, at(4), got[0].Begin)
	assert.Equal(t, at(5), got[0].End)
	assert.Equal(t, "A", got[0].Label)

	assert.Len(t, MergePredictions(preds, 0, 1), 4)
	assert.Empty(t, MergePredictions(nil, 0.9, 2))
}

// clusters builds a one-feature table with walk windows near 0, run windows
// near 10 and unlabeled windows at the given values.
func clusters(unlabeled ...float64) *window.Table {
	table := &window.Table{Columns: []string{"acc_mean", "acc_std"}}
	sec := 0
	add := func(label string, v float64) {
		table.Rows = append(table.Rows, window.Row{Timestamp: at(sec), Label: label, Features: []float64{v, 1}})
		sec++
	}
	for _, v := range []float64{-0.2, 0, 0.1, 0.3, -0.1} {
		add("walk", v)
	}
	for _, v := range []float64{9.8, 10, 10.3, 9.9, 10.1} {
		add("run", v)
	}
	for _, v := range unlabeled {
		add("", v)
	}
	return table
}

func TestTrainAndPredict(t *testing.T) {
	t.Parallel()

	c := &Classifier{
		Model:    NewGaussianNB(),
		Table:    clusters(0.05, 9.95, math.NaN(), 10.2),
		Features: []string{"acc_mean"},
	}
	preds, err := c.TrainAndPredict()
	require.NoError(t, err)
	require.Len(t, preds, 4)

	assert.Equal(t, []string{"walk", "run", "", "run"}, []string{preds[0].Label, preds[1].Label, preds[2].Label, preds[3].Label})
	for i, p := range preds {
		assert.Equal(t, at(10+i), p.Timestamp)
	}
	assert.True(t, preds[2].Missing())
	for _, i := range []int{0, 1, 3} {
		assert.False(t, preds[i].Missing())
		assert.Greater(t, preds[i].Probability, 0.99)
	}

	// The missing window splits the two run predictions.
	assert.Empty(t, MergePredictions(preds, DefaultThreshold, DefaultMinRun))
	spans := MergePredictions(preds, DefaultThreshold, 1)
	require.Len(t, spans, 3)
	assert.Equal(t, []string{"walk", "run", "run"}, []string{spans[0].Label, spans[1].Label, spans[2].Label})
}

func TestTrainAndPredictOnlyMissing(t *testing.T) {
	t.Parallel()

	c := &Classifier{
		Model:    NewGaussianNB(),
		Table:    clusters(math.NaN(), math.Inf(1)),
		Features: []string{"acc_mean"},
	}
	preds, err := c.TrainAndPredict()
	require.NoError(t, err)
	require.Len(t, preds, 2)
	for _, p := range preds {
		assert.True(t, p.Missing())
		assert.Equal(t, "", p.Label)
	}
}

func TestMergePredictionsBreaksOnMissing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		preds []Prediction
		want  []Span
	}{
		{
			name: "missing between same label",
			preds: []Prediction{
				{Timestamp: at(1), Label: "A", Probability: .95},
				{Timestamp: at(2), Label: "", Probability: math.NaN()},
				{Timestamp: at(3), Label: "A", Probability: .95},
			},
		},
		{
			name: "runs on both sides survive",
			preds: []Prediction{
				{Timestamp: at(1), Label: "A", Probability: .95},
				{Timestamp: at(2), Label: "A", Probability: .95},
				{Timestamp: at(3), Label: "", Probability: math.NaN()},
				{Timestamp: at(4), Label: "A", Probability: .97},
				{Timestamp: at(5), Label: "A", Probability: .97},
			},
			want: []Span{
				{Begin: at(1), End: at(2), Label: "A", AverageProbability: .95},
				{Begin: at(4), End: at(5), Label: "A", AverageProbability: .97},
			},
		},
		{
			name: "leading and trailing missing",
			preds: []Prediction{
				{Timestamp: at(1), Label: "", Probability: math.NaN()},
				{Timestamp: at(2), Label: "B", Probability: .99},
				{Timestamp: at(3), Label: "B", Probability: .99},
				{Timestamp: at(4), Label: "", Probability: math.NaN()},
			},
			want: []Span{{Begin: at(2), End: at(3), Label: "B", AverageProbability: .99}},
		},
		{
			name: "only missing",
			preds: []Prediction{
				{Timestamp: at(1), Label: "", Probability: math.NaN()},
				{Timestamp: at(2), Label: "", Probability: math.NaN()},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := MergePredictions(tt.preds, DefaultThreshold, DefaultMinRun)
			if diff := cmp.Diff(tt.want, got, cmpopts.EquateApprox(0, 1e-9), cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("spans mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPredictionJSONMissingProbability(t *testing.T) {
	t.Parallel()

	preds := []Prediction{
		{Timestamp: at(1), Label: "A", Probability: .5},
		{Timestamp: at(2), Label: "", Probability: math.NaN()},
	}
	data, err := json.Marshal(preds)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"probability":0.5`)
	assert.Contains(t, string(data), `"probability":null`)

	var back []Prediction
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back, 2)
	assert.Equal(t, "A", back[0].Label)
	assert.InDelta(t, .5, back[0].Probability, 1e-12)
	assert.True(t, back[1].Missing())
	assert.True(t, back[1].Timestamp.Equal(at(2)))
}

func TestTrainAndPredictPrerequisites(t *testing.T) {
	t.Parallel()

	table := clusters(1)
	cases := map[string]*Classifier{
		"model":    {Table: table, Features: []string{"acc_mean"}},
		"table":    {Model: NewGaussianNB(), Features: []string{"acc_mean"}},
		"features": {Model: NewGaussianNB(), Table: table},
	}
	for name, c := range cases {
		_, err := c.TrainAndPredict()
		assert.ErrorIs(t, err, ErrMissingPrerequisite, name)
	}

	onlyUnlabeled := &window.Table{Columns: []string{"x"}, Rows: []window.Row{{Timestamp: at(0), Features: []float64{1}}}}
	_, err := (&Classifier{Model: NewGaussianNB(), Table: onlyUnlabeled, Features: []string{"x"}}).TrainAndPredict()
	assert.ErrorIs(t, err, ErrNoTrainingData)

	_, err = (&Classifier{Model: NewGaussianNB(), Table: table, Features: []string{"nope"}}).TrainAndPredict()
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrMissingPrerequisite))

	none, err := (&Classifier{Model: NewGaussianNB(), Table: clusters(), Features: []string{"acc_mean"}}).TrainAndPredict()
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGaussianNBProbabilities(t *testing.T) {
	t.Parallel()

	x := mat.NewDense(4, 1, []float64{-1, 1, 3, 5})
	m := NewGaussianNB()
	require.NoError(t, m.Fit(x, []string{"a", "a", "b", "b"}))
	assert.Equal(t, []string{"a", "b"}, m.Classes())

	classes, proba, err := m.PredictProba(mat.NewDense(3, 1, []float64{2, 0, 4}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, classes)

	// Equal priors and variances put the midpoint on the boundary.
	assert.InDelta(t, 0.5, proba.At(0, 0), 1e-9)
	assert.Greater(t, proba.At(1, 0), 0.95)
	assert.Greater(t, proba.At(2, 1), 0.95)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, 1, proba.At(i, 0)+proba.At(i, 1), 1e-12)
	}

	_, _, err = NewGaussianNB().PredictProba(x)
	assert.Error(t, err)
	_, _, err = m.PredictProba(mat.NewDense(1, 2, []float64{1, 2}))
	assert.Error(t, err)
	assert.Error(t, m.Fit(x, []string{"a"}))
}

func TestGaussianNBSmoothsZeroVariance(t *testing.T) {
	t.Parallel()

	x := mat.NewDense(4, 1, []float64{1, 1, 2, 2})
	m := NewGaussianNB()
	require.NoError(t, m.Fit(x, []string{"low", "low", "high", "high"}))
	_, proba, err := m.PredictProba(mat.NewDense(1, 1, []float64{1}))
	require.NoError(t, err)
	assert.False(t, math.IsNaN(proba.At(0, 0)))
	assert.InDelta(t, 1, proba.At(0, 1), 1e-9)
}

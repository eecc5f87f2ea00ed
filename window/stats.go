package window

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Statistic names one window aggregate.
type Statistic string

const (
	Mean     Statistic = "mean"
	Max      Statistic = "max"
	Min      Statistic = "min"
	Median   Statistic = "median"
	Std      Statistic = "std"
	P25      Statistic = "p25"
	P75      Statistic = "p75"
	Kurtosis Statistic = "kurtosis"
	Skewness Statistic = "skewness"
)

// DefaultStatistics is used when no statistics are requested.
var DefaultStatistics = []Statistic{Mean, Max, Min, Median, Std, P25, P75, Kurtosis, Skewness}

// ParseStatistics parses a comma separated list such as "mean,std,p75".
func ParseStatistics(s string) ([]Statistic, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []Statistic
	for _, part := range strings.Split(s, ",") {
		st := Statistic(strings.ToLower(strings.TrimSpace(part)))
		if _, ok := aggregates[st]; !ok {
			return nil, fmt.Errorf("unknown statistic %q", part)
		}
		out = append(out, st)
	}
	return out, nil
}

// aggregate computes one statistic. x holds the window in row order and
// sorted holds the same values ascending. Neither may be modified.
type aggregate func(x, sorted []float64) float64

var aggregates = map[Statistic]aggregate{
	Mean:     func(x, _ []float64) float64 { return stat.Mean(x, nil) },
	Max:      func(x, _ []float64) float64 { return floats.Max(x) },
	Min:      func(x, _ []float64) float64 { return floats.Min(x) },
	Median:   func(_, s []float64) float64 { return percentile(s, 0.5) },
	Std:      func(x, _ []float64) float64 { return stat.StdDev(x, nil) },
	P25:      func(_, s []float64) float64 { return percentile(s, 0.25) },
	P75:      func(_, s []float64) float64 { return percentile(s, 0.75) },
	Kurtosis: kurtosis,
	Skewness: skewness,
}

// percentile interpolates linearly between closest ranks (Hyndman-Fan type
// 7). sorted must be ascending and non-empty.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	h := p * float64(len(sorted)-1)
	lo := int(math.Floor(h))
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[hi]-sorted[lo])
}

// kurtosis is the bias corrected excess kurtosis. It needs four samples and a
// non-constant window.
func kurtosis(x, _ []float64) float64 {
	if len(x) < 4 || constant(x) {
		return math.NaN()
	}
	return stat.ExKurtosis(x, nil)
}

// skewness is the adjusted Fisher-Pearson coefficient. It needs three samples
// and a non-constant window.
func skewness(x, _ []float64) float64 {
	if len(x) < 3 || constant(x) {
		return math.NaN()
	}
	return stat.Skew(x, nil)
}

func constant(x []float64) bool {
	for _, v := range x[1:] {
		if v != x[0] {
			return false
		}
	}
	return true
}

func hasNaN(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

// summarize fills out with one value per statistic for the window x.
func summarize(x, scratch []float64, stats []Statistic, out []float64) {
	if hasNaN(x) {
		for i := range stats {
			out[i] = math.NaN()
		}
		return
	}
	sorted := append(scratch[:0], x...)
	sort.Float64s(sorted)
	for i, st := range stats {
		out[i] = aggregates[st](x, sorted)
	}
}

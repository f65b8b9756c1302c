package fiomark

import (
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

type NormalizationMethod string

const (
	MinMax         NormalizationMethod = "min-max"
	ZScore         NormalizationMethod = "z-score"
	PercentileRank NormalizationMethod = "percentile"
)

// midpoint is what min-max yields when every finite value is identical.
const midpoint = 50.0

// ParseNormalizationMethod maps a user supplied name onto a method.
func ParseNormalizationMethod(s string) (NormalizationMethod, error) {
	switch m := NormalizationMethod(s); m {
	case MinMax, ZScore, PercentileRank:
		return m, nil
	case "":
		return MinMax, nil
	}
	return "", errors.Errorf("unknown normalization method %q", s)
}

// Normalize rescales the finite values of a column. Nil and non-finite
// entries stay nil at their index and never take part in the statistics.
func Normalize(values []*float64, method NormalizationMethod) ([]*float64, error) {
	var scale func(float64) float64

	finite := make(stats.Float64Data, 0, len(values))
	for _, v := range values {
		if v != nil && isFinite(*v) {
			finite = append(finite, *v)
		}
	}

	switch method {
	case MinMax:
		scale = minMaxScale(finite)
	case ZScore:
		scale = zScoreScale(finite)
	case PercentileRank:
		scale = percentileRankScale(finite)
	default:
		return nil, errors.Errorf("unknown normalization method %q", method)
	}

	out := make([]*float64, len(values))
	if len(finite) == 0 {
		return out, nil
	}
	for i, v := range values {
		if v == nil || !isFinite(*v) {
			continue
		}
		n := scale(*v)
		if !isFinite(n) {
			continue
		}
		out[i] = &n
	}
	return out, nil
}

func minMaxScale(data stats.Float64Data) func(float64) float64 {
	min, _ := stats.Min(data)
	max, _ := stats.Max(data)
	span := max - min
	return func(v float64) float64 {
		if span == 0 {
			return midpoint
		}
		return (v - min) / span * 100
	}
}

func zScoreScale(data stats.Float64Data) func(float64) float64 {
	mean, _ := stats.Mean(data)
	stdev, _ := stats.StandardDeviationPopulation(data)
	return func(v float64) float64 {
		if stdev == 0 {
			return 0
		}
		return (v - mean) / stdev
	}
}

// percentileRankScale uses the mid-rank definition so ties share a rank and
// a constant column lands on the midpoint like min-max does.
func percentileRankScale(data stats.Float64Data) func(float64) float64 {
	sorted := make([]float64, len(data))
	copy(sorted, data)
	sort.Float64s(sorted)
	n := float64(len(sorted))
	return func(v float64) float64 {
		below := sort.SearchFloat64s(sorted, v)
		upTo := sort.Search(len(sorted), func(i int) bool { return sorted[i] > v })
		equal := upTo - below
		return (float64(below) + 0.5*float64(equal)) / n * 100
	}
}

// Responsiveness is 1000 / latency in ms. A missing, zero or negative latency
// has no responsiveness.
func Responsiveness(latency *float64) *float64 {
	if latency == nil || !isFinite(*latency) || *latency <= 0 {
		return nil
	}
	r := 1000 / *latency
	if !isFinite(r) {
		return nil
	}
	return &r
}

package fiomark

import (
	"fmt"

	"github.com/montanaflynn/stats"
)

// Summary holds descriptive statistics keyed "count", "avg", "min", "p25",
// "p50", "p75", "p90", "p95", "p99", "max" and "stdev".
type Summary map[string]float64

// SummaryStats computes a Summary over the finite values. It returns nil when
// no value qualifies.
func SummaryStats(values []float64) Summary {
	data := make(stats.Float64Data, 0, len(values))
	for _, v := range values {
		if isFinite(v) {
			data = append(data, v)
		}
	}
	if len(data) == 0 {
		return nil
	}

	s := Summary{"count": float64(len(data))}
	s["avg"], _ = stats.Mean(data)
	s["min"], _ = stats.Min(data)
	s["max"], _ = stats.Max(data)
	s["stdev"], _ = stats.StandardDeviationPopulation(data)
	for _, p := range []float64{25, 50, 75, 90, 95, 99} {
		s[fmt.Sprintf("p%.0f", p)] = percentile(data, p)
	}
	return s
}

// nearest rank keeps small samples (one or two runs) well defined
func percentile(data stats.Float64Data, p float64) float64 {
	v, err := stats.PercentileNearestRank(data, p)
	if err != nil {
		return data[len(data)-1]
	}
	return v
}

// meanOf is the null-aware mean: nil entries and non-finite values are skipped,
// and an all-null input yields nil.
func meanOf(values []*float64) *float64 {
	var data stats.Float64Data
	for _, v := range values {
		if v != nil && isFinite(*v) {
			data = append(data, *v)
		}
	}
	if len(data) == 0 {
		return nil
	}
	m, err := stats.Mean(data)
	if err != nil {
		return nil
	}
	return &m
}

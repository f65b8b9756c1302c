package fiomark

import (
	"github.com/pkg/errors"
)

// ChartData is the labels/datasets shape Chart.js style renderers consume.
type ChartData struct {
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

type Dataset struct {
	Label           string     `json:"label"`
	Data            []*float64 `json:"data"`
	BackgroundColor string     `json:"backgroundColor,omitempty"`
	BorderColor     string     `json:"borderColor,omitempty"`
	Pattern         string     `json:"pattern,omitempty"`
	Series          string     `json:"series,omitempty"`
}

type ChartGrouping string

const (
	GroupByPattern ChartGrouping = "pattern"
	GroupBySeries  ChartGrouping = "series"
)

// ParseChartGrouping maps "" to grouping by pattern.
func ParseChartGrouping(s string) (ChartGrouping, error) {
	switch g := ChartGrouping(s); g {
	case "":
		return GroupByPattern, nil
	case GroupByPattern, GroupBySeries:
		return g, nil
	}
	return "", errors.Errorf("unknown chart grouping %q", s)
}

type ChartOptions struct {
	// Pattern restricts the chart to one read/write pattern when set.
	Pattern string
	GroupBy ChartGrouping
	// IncludeAllPercentiles adds p70 and p90 to the latency chart.
	IncludeAllPercentiles bool
}

var patternColors = map[string]string{
	"read":      "rgba(54, 162, 235, 0.7)",
	"write":     "rgba(255, 99, 132, 0.7)",
	"randread":  "rgba(75, 192, 192, 0.7)",
	"randwrite": "rgba(255, 159, 64, 0.7)",
	"rw":        "rgba(153, 102, 255, 0.7)",
	"randrw":    "rgba(255, 205, 86, 0.7)",
}

var palette = []string{
	"rgba(54, 162, 235, 0.7)",
	"rgba(255, 99, 132, 0.7)",
	"rgba(75, 192, 192, 0.7)",
	"rgba(255, 159, 64, 0.7)",
	"rgba(153, 102, 255, 0.7)",
	"rgba(255, 205, 86, 0.7)",
	"rgba(201, 203, 207, 0.7)",
}

func colorFor(pattern string, index int) string {
	if c, ok := patternColors[pattern]; ok {
		return c
	}
	return palette[index%len(palette)]
}

func (o ChartOptions) patterns(agg *AggregatedData) []string {
	if o.Pattern != "" {
		return []string{o.Pattern}
	}
	return agg.Patterns
}

func (o ChartOptions) accepts(pattern string) bool {
	return o.Pattern == "" || o.Pattern == pattern
}

// cellMean averages one metric over every series point at a block size,
// restricted to the chart's pattern. Nil when no point carries the metric.
func cellMean(agg *AggregatedData, blockSize string, accepts func(string) bool, get func(*DataPoint) *float64) *float64 {
	var values []*float64
	for i := range agg.Series {
		for j := range agg.Series[i].DataPoints {
			p := &agg.Series[i].DataPoints[j]
			if p.BlockSize == blockSize && accepts(p.Pattern) {
				values = append(values, get(p))
			}
		}
	}
	return meanOf(values)
}

func labels(agg *AggregatedData) []string {
	return append([]string{}, agg.BlockSizes...)
}

func zeroIfNil(v *float64) *float64 {
	if v == nil {
		return Float(0)
	}
	return v
}

package fiomark

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp accepts the ISO-8601 variants the backend has produced,
// with or without zone. ok is false for anything else.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

type TimeSeriesPoint struct {
	Timestamp     time.Time `json:"timestamp"`
	TestRunID     int64     `json:"test_run_id"`
	Value         float64   `json:"value"`
	MovingAverage *float64  `json:"moving_average,omitempty"`
	ChangePercent *float64  `json:"change_percent,omitempty"`
}

// TimeSeries is the history of one metric for one configuration of a series.
type TimeSeries struct {
	Key        string            `json:"key"`
	SeriesKey  string            `json:"series_key"`
	BlockSize  string            `json:"block_size"`
	Pattern    string            `json:"pattern"`
	QueueDepth int               `json:"queue_depth"`
	Metric     Metric            `json:"metric"`
	Unit       string            `json:"unit"`
	Points     []TimeSeriesPoint `json:"points"`
}

// BuildTimeSeries orders the qualifying measurements of a metric by time,
// one series per host/protocol/drive and block size/pattern/queue depth.
// Records with a missing or invalid timestamp are skipped.
func BuildTimeSeries(records []TestRun, metric Metric) []TimeSeries {
	byKey := map[string]*TimeSeries{}

	for i := range records {
		r := &records[i]
		ts, ok := ParseTimestamp(r.Timestamp)
		if !ok {
			continue
		}
		v := metric.Value(r)
		if !finitePositive(v) {
			continue
		}
		id := strings.Join([]string{r.seriesID(), r.blockSizeLabel(), r.patternLabel(), strconv.Itoa(r.QueueDepth)}, "\x00")
		s, ok := byKey[id]
		if !ok {
			s = &TimeSeries{
				Key:        strings.Join([]string{r.SeriesKey(), r.blockSizeLabel(), r.patternLabel(), strconv.Itoa(r.QueueDepth)}, "|"),
				SeriesKey:  r.SeriesKey(),
				BlockSize:  r.blockSizeLabel(),
				Pattern:    r.patternLabel(),
				QueueDepth: r.QueueDepth,
				Metric:     metric,
				Unit:       metric.Unit(),
			}
			byKey[id] = s
		}
		s.Points = append(s.Points, TimeSeriesPoint{Timestamp: ts, TestRunID: r.ID, Value: *v})
	}

	out := make([]TimeSeries, 0, len(byKey))
	for _, s := range byKey {
		s := s
		sort.SliceStable(s.Points, func(i, j int) bool {
			if s.Points[i].Timestamp.Equal(s.Points[j].Timestamp) {
				return s.Points[i].TestRunID < s.Points[j].TestRunID
			}
			return s.Points[i].Timestamp.Before(s.Points[j].Timestamp)
		})
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Points[0].TestRunID < out[j].Points[0].TestRunID
	})
	return out
}

// TrendAnalysis summarizes a time series. OverallChange is nil when the
// first value is 0, which renders as "N/A".
type TrendAnalysis struct {
	TotalPoints   int      `json:"total_points"`
	Min           float64  `json:"min"`
	Max           float64  `json:"max"`
	Avg           float64  `json:"avg"`
	First         float64  `json:"first"`
	Last          float64  `json:"last"`
	OverallChange *float64 `json:"overall_change"`
}

const movingAverageWindow = 3

// AnalyzeTrend fills in the trailing moving average (left nil until a full
// window exists) and the change against
// the previous point, and returns the summary. The series is modified in place.
func AnalyzeTrend(series *TimeSeries) TrendAnalysis {
	points := series.Points
	if len(points) == 0 {
		return TrendAnalysis{}
	}

	values := make([]float64, len(points))
	for i := range points {
		values[i] = points[i].Value

		points[i].MovingAverage = nil
		if start := i - movingAverageWindow + 1; start >= 0 {
			var sum float64
			for _, p := range points[start : i+1] {
				sum += p.Value
			}
			avg := sum / movingAverageWindow
			points[i].MovingAverage = &avg
		}

		if i > 0 {
			points[i].ChangePercent = percentChange(points[i-1].Value, points[i].Value)
		}
	}

	summary := SummaryStats(values)
	return TrendAnalysis{
		TotalPoints:   len(points),
		Min:           summary["min"],
		Max:           summary["max"],
		Avg:           summary["avg"],
		First:         values[0],
		Last:          values[len(values)-1],
		OverallChange: percentChange(values[0], values[len(values)-1]),
	}
}

func percentChange(from, to float64) *float64 {
	if from == 0 {
		return nil
	}
	c := (to - from) / from * 100
	return &c
}

package fiomark

import (
	"github.com/pkg/errors"
)

type Metric string

const (
	MetricIOPS           Metric = "iops"
	MetricAvgLatency     Metric = "avg_latency"
	MetricBandwidth      Metric = "bandwidth"
	MetricP70Latency     Metric = "p70_latency"
	MetricP90Latency     Metric = "p90_latency"
	MetricP95Latency     Metric = "p95_latency"
	MetricP99Latency     Metric = "p99_latency"
	MetricResponsiveness Metric = "responsiveness"
)

var Metrics = []Metric{
	MetricIOPS, MetricAvgLatency, MetricBandwidth,
	MetricP70Latency, MetricP90Latency, MetricP95Latency, MetricP99Latency,
	MetricResponsiveness,
}

func ParseMetric(s string) (Metric, error) {
	for _, m := range Metrics {
		if string(m) == s {
			return m, nil
		}
	}
	return "", errors.Errorf("unknown metric %q", s)
}

// Unit is the display unit of the metric.
func (m Metric) Unit() string {
	switch m {
	case MetricIOPS:
		return "IOPS"
	case MetricBandwidth:
		return "MB/s"
	case MetricResponsiveness:
		return "ops/s"
	}
	return "ms"
}

// Value reads the metric from a record. Responsiveness is derived from the
// average latency.
func (m Metric) Value(r *TestRun) *float64 {
	switch m {
	case MetricIOPS:
		return r.IOPS
	case MetricAvgLatency:
		return r.AvgLatency
	case MetricBandwidth:
		return r.Bandwidth
	case MetricP70Latency:
		return r.P70Latency
	case MetricP90Latency:
		return r.P90Latency
	case MetricP95Latency:
		return r.P95Latency
	case MetricP99Latency:
		return r.P99Latency
	case MetricResponsiveness:
		return Responsiveness(r.AvgLatency)
	}
	return nil
}

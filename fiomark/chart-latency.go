package fiomark

type latencyLine struct {
	label string
	color string
	get   func(*DataPoint) *float64
}

var (
	avgLatencyLine = latencyLine{"Average Latency", "rgba(54, 162, 235, 1)", func(p *DataPoint) *float64 { return p.AvgLatency }}
	p70LatencyLine = latencyLine{"P70 Latency", "rgba(75, 192, 192, 1)", func(p *DataPoint) *float64 { return p.P70Latency }}
	p90LatencyLine = latencyLine{"P90 Latency", "rgba(153, 102, 255, 1)", func(p *DataPoint) *float64 { return p.P90Latency }}
	p95LatencyLine = latencyLine{"P95 Latency", "rgba(255, 159, 64, 1)", func(p *DataPoint) *float64 { return p.P95Latency }}
	p99LatencyLine = latencyLine{"P99 Latency", "rgba(255, 99, 132, 1)", func(p *DataPoint) *float64 { return p.P99Latency }}
)

// BuildLatencyAnalysis draws avg, p95 and p99 latency over the sorted block
// sizes. A block size without a measurement is a gap (nil), not 0.
func BuildLatencyAnalysis(agg AggregatedData, opts ChartOptions) ChartData {
	chart := ChartData{Labels: labels(&agg), Datasets: []Dataset{}}

	lines := []latencyLine{avgLatencyLine, p95LatencyLine, p99LatencyLine}
	if opts.IncludeAllPercentiles {
		lines = []latencyLine{avgLatencyLine, p70LatencyLine, p90LatencyLine, p95LatencyLine, p99LatencyLine}
	}

	for _, line := range lines {
		ds := Dataset{
			Label:       line.label,
			Data:        make([]*float64, len(chart.Labels)),
			BorderColor: line.color,
			Pattern:     opts.Pattern,
		}
		for k, bs := range chart.Labels {
			ds.Data[k] = cellMean(&agg, bs, opts.accepts, line.get)
		}
		chart.Datasets = append(chart.Datasets, ds)
	}
	return chart
}

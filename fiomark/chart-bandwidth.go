package fiomark

// BuildBandwidthTrend is a single dataset of mean bandwidth per block size.
func BuildBandwidthTrend(agg AggregatedData, opts ChartOptions) ChartData {
	return singleLine(agg, opts, "Bandwidth (MB/s)", "rgba(75, 192, 192, 1)",
		func(p *DataPoint) *float64 { return p.Bandwidth })
}

// BuildResponsiveness plots 1000 / avg latency per block size.
func BuildResponsiveness(agg AggregatedData, opts ChartOptions) ChartData {
	return singleLine(agg, opts, "Responsiveness (ops/s)", "rgba(153, 102, 255, 1)",
		func(p *DataPoint) *float64 { return p.Responsiveness })
}

func singleLine(agg AggregatedData, opts ChartOptions, label, color string, get func(*DataPoint) *float64) ChartData {
	ds := Dataset{
		Label:           label,
		Data:            make([]*float64, len(agg.BlockSizes)),
		BackgroundColor: color,
		BorderColor:     color,
		Pattern:         opts.Pattern,
	}
	for k, bs := range agg.BlockSizes {
		ds.Data[k] = cellMean(&agg, bs, opts.accepts, get)
	}
	return ChartData{Labels: labels(&agg), Datasets: []Dataset{ds}}
}

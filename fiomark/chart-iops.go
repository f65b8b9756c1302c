package fiomark

// BuildIOPSComparison plots iops over the sorted block sizes. Grouped by
// pattern, a cell is the mean across series; grouped by series, every
// series x pattern gets its own dataset. Missing cells are 0, and a chart
// with nothing to plot still carries one empty dataset.
func BuildIOPSComparison(agg AggregatedData, opts ChartOptions) ChartData {
	chart := buildIOPSComparison(agg, opts)
	if len(chart.Datasets) == 0 {
		chart.Datasets = append(chart.Datasets, Dataset{
			Label:           "IOPS",
			Data:            make([]*float64, len(chart.Labels)),
			BackgroundColor: palette[0],
			BorderColor:     palette[0],
		})
		for k := range chart.Labels {
			chart.Datasets[0].Data[k] = Float(0)
		}
	}
	return chart
}

func buildIOPSComparison(agg AggregatedData, opts ChartOptions) ChartData {
	chart := ChartData{Labels: labels(&agg), Datasets: []Dataset{}}
	iops := func(p *DataPoint) *float64 { return &p.IOPS }

	if opts.GroupBy == GroupBySeries {
		for i := range agg.Series {
			s := &agg.Series[i]
			patterns := s.Patterns()
			if opts.Pattern != "" {
				patterns = []string{opts.Pattern}
			}
			for _, pattern := range patterns {
				ds := Dataset{
					Label:   s.Key + " " + pattern,
					Data:    make([]*float64, len(chart.Labels)),
					Pattern: pattern,
					Series:  s.Key,
				}
				ds.BackgroundColor = palette[len(chart.Datasets)%len(palette)]
				ds.BorderColor = ds.BackgroundColor
				for k, bs := range chart.Labels {
					if p, ok := s.Point(bs, pattern); ok {
						ds.Data[k] = Float(p.IOPS)
					} else {
						ds.Data[k] = Float(0)
					}
				}
				chart.Datasets = append(chart.Datasets, ds)
			}
		}
		return chart
	}

	for idx, pattern := range opts.patterns(&agg) {
		pattern := pattern
		only := func(p string) bool { return p == pattern }
		ds := Dataset{
			Label:           pattern,
			Data:            make([]*float64, len(chart.Labels)),
			BackgroundColor: colorFor(pattern, idx),
			BorderColor:     colorFor(pattern, idx),
			Pattern:         pattern,
		}
		for k, bs := range chart.Labels {
			ds.Data[k] = zeroIfNil(cellMean(&agg, bs, only, iops))
		}
		chart.Datasets = append(chart.Datasets, ds)
	}
	return chart
}

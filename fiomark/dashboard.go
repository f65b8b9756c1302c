package fiomark

import (
	"github.com/pkg/errors"
)

const (
	ChartIOPS           = "iops"
	ChartLatency        = "latency"
	ChartBandwidth      = "bandwidth"
	ChartResponsiveness = "responsiveness"
)

var ChartNames = []string{ChartIOPS, ChartLatency, ChartBandwidth, ChartResponsiveness}

const (
	MessageNoMatches      = "No test runs match the selected filters."
	MessageNoMeasurements = "The selected test runs have no valid IOPS measurements."
)

type DashboardOptions struct {
	Pattern               string
	GroupBy               ChartGrouping
	Normalization         NormalizationMethod
	IncludeAllPercentiles bool
	// StrictValidation drops records that fail Valid before filtering.
	// Otherwise invalid records are only counted.
	StrictValidation bool
	// LatestOnly keeps only the newest run of every test configuration.
	LatestOnly bool
}

func (o DashboardOptions) chartOptions() ChartOptions {
	return ChartOptions{Pattern: o.Pattern, GroupBy: o.GroupBy, IncludeAllPercentiles: o.IncludeAllPercentiles}
}

// Dashboard bundles every derived structure for one record set and filter.
type Dashboard struct {
	Filters        FilterState                 `json:"filters"`
	TotalRecords   int                         `json:"total_records"`
	InvalidRecords int                         `json:"invalid_records"`
	MatchedRecords int                         `json:"matched_records"`
	Empty          bool                        `json:"empty"`
	Message        string                      `json:"message,omitempty"`
	Aggregated     AggregatedData              `json:"aggregated"`
	Charts         map[string]ChartData        `json:"charts"`
	Heatmap        HeatmapMatrix               `json:"heatmap"`
	Hosts          []HostSummary               `json:"hosts"`
	FilterOptions  map[FilterCategory][]string `json:"filter_options"`
}

// BuildChart renders one of the named charts from aggregated data.
func BuildChart(name string, agg AggregatedData, opts ChartOptions) (ChartData, error) {
	switch name {
	case ChartIOPS:
		return BuildIOPSComparison(agg, opts), nil
	case ChartLatency:
		return BuildLatencyAnalysis(agg, opts), nil
	case ChartBandwidth:
		return BuildBandwidthTrend(agg, opts), nil
	case ChartResponsiveness:
		return BuildResponsiveness(agg, opts), nil
	}
	return ChartData{}, errors.Errorf("unknown chart %q", name)
}

// BuildDashboard runs validation, filtering, aggregation, normalization and
// every chart builder. Errors are reserved for invalid filters or options;
// a filter that matches nothing yields an explicit empty dashboard.
func BuildDashboard(records []TestRun, filters FilterState, opts DashboardOptions) (*Dashboard, error) {
	if err := filters.Validate(); err != nil {
		return nil, err
	}
	if opts.Normalization == "" {
		opts.Normalization = MinMax
	}

	d := &Dashboard{
		Filters:       filters,
		TotalRecords:  len(records),
		FilterOptions: FilterOptions(records),
		Charts:        make(map[string]ChartData, len(ChartNames)),
	}

	candidates := records
	if opts.StrictValidation {
		candidates = make([]TestRun, 0, len(records))
	}
	for i := range records {
		if records[i].Valid() {
			if opts.StrictValidation {
				candidates = append(candidates, records[i])
			}
			continue
		}
		d.InvalidRecords++
	}

	matched := ApplyFilters(candidates, filters)
	if opts.LatestOnly {
		matched = LatestRuns(matched)
	}
	d.MatchedRecords = len(matched)
	d.Aggregated = Aggregate(matched)

	chartOpts := opts.chartOptions()
	for _, name := range ChartNames {
		chart, err := BuildChart(name, d.Aggregated, chartOpts)
		if err != nil {
			return nil, err
		}
		d.Charts[name] = chart
	}

	heatmap, err := BuildHeatmap(matched, HeatmapOptions{Method: opts.Normalization, Pattern: opts.Pattern})
	if err != nil {
		return nil, err
	}
	d.Heatmap = heatmap
	d.Hosts = AnalyzeHosts(matched)

	switch {
	case d.MatchedRecords == 0:
		d.Empty, d.Message = true, MessageNoMatches
	case d.Aggregated.Empty():
		d.Empty, d.Message = true, MessageNoMeasurements
	}
	return d, nil
}

package fiomark

import (
	"sort"
)

// DataPoint is one block size x pattern cell of a series. When several runs
// share the cell their metrics are averaged, ignoring nulls.
type DataPoint struct {
	BlockSize      string   `json:"block_size"`
	Pattern        string   `json:"pattern"`
	QueueDepth     int      `json:"queue_depth,omitempty"`
	IOPS           float64  `json:"iops"`
	AvgLatency     *float64 `json:"avg_latency"`
	Bandwidth      *float64 `json:"bandwidth"`
	P70Latency     *float64 `json:"p70_latency"`
	P90Latency     *float64 `json:"p90_latency"`
	P95Latency     *float64 `json:"p95_latency"`
	P99Latency     *float64 `json:"p99_latency"`
	Responsiveness *float64 `json:"responsiveness"`

	Count      int     `json:"count"`
	IOPSMin    float64 `json:"iops_min"`
	IOPSMax    float64 `json:"iops_max"`
	TestRunIDs []int64 `json:"test_run_ids"`
}

// SeriesDefinition is one hostname-protocol-drive_model-drive_type combination.
type SeriesDefinition struct {
	Key        string      `json:"key"`
	Hostname   string      `json:"hostname"`
	Protocol   string      `json:"protocol"`
	DriveModel string      `json:"drive_model"`
	DriveType  string      `json:"drive_type"`
	DataPoints []DataPoint `json:"data_points"`
}

// Point returns the data point for a block size and pattern, if any.
func (s *SeriesDefinition) Point(blockSize, pattern string) (*DataPoint, bool) {
	for i := range s.DataPoints {
		if s.DataPoints[i].BlockSize == blockSize && s.DataPoints[i].Pattern == pattern {
			return &s.DataPoints[i], true
		}
	}
	return nil, false
}

// Patterns lists the patterns this series has measurements for.
func (s *SeriesDefinition) Patterns() []string {
	set := map[string]struct{}{}
	for _, p := range s.DataPoints {
		set[p.Pattern] = struct{}{}
	}
	return sortedKeys(set)
}

// MaxValues holds one maximum per metric, used for axis scaling.
type MaxValues struct {
	IOPS           float64 `json:"iops"`
	AvgLatency     float64 `json:"avg_latency"`
	P70Latency     float64 `json:"p70_latency"`
	P90Latency     float64 `json:"p90_latency"`
	P95Latency     float64 `json:"p95_latency"`
	P99Latency     float64 `json:"p99_latency"`
	Bandwidth      float64 `json:"bandwidth"`
	Responsiveness float64 `json:"responsiveness"`
}

func (m *MaxValues) observe(p *DataPoint) {
	m.IOPS = maxOf(m.IOPS, &p.IOPS)
	m.AvgLatency = maxOf(m.AvgLatency, p.AvgLatency)
	m.P70Latency = maxOf(m.P70Latency, p.P70Latency)
	m.P90Latency = maxOf(m.P90Latency, p.P90Latency)
	m.P95Latency = maxOf(m.P95Latency, p.P95Latency)
	m.P99Latency = maxOf(m.P99Latency, p.P99Latency)
	m.Bandwidth = maxOf(m.Bandwidth, p.Bandwidth)
	m.Responsiveness = maxOf(m.Responsiveness, p.Responsiveness)
}

func maxOf(current float64, v *float64) float64 {
	if v != nil && isFinite(*v) && *v > current {
		return *v
	}
	return current
}

type AggregatedData struct {
	Series     []SeriesDefinition `json:"series"`
	BlockSizes []string           `json:"block_sizes"`
	Patterns   []string           `json:"patterns"`
	Hostnames  []string           `json:"hostnames"`
	MaxValues  MaxValues          `json:"max_values"`
}

// Empty reports whether no series qualified.
func (a *AggregatedData) Empty() bool {
	return len(a.Series) == 0
}

type cellKey struct {
	blockSize string
	pattern   string
}

type cellAccumulator struct {
	records []*TestRun
}

// metric averages the qualifying (finite, positive) values of one column.
// Zero and negative measurements count as missing.
func (c *cellAccumulator) metric(get func(*TestRun) *float64) *float64 {
	values := make([]*float64, 0, len(c.records))
	for _, r := range c.records {
		if v := get(r); finitePositive(v) {
			values = append(values, v)
		}
	}
	return meanOf(values)
}

func (c *cellAccumulator) point(key cellKey) DataPoint {
	p := DataPoint{
		BlockSize:  key.blockSize,
		Pattern:    key.pattern,
		Count:      len(c.records),
		AvgLatency: c.metric(func(r *TestRun) *float64 { return r.AvgLatency }),
		Bandwidth:  c.metric(func(r *TestRun) *float64 { return r.Bandwidth }),
		P70Latency: c.metric(func(r *TestRun) *float64 { return r.P70Latency }),
		P90Latency: c.metric(func(r *TestRun) *float64 { return r.P90Latency }),
		P95Latency: c.metric(func(r *TestRun) *float64 { return r.P95Latency }),
		P99Latency: c.metric(func(r *TestRun) *float64 { return r.P99Latency }),
	}
	if iops := c.metric(func(r *TestRun) *float64 { return r.IOPS }); iops != nil {
		p.IOPS = *iops
	}
	p.Responsiveness = Responsiveness(p.AvgLatency)

	for i, r := range c.records {
		if i == 0 || *r.IOPS < p.IOPSMin {
			p.IOPSMin = *r.IOPS
		}
		if *r.IOPS > p.IOPSMax {
			p.IOPSMax = *r.IOPS
		}
		if r.QueueDepth > p.QueueDepth {
			p.QueueDepth = r.QueueDepth
		}
		p.TestRunIDs = append(p.TestRunIDs, r.ID)
	}
	return p
}

type seriesAccumulator struct {
	def   SeriesDefinition
	cells map[cellKey]*cellAccumulator
	order []cellKey
}

// Aggregate groups records into series keyed by host, protocol and drive.
// Only records with a finite positive iops qualify; a series without any
// qualifying record is dropped. Everything is recomputed from the input.
func Aggregate(records []TestRun) AggregatedData {
	groups := map[string]*seriesAccumulator{}

	for i := range records {
		r := &records[i]
		if !finitePositive(r.IOPS) {
			continue
		}
		id := r.seriesID()
		g, ok := groups[id]
		if !ok {
			g = &seriesAccumulator{
				def: SeriesDefinition{
					Key:        r.SeriesKey(),
					Hostname:   labelOrUnknown(r.Hostname),
					Protocol:   labelOrUnknown(r.Protocol),
					DriveModel: labelOrUnknown(r.DriveModel),
					DriveType:  labelOrUnknown(r.DriveType),
				},
				cells: map[cellKey]*cellAccumulator{},
			}
			groups[id] = g
		}
		ck := cellKey{blockSize: r.blockSizeLabel(), pattern: r.patternLabel()}
		cell, ok := g.cells[ck]
		if !ok {
			cell = &cellAccumulator{}
			g.cells[ck] = cell
			g.order = append(g.order, ck)
		}
		cell.records = append(cell.records, r)
	}

	agg := AggregatedData{
		Series:     []SeriesDefinition{},
		BlockSizes: []string{},
		Patterns:   []string{},
		Hostnames:  []string{},
	}
	blockSizes := map[string]struct{}{}
	patterns := map[string]struct{}{}
	hostnames := map[string]struct{}{}

	for _, g := range groups {
		for _, ck := range g.order {
			p := g.cells[ck].point(ck)
			agg.MaxValues.observe(&p)
			g.def.DataPoints = append(g.def.DataPoints, p)
			blockSizes[p.BlockSize] = struct{}{}
			patterns[p.Pattern] = struct{}{}
		}
		if len(g.def.DataPoints) == 0 {
			continue
		}
		hostnames[g.def.Hostname] = struct{}{}
		sort.Sort(ByBlockSizeAndPattern(g.def.DataPoints))
		agg.Series = append(agg.Series, g.def)
	}

	sort.Slice(agg.Series, func(i, j int) bool {
		a, b := &agg.Series[i], &agg.Series[j]
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		return a.Hostname+"\x00"+a.Protocol+"\x00"+a.DriveModel < b.Hostname+"\x00"+b.Protocol+"\x00"+b.DriveModel
	})
	agg.BlockSizes = SortBlockSizes(keys(blockSizes))
	agg.Patterns = sortedKeys(patterns)
	agg.Hostnames = sortedKeys(hostnames)
	return agg
}

// comparator to sort data points by block size bytes, then pattern
type ByBlockSizeAndPattern []DataPoint

func (a ByBlockSizeAndPattern) Len() int      { return len(a) }
func (a ByBlockSizeAndPattern) Swap(i, j int) { a[i], a[j] = a[j], a[i] }
func (a ByBlockSizeAndPattern) Less(i, j int) bool {
	if a[i].BlockSize != a[j].BlockSize {
		return ByBlockSize{a[i].BlockSize, a[j].BlockSize}.Less(0, 1)
	}
	return a[i].Pattern < a[j].Pattern
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := keys(set)
	sort.Strings(out)
	return out
}

package fiomark

// Report is the exported form of a dashboard together with where it came from.
type Report struct {
	Source      string     `json:"source"`
	Description string     `json:"description,omitempty"`
	ClientEnv   string     `json:"client_env"`   // Description of the environment that produced the export.
	DateTimeUTC string     `json:"datetime_utc"` //
	Dashboard   *Dashboard `json:"dashboard"`
}

// Record is one flattened data point of the report, the unit of the CSV export.
type Record struct {
	Series     SeriesDefinition
	DataPoint  DataPoint
	Throughput float64
}

// Records flattens every series data point in series order.
func (r *Report) Records() []Record {
	if r.Dashboard == nil {
		return nil
	}
	var records []Record
	for _, s := range r.Dashboard.Aggregated.Series {
		for _, p := range s.DataPoints {
			p := p
			records = append(records, Record{Series: s, DataPoint: p, Throughput: p.ThroughputMBps()})
		}
	}
	return records
}

// ThroughputMBps derives MB/s from iops and the block size. It is 0 when the
// block size cannot be parsed.
func (p *DataPoint) ThroughputMBps() float64 {
	return p.IOPS * ParseBlockSizeForSort(p.BlockSize) / 1024 / 1024
}

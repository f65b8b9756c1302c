package fiomark

// HeatmapValues is the iops / bandwidth / responsiveness triplet of a cell.
type HeatmapValues struct {
	IOPS           *float64 `json:"iops"`
	Bandwidth      *float64 `json:"bandwidth"`
	Responsiveness *float64 `json:"responsiveness"`
}

type HeatmapCell struct {
	BlockSize  string        `json:"block_size"`
	Hostname   string        `json:"hostname"`
	Pattern    string        `json:"pattern"`
	Count      int           `json:"count"`
	Raw        HeatmapValues `json:"raw"`
	Normalized HeatmapValues `json:"normalized"`
}

// HeatmapMatrix holds one cell for every block size x hostname x pattern
// combination of the input, measured or not.
type HeatmapMatrix struct {
	BlockSizes []string            `json:"block_sizes"`
	Hostnames  []string            `json:"hostnames"`
	Patterns   []string            `json:"patterns"`
	Method     NormalizationMethod `json:"method"`
	Cells      []HeatmapCell       `json:"cells"`

	index map[heatmapKey]int
}

type HeatmapOptions struct {
	Method  NormalizationMethod
	Pattern string
}

type heatmapKey struct {
	blockSize, hostname, pattern string
}

// Cell looks up one coordinate of the matrix.
func (m *HeatmapMatrix) Cell(blockSize, hostname, pattern string) (*HeatmapCell, bool) {
	if m.index != nil {
		i, ok := m.index[heatmapKey{blockSize, hostname, pattern}]
		if !ok {
			return nil, false
		}
		return &m.Cells[i], true
	}
	for i, c := range m.Cells {
		if c.BlockSize == blockSize && c.Hostname == hostname && c.Pattern == pattern {
			return &m.Cells[i], true
		}
	}
	return nil, false
}

// BuildHeatmap averages the records per coordinate and normalizes every
// metric column across the whole matrix. A null hostname becomes "Unknown".
func BuildHeatmap(records []TestRun, opts HeatmapOptions) (HeatmapMatrix, error) {
	method := opts.Method
	if method == "" {
		method = MinMax
	}

	grouped := map[heatmapKey][]*TestRun{}
	blockSizes := map[string]struct{}{}
	hostnames := map[string]struct{}{}
	patterns := map[string]struct{}{}

	for i := range records {
		r := &records[i]
		if opts.Pattern != "" && r.ReadWritePattern != opts.Pattern {
			continue
		}
		k := heatmapKey{r.blockSizeLabel(), r.HostLabel(), r.patternLabel()}
		grouped[k] = append(grouped[k], r)
		blockSizes[k.blockSize] = struct{}{}
		hostnames[k.hostname] = struct{}{}
		patterns[k.pattern] = struct{}{}
	}

	m := HeatmapMatrix{
		BlockSizes: SortBlockSizes(keys(blockSizes)),
		Hostnames:  sortedKeys(hostnames),
		Patterns:   sortedKeys(patterns),
		Method:     method,
		Cells:      []HeatmapCell{},
		index:      map[heatmapKey]int{},
	}

	for _, bs := range m.BlockSizes {
		for _, host := range m.Hostnames {
			for _, pattern := range m.Patterns {
				k := heatmapKey{bs, host, pattern}
				rs := grouped[k]
				m.index[k] = len(m.Cells)
				m.Cells = append(m.Cells, HeatmapCell{
					BlockSize: bs,
					Hostname:  host,
					Pattern:   pattern,
					Count:     len(rs),
					Raw:       heatmapRaw(rs),
				})
			}
		}
	}

	iops := make([]*float64, len(m.Cells))
	bandwidth := make([]*float64, len(m.Cells))
	responsiveness := make([]*float64, len(m.Cells))
	for i, c := range m.Cells {
		iops[i], bandwidth[i], responsiveness[i] = c.Raw.IOPS, c.Raw.Bandwidth, c.Raw.Responsiveness
	}
	var err error
	if iops, err = Normalize(iops, method); err != nil {
		return HeatmapMatrix{}, err
	}
	if bandwidth, err = Normalize(bandwidth, method); err != nil {
		return HeatmapMatrix{}, err
	}
	if responsiveness, err = Normalize(responsiveness, method); err != nil {
		return HeatmapMatrix{}, err
	}
	for i := range m.Cells {
		m.Cells[i].Normalized = HeatmapValues{IOPS: iops[i], Bandwidth: bandwidth[i], Responsiveness: responsiveness[i]}
	}
	return m, nil
}

// heatmapRaw only averages values that qualify: finite and positive.
func heatmapRaw(records []*TestRun) HeatmapValues {
	var iops, bandwidth, latency []*float64
	for _, r := range records {
		if finitePositive(r.IOPS) {
			iops = append(iops, r.IOPS)
		}
		if finitePositive(r.Bandwidth) {
			bandwidth = append(bandwidth, r.Bandwidth)
		}
		if finitePositive(r.AvgLatency) {
			latency = append(latency, r.AvgLatency)
		}
	}
	return HeatmapValues{
		IOPS:           meanOf(iops),
		Bandwidth:      meanOf(bandwidth),
		Responsiveness: Responsiveness(meanOf(latency)),
	}
}

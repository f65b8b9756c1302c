package fiomark

import (
	"sort"
	"time"
)

// HostSummary describes everything measured on one hostname, protocol and
// drive model combination.
type HostSummary struct {
	Hostname   string     `json:"hostname"`
	Protocol   string     `json:"protocol"`
	DriveModel string     `json:"drive_model"`
	DriveTypes []string   `json:"drive_types"`
	TestCount  int        `json:"test_count"`
	FirstTest  *time.Time `json:"first_test,omitempty"`
	LastTest   *time.Time `json:"last_test,omitempty"`
	BlockSizes []string   `json:"block_sizes"`
	Patterns   []string   `json:"patterns"`
	IOPS       Summary    `json:"iops"`
	AvgLatency Summary    `json:"avg_latency"`
	Bandwidth  Summary    `json:"bandwidth"`
}

func (h *HostSummary) Label() string {
	return h.Hostname + " - " + h.Protocol + " - " + h.DriveModel
}

type hostAccumulator struct {
	summary                  HostSummary
	driveTypes, blockSizes   map[string]struct{}
	patterns                 map[string]struct{}
	iops, latency, bandwidth []float64
}

// AnalyzeHosts builds one summary per host/protocol/drive model. Metric
// statistics only include finite positive measurements.
func AnalyzeHosts(records []TestRun) []HostSummary {
	byHost := map[string]*hostAccumulator{}

	for i := range records {
		r := &records[i]
		host, protocol, model := r.HostLabel(), labelOrUnknown(r.Protocol), labelOrUnknown(r.DriveModel)
		key := host + "\x00" + protocol + "\x00" + model
		acc, ok := byHost[key]
		if !ok {
			acc = &hostAccumulator{
				summary:    HostSummary{Hostname: host, Protocol: protocol, DriveModel: model},
				driveTypes: map[string]struct{}{},
				blockSizes: map[string]struct{}{},
				patterns:   map[string]struct{}{},
			}
			byHost[key] = acc
		}

		acc.summary.TestCount++
		acc.driveTypes[labelOrUnknown(r.DriveType)] = struct{}{}
		acc.blockSizes[r.blockSizeLabel()] = struct{}{}
		acc.patterns[r.patternLabel()] = struct{}{}

		if ts, ok := ParseTimestamp(r.Timestamp); ok {
			if acc.summary.FirstTest == nil || ts.Before(*acc.summary.FirstTest) {
				first := ts
				acc.summary.FirstTest = &first
			}
			if acc.summary.LastTest == nil || ts.After(*acc.summary.LastTest) {
				last := ts
				acc.summary.LastTest = &last
			}
		}

		if finitePositive(r.IOPS) {
			acc.iops = append(acc.iops, *r.IOPS)
		}
		if finitePositive(r.AvgLatency) {
			acc.latency = append(acc.latency, *r.AvgLatency)
		}
		if finitePositive(r.Bandwidth) {
			acc.bandwidth = append(acc.bandwidth, *r.Bandwidth)
		}
	}

	out := make([]HostSummary, 0, len(byHost))
	for _, acc := range byHost {
		s := acc.summary
		s.DriveTypes = sortedKeys(acc.driveTypes)
		s.BlockSizes = SortBlockSizes(keys(acc.blockSizes))
		s.Patterns = sortedKeys(acc.patterns)
		s.IOPS = SummaryStats(acc.iops)
		s.AvgLatency = SummaryStats(acc.latency)
		s.Bandwidth = SummaryStats(acc.bandwidth)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label() < out[j].Label() })
	return out
}

package fiomark

import (
	"sort"
	"strconv"
	"strings"
)

// configurationKey identifies runs that repeat the same test on the same
// machine; only the newest of them is the latest.
func (r *TestRun) configurationKey() string {
	iodepth := r.QueueDepth
	if r.IODepth != nil {
		iodepth = *r.IODepth
	}
	return strings.Join([]string{
		labelOrUnknown(r.DriveType),
		labelOrUnknown(r.DriveModel),
		labelOrUnknown(r.Hostname),
		labelOrUnknown(r.Protocol),
		r.blockSizeLabel(),
		r.patternLabel(),
		derefOr(r.OutputFile),
		intOr(r.NumJobs),
		intOr(r.Direct),
		derefOr(r.TestSize),
		intOr(r.Sync),
		strconv.Itoa(iodepth),
	}, "\x00")
}

func derefOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func intOr(i *int) string {
	if i == nil {
		return ""
	}
	return strconv.Itoa(*i)
}

// newer orders runs by timestamp, then id. Runs without a usable timestamp
// are older than any dated run.
func newer(a, b *TestRun) bool {
	ta, okA := ParseTimestamp(a.Timestamp)
	tb, okB := ParseTimestamp(b.Timestamp)
	switch {
	case okA && !okB:
		return true
	case !okA && okB:
		return false
	case okA && okB && !ta.Equal(tb):
		return ta.After(tb)
	}
	return a.ID > b.ID
}

// LatestRuns keeps the newest run of every test configuration, newest
// first. The returned copies have IsLatest set.
func LatestRuns(records []TestRun) []TestRun {
	latest := map[string]int{}
	for i := range records {
		key := records[i].configurationKey()
		if j, ok := latest[key]; !ok || newer(&records[i], &records[j]) {
			latest[key] = i
		}
	}

	out := make([]TestRun, 0, len(latest))
	for _, i := range latest {
		r := records[i]
		r.IsLatest = Bool(true)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return newer(&out[i], &out[j]) })
	return out
}

// MarkLatest sets IsLatest on every record in place.
func MarkLatest(records []TestRun) {
	latest := map[int64]struct{}{}
	for _, r := range LatestRuns(records) {
		latest[r.ID] = struct{}{}
	}
	for i := range records {
		_, ok := latest[records[i].ID]
		records[i].IsLatest = Bool(ok)
	}
}

// MetricValue is one measurement with its display unit.
type MetricValue struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// PerformanceEntry holds the requested metrics of one test run. Metrics the
// run did not measure are left out.
type PerformanceEntry struct {
	TestRunID int64                  `json:"test_run_id"`
	Metrics   map[Metric]MetricValue `json:"metrics"`
}

// PerformanceData picks metrics of the given runs, in the order of ids.
// Unknown ids are skipped.
func PerformanceData(records []TestRun, ids []int64, metrics []Metric) []PerformanceEntry {
	byID := make(map[int64]*TestRun, len(records))
	for i := range records {
		byID[records[i].ID] = &records[i]
	}

	out := make([]PerformanceEntry, 0, len(ids))
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			continue
		}
		entry := PerformanceEntry{TestRunID: id, Metrics: map[Metric]MetricValue{}}
		for _, m := range metrics {
			if v := m.Value(r); v != nil && isFinite(*v) {
				entry.Metrics[m] = MetricValue{Value: *v, Unit: m.Unit()}
			}
		}
		out = append(out, entry)
	}
	return out
}

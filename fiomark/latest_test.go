package fiomark

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repeatedRuns() []TestRun {
	first := run(1, "h1", "tcp", "D1", "NVMe", "4k", "randread", 1000, 1, 10)
	first.Timestamp = "2024-03-01T10:00:00Z"
	second := run(2, "h1", "tcp", "D1", "NVMe", "4k", "randread", 1200, 1, 10)
	second.Timestamp = "2024-03-02T10:00:00Z"
	undated := run(3, "h1", "tcp", "D1", "NVMe", "4k", "randread", 5000, 1, 10)
	undated.Timestamp = ""
	deeper := run(4, "h1", "tcp", "D1", "NVMe", "4k", "randread", 3000, 1, 10)
	deeper.QueueDepth = 64
	deeper.Timestamp = "2024-02-01T10:00:00Z"
	return []TestRun{first, second, undated, deeper}
}

func TestLatestRuns(t *testing.T) {
	latest := LatestRuns(repeatedRuns())
	require.Len(t, latest, 2)
	assert.Equal(t, int64(2), latest[0].ID, "newest first")
	assert.Equal(t, int64(4), latest[1].ID, "another queue depth is another configuration")
	for _, r := range latest {
		assert.True(t, *r.IsLatest)
	}
	assert.Empty(t, LatestRuns(nil))
}

func TestLatestRunsTieBreaksOnID(t *testing.T) {
	a := run(7, "h1", "tcp", "D1", "NVMe", "4k", "read", 1, 1, 1)
	b := run(9, "h1", "tcp", "D1", "NVMe", "4k", "read", 1, 1, 1)
	latest := LatestRuns([]TestRun{b, a})
	require.Len(t, latest, 1)
	assert.Equal(t, int64(9), latest[0].ID)
}

func TestMarkLatest(t *testing.T) {
	records := repeatedRuns()
	MarkLatest(records)
	var flags []bool
	for _, r := range records {
		flags = append(flags, *r.IsLatest)
	}
	assert.Equal(t, []bool{false, true, false, true}, flags)
}

func TestBuildDashboardLatestOnly(t *testing.T) {
	d, err := BuildDashboard(repeatedRuns(), nil, DashboardOptions{LatestOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 4, d.TotalRecords)
	assert.Equal(t, 2, d.MatchedRecords)
	require.Len(t, d.Aggregated.Series, 1)
	// runs 2 and 4 share the cell; the older repeats 1 and 3 are not averaged in
	assert.Equal(t, 2100.0, d.Aggregated.Series[0].DataPoints[0].IOPS)
}

func TestPerformanceData(t *testing.T) {
	records := sampleRuns()
	records[0].P95Latency = Float(2.5)

	entries := PerformanceData(records, []int64{3, 1, 42}, []Metric{MetricIOPS, MetricP95Latency})
	require.Len(t, entries, 2)
	assert.Equal(t, int64(3), entries[0].TestRunID)
	assert.Equal(t, MetricValue{Value: 800, Unit: "IOPS"}, entries[0].Metrics[MetricIOPS])
	assert.NotContains(t, entries[0].Metrics, MetricP95Latency, "unmeasured metrics are left out")
	assert.Equal(t, MetricValue{Value: 2.5, Unit: "ms"}, entries[1].Metrics[MetricP95Latency])
}

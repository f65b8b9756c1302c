package fiomark

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeHosts(t *testing.T) {
	records := sampleRuns()
	extra := run(6, "h1", "tcp", "D1", "SATA", "16k", "read", 0, 0, 0)
	extra.Timestamp = "2024-02-01T00:00:00Z"
	records = append(records, extra)

	hosts := AnalyzeHosts(records)
	require.Len(t, hosts, 3)

	h1 := hosts[0]
	assert.Equal(t, "h1 - tcp - D1", h1.Label())
	assert.Equal(t, 3, h1.TestCount)
	assert.Equal(t, []string{"NVMe", "SATA"}, h1.DriveTypes)
	assert.Equal(t, []string{"4k", "8k", "16k"}, h1.BlockSizes)
	assert.Equal(t, []string{"randread", "randwrite", "read"}, h1.Patterns)
	require.NotNil(t, h1.FirstTest)
	assert.Equal(t, "2024-02-01T00:00:00Z", h1.FirstTest.Format("2006-01-02T15:04:05Z07:00"))
	assert.Equal(t, 2.0, h1.IOPS["count"], "the zero measurement is not a sample")
	assert.Equal(t, 750.0, h1.IOPS["avg"])
	assert.Equal(t, 2.25, h1.AvgLatency["avg"])
}

func TestAnalyzeHostsUnknownAndEmpty(t *testing.T) {
	assert.Empty(t, AnalyzeHosts(nil))

	r := run(1, "", "", "", "", "4k", "read", 0, 0, 0)
	r.Timestamp = "garbage"
	hosts := AnalyzeHosts([]TestRun{r})
	require.Len(t, hosts, 1)
	assert.Equal(t, "Unknown - Unknown - Unknown", hosts[0].Label())
	assert.Nil(t, hosts[0].FirstTest)
	assert.Nil(t, hosts[0].IOPS)
}

package fiomark

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
)

var csvHeader = []string{
	"series", "hostname", "protocol", "drive_model", "drive_type",
	"block_size", "pattern", "queue_depth", "count",
	"iops", "iops_min", "iops_max", "throughput_mbps",
	"avg_latency_ms", "p70_latency_ms", "p90_latency_ms", "p95_latency_ms", "p99_latency_ms",
	"bandwidth_mbps", "responsiveness",
}

func ToCsv(report Report) ([]byte, error) {
	// array of csv records, one per data point
	csvRecords := [][]string{csvHeader}

	for _, record := range report.Records() {
		s, p := record.Series, record.DataPoint
		csvRecords = append(csvRecords, []string{
			s.Key,
			s.Hostname,
			s.Protocol,
			s.DriveModel,
			s.DriveType,
			p.BlockSize,
			p.Pattern,
			strconv.Itoa(p.QueueDepth),
			strconv.Itoa(p.Count),
			fmt.Sprintf("%.1f", p.IOPS),
			fmt.Sprintf("%.1f", p.IOPSMin),
			fmt.Sprintf("%.1f", p.IOPSMax),
			fmt.Sprintf("%.3f", record.Throughput),
			csvValue(p.AvgLatency, 3),
			csvValue(p.P70Latency, 3),
			csvValue(p.P90Latency, 3),
			csvValue(p.P95Latency, 3),
			csvValue(p.P99Latency, 3),
			csvValue(p.Bandwidth, 2),
			csvValue(p.Responsiveness, 2),
		})
	}

	b := &bytes.Buffer{}
	w := csv.NewWriter(b)
	if err := w.WriteAll(csvRecords); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// missing values stay empty cells
func csvValue(v *float64, precision int) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', precision, 64)
}

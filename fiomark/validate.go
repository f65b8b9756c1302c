package fiomark

import (
	"encoding/json"
	"math"
	"strings"
)

var requiredFields = []string{
	"id", "timestamp", "hostname", "drive_model", "drive_type", "test_name",
	"block_size", "read_write_pattern", "queue_depth", "duration",
	"iops", "avg_latency", "bandwidth",
}

var requiredStringFields = []string{
	"timestamp", "hostname", "drive_model", "drive_type", "test_name", "read_write_pattern",
}

// ValidateRaw checks a decoded JSON value before it is trusted as a test run.
// It never panics and returns false on the first violation.
func ValidateRaw(raw interface{}) bool {
	record, ok := raw.(map[string]interface{})
	if !ok {
		return false
	}

	for _, field := range requiredFields {
		if v, present := record[field]; !present || v == nil {
			return false
		}
	}

	if id, ok := asNumber(record["id"]); !ok || id <= 0 {
		return false
	}

	for _, field := range requiredStringFields {
		s, ok := record[field].(string)
		if !ok || strings.TrimSpace(s) == "" {
			return false
		}
	}

	// block sizes are either unit strings or plain byte counts
	switch bs := record["block_size"].(type) {
	case string:
		if strings.TrimSpace(bs) == "" {
			return false
		}
	default:
		if n, ok := asNumber(bs); !ok || n <= 0 {
			return false
		}
	}

	for _, field := range []string{"queue_depth", "duration"} {
		if n, ok := asNumber(record[field]); !ok || n <= 0 {
			return false
		}
	}

	for _, field := range []string{"iops", "avg_latency", "bandwidth"} {
		if n, ok := asNumber(record[field]); !ok || n < 0 {
			return false
		}
	}

	return true
}

// Valid applies the same rules as ValidateRaw to an already decoded record.
func (r *TestRun) Valid() bool {
	if r == nil || r.ID <= 0 || strings.TrimSpace(r.Timestamp) == "" {
		return false
	}
	for _, s := range []*string{r.Hostname, r.DriveModel, r.DriveType, r.TestName} {
		if s == nil || strings.TrimSpace(*s) == "" {
			return false
		}
	}
	if r.BlockSize == "" || strings.TrimSpace(r.ReadWritePattern) == "" {
		return false
	}
	if r.QueueDepth <= 0 || !isFinite(r.Duration) || r.Duration <= 0 {
		return false
	}
	for _, m := range []*float64{r.IOPS, r.AvgLatency, r.Bandwidth} {
		if m == nil || !isFinite(*m) || *m < 0 {
			return false
		}
	}
	return true
}

func asNumber(v interface{}) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

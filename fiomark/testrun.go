package fiomark

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"github.com/spf13/cast"
)

// UnknownLabel replaces every missing hostname, protocol or drive component
// wherever a record's identity is displayed or used as a grouping key.
const UnknownLabel = "Unknown"

// TestRun is one FIO benchmark execution as delivered by the results backend.
// Nullable backend columns are pointers; nil means "not measured".
type TestRun struct {
	ID         int64   `json:"id"`
	Timestamp  string  `json:"timestamp"`
	TestDate   *string `json:"test_date,omitempty"`
	ConfigUUID *string `json:"config_uuid,omitempty"`
	RunUUID    *string `json:"run_uuid,omitempty"`

	Hostname    *string `json:"hostname"`
	Protocol    *string `json:"protocol"`
	DriveType   *string `json:"drive_type"`
	DriveModel  *string `json:"drive_model"`
	TestName    *string `json:"test_name"`
	Description *string `json:"description,omitempty"`

	BlockSize        BlockSize `json:"block_size"`
	ReadWritePattern string    `json:"read_write_pattern"`
	QueueDepth       int       `json:"queue_depth"`
	NumJobs          *int      `json:"num_jobs"`
	Direct           *int      `json:"direct"`
	Sync             *int      `json:"sync"`
	TestSize         *string   `json:"test_size"`
	Duration         float64   `json:"duration"`

	IOPS       *float64 `json:"iops"`
	AvgLatency *float64 `json:"avg_latency"`
	Bandwidth  *float64 `json:"bandwidth"`
	P70Latency *float64 `json:"p70_latency"`
	P90Latency *float64 `json:"p90_latency"`
	P95Latency *float64 `json:"p95_latency"`
	P99Latency *float64 `json:"p99_latency"`

	FioVersion       *string  `json:"fio_version,omitempty"`
	JobRuntime       *float64 `json:"job_runtime,omitempty"`
	RWMixRead        *int     `json:"rwmixread,omitempty"`
	TotalIOsRead     *int64   `json:"total_ios_read,omitempty"`
	TotalIOsWrite    *int64   `json:"total_ios_write,omitempty"`
	UsrCPU           *float64 `json:"usr_cpu,omitempty"`
	SysCPU           *float64 `json:"sys_cpu,omitempty"`
	IODepth          *int     `json:"iodepth,omitempty"`
	OutputFile       *string  `json:"output_file,omitempty"`
	UploadedFilePath *string  `json:"uploaded_file_path,omitempty"`
	IsLatest         *bool    `json:"is_latest,omitempty"`
}

// BlockSize keeps the unit-bearing display form of a block size ("4k", "1M").
// The backend sends it either as a string or as a plain number of bytes.
type BlockSize string

func (b *BlockSize) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*b = ""
		return nil
	}
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s, err := cast.ToStringE(raw)
	if err != nil {
		return err
	}
	*b = BlockSize(strings.TrimSpace(s))
	return nil
}

func (b BlockSize) String() string {
	return string(b)
}

// SeriesKey is the composite grouping key hostname-protocol-drive_model-drive_type.
func (r *TestRun) SeriesKey() string {
	return strings.Join([]string{
		labelOrUnknown(r.Hostname),
		labelOrUnknown(r.Protocol),
		labelOrUnknown(r.DriveModel),
		labelOrUnknown(r.DriveType),
	}, "-")
}

// seriesID groups like SeriesKey but cannot confuse a dash inside a field
// with the separator.
func (r *TestRun) seriesID() string {
	return strings.Join([]string{
		labelOrUnknown(r.Hostname),
		labelOrUnknown(r.Protocol),
		labelOrUnknown(r.DriveModel),
		labelOrUnknown(r.DriveType),
	}, "\x00")
}

// HostLabel is the hostname with the canonical fallback applied.
func (r *TestRun) HostLabel() string {
	return labelOrUnknown(r.Hostname)
}

func (r *TestRun) blockSizeLabel() string {
	if r.BlockSize == "" {
		return UnknownLabel
	}
	return string(r.BlockSize)
}

func (r *TestRun) patternLabel() string {
	if strings.TrimSpace(r.ReadWritePattern) == "" {
		return UnknownLabel
	}
	return r.ReadWritePattern
}

func labelOrUnknown(s *string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return UnknownLabel
	}
	return *s
}

// finitePositive reports whether a nullable metric qualifies for aggregation.
func finitePositive(v *float64) bool {
	return v != nil && isFinite(*v) && *v > 0
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Float returns a pointer to v. Handy for building records and expectations.
func Float(v float64) *float64 {
	return &v
}

// String returns a pointer to s.
func String(s string) *string {
	return &s
}

// Int returns a pointer to i.
func Int(i int) *int {
	return &i
}

func Int64(i int64) *int64 {
	return &i
}

func Bool(b bool) *bool {
	return &b
}

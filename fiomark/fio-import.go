package fiomark

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// ImportMetadata describes the machine a FIO output was produced on. FIO
// itself does not record it; missing fields become UnknownLabel.
type ImportMetadata struct {
	Hostname    string
	Protocol    string
	DriveType   string
	DriveModel  string
	Description string
	// Timestamp is used when the output carries none. Zero means now.
	Timestamp time.Time
}

const defaultImportProtocol = "Local"

type fioOutput struct {
	Version    string                 `json:"fio version"`
	VersionAlt string                 `json:"fio_version"`
	Timestamp  int64                  `json:"timestamp"`
	Global     map[string]interface{} `json:"global options"`
	UsrCPU     *float64               `json:"usr_cpu"`
	SysCPU     *float64               `json:"sys_cpu"`
	Jobs       []fioJob               `json:"jobs"`
}

type fioJob struct {
	Name          string                 `json:"jobname"`
	Options       map[string]interface{} `json:"job options"`
	OptionsAlt    map[string]interface{} `json:"job_options"`
	Read          fioDirection           `json:"read"`
	Write         fioDirection           `json:"write"`
	JobRuntime    float64                `json:"job_runtime"`
	DurationMilli float64                `json:"duration"`
	UsrCPU        *float64               `json:"usr_cpu"`
	SysCPU        *float64               `json:"sys_cpu"`
}

type fioDirection struct {
	IOPS      float64 `json:"iops"`
	BwBytes   float64 `json:"bw_bytes"`
	BwKiB     float64 `json:"bw"`
	TotalIOs  int64   `json:"total_ios"`
	IOOps     int64   `json:"io_ops"`
	Latency   fioStat `json:"lat_ns"`
	Completed fioStat `json:"clat_ns"`
}

type fioStat struct {
	Mean       float64            `json:"mean"`
	Percentile map[string]float64 `json:"percentile"`
}

func (d fioDirection) ios() int64 {
	if d.TotalIOs > 0 {
		return d.TotalIOs
	}
	return d.IOOps
}

func (d fioDirection) bandwidthBytes() float64 {
	if d.BwBytes > 0 {
		return d.BwBytes
	}
	return d.BwKiB * 1024
}

// IsFioOutput reports whether data looks like `fio --output-format=json`.
func IsFioOutput(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	var shape struct {
		Jobs json.RawMessage `json:"jobs"`
	}
	if json.Unmarshal(trimmed, &shape) != nil {
		return false
	}
	return bytes.HasPrefix(bytes.TrimSpace(shape.Jobs), []byte("["))
}

// ExtractTestRun turns the JSON output of one FIO invocation into a test run.
// Only the first job is used. Read and write iops and bandwidth are summed,
// the average latency is weighted by the number of ios per direction and
// the completion latency percentiles take the worse direction. Latencies are
// converted from ns to ms and bandwidth to MB/s. The returned run has no id.
func ExtractTestRun(data []byte, filename string, meta ImportMetadata) (*TestRun, error) {
	var out fioOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.Wrap(err, "invalid FIO JSON")
	}
	if len(out.Jobs) == 0 {
		return nil, errors.New("no jobs found in FIO data")
	}
	job := out.Jobs[0]
	opts := jobOptions(out.Global, job)

	ts := meta.Timestamp
	if out.Timestamp > 0 {
		ts = time.Unix(out.Timestamp, 0)
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	stamp := ts.UTC().Format(time.RFC3339)

	version := firstNonEmpty(out.Version, out.VersionAlt, "unknown")
	jobRuntime := job.JobRuntime
	durationMilli := job.DurationMilli
	if durationMilli <= 0 {
		durationMilli = jobRuntime
	}
	queueDepth := optionInt(opts, "iodepth", 1)

	r := &TestRun{
		Timestamp:        stamp,
		TestDate:         String(stamp),
		FioVersion:       String(version),
		JobRuntime:       Float(jobRuntime),
		Duration:         math.Floor(durationMilli / 1000),
		TestName:         String(firstNonEmpty(job.Name, "unknown")),
		BlockSize:        BlockSize(optionString(opts, "bs", "4K")),
		ReadWritePattern: optionString(opts, "rw", "read"),
		QueueDepth:       queueDepth,
		IODepth:          Int(queueDepth),
		OutputFile:       String(optionString(opts, "filename", "testfile")),
		NumJobs:          Int(optionInt(opts, "numjobs", 1)),
		Direct:           Int(optionInt(opts, "direct", 0)),
		Sync:             Int(optionInt(opts, "sync", 0)),
		TestSize:         String(optionString(opts, "size", "1M")),
		IOPS:             Float(job.Read.IOPS + job.Write.IOPS),
		AvgLatency:       weightedLatency(job.Read, job.Write),
		Bandwidth:        Float((job.Read.bandwidthBytes() + job.Write.bandwidthBytes()) / (1024 * 1024)),
		P70Latency:       worstPercentile(job, 70),
		P90Latency:       worstPercentile(job, 90),
		P95Latency:       worstPercentile(job, 95),
		P99Latency:       worstPercentile(job, 99),
		TotalIOsRead:     Int64(job.Read.ios()),
		TotalIOsWrite:    Int64(job.Write.ios()),
		UsrCPU:           firstFloat(job.UsrCPU, out.UsrCPU),
		SysCPU:           firstFloat(job.SysCPU, out.SysCPU),
		Protocol:         String(firstNonEmpty(meta.Protocol, defaultImportProtocol)),
		Description:      String(firstNonEmpty(meta.Description, "Imported from "+filename)),
		IsLatest:         Bool(true),
	}
	if v, ok := opts["rwmixread"]; ok {
		if mix, err := cast.ToIntE(v); err == nil {
			r.RWMixRead = Int(mix)
		}
	}
	r.Hostname = String(firstNonEmpty(meta.Hostname, UnknownLabel))
	r.DriveType = String(firstNonEmpty(meta.DriveType, UnknownLabel))
	r.DriveModel = String(firstNonEmpty(meta.DriveModel, UnknownLabel))
	return r, nil
}

// job options override the global section
func jobOptions(global map[string]interface{}, job fioJob) map[string]interface{} {
	opts := map[string]interface{}{}
	for _, src := range []map[string]interface{}{global, job.OptionsAlt, job.Options} {
		for k, v := range src {
			opts[k] = v
		}
	}
	return opts
}

func optionString(opts map[string]interface{}, key, def string) string {
	if s := strings.TrimSpace(cast.ToString(opts[key])); s != "" {
		return s
	}
	return def
}

func optionInt(opts map[string]interface{}, key string, def int) int {
	v, ok := opts[key]
	if !ok {
		return def
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return def
	}
	return n
}

// weightedLatency is nil when neither direction completed an io.
func weightedLatency(read, write fioDirection) *float64 {
	total := read.ios() + write.ios()
	if total == 0 {
		return nil
	}
	ns := (read.Latency.Mean*float64(read.ios()) + write.Latency.Mean*float64(write.ios())) / float64(total)
	return Float(ns / 1e6)
}

func worstPercentile(job fioJob, p int) *float64 {
	key := fmt.Sprintf("%d.000000", p)
	worst := math.Max(job.Read.Completed.Percentile[key], job.Write.Completed.Percentile[key])
	if worst <= 0 {
		return nil
	}
	return Float(worst / 1e6)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstFloat(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

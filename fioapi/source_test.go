package fioapi

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumafield/fio-dashboard/fiomark"
)

func runJSON(id int, host, pattern string) string {
	return fmt.Sprintf(`{"id": %d, "timestamp": "2024-03-01T10:00:00Z", "hostname": %q, "protocol": "tcp",
		"drive_model": "D1", "drive_type": "NVMe", "test_name": "fio", "block_size": "4k",
		"read_write_pattern": %q, "queue_depth": 32, "duration": 60,
		"iops": 100, "avg_latency": 1, "bandwidth": 400}`, id, host, pattern)
}

func writeExport(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runs.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestFileClient(t *testing.T) {
	var runs []string
	for i := 1; i <= 5; i++ {
		host := "h1"
		if i > 3 {
			host = "h2"
		}
		runs = append(runs, runJSON(i, host, "read"))
	}
	client := NewFileClient(writeExport(t, "["+strings.Join(runs, ",")+"]"))
	ctx := context.Background()

	resp, err := client.ListTestRuns(ctx, AuthContext{}, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, resp.Items, 5)
	assert.Len(t, resp.Raw, 5)

	resp, err = client.ListTestRuns(ctx, AuthContext{}, ListOptions{
		Filters: fiomark.FilterState{fiomark.FilterHostnames: {"h1"}},
		Limit:   2,
		Offset:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, *resp.Total)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, int64(2), resp.Items[0].ID)
	require.Len(t, resp.Raw, 2, "raw forms follow the selected items")
	assert.Contains(t, string(resp.Raw[0]), `"id": 2`)

	resp, err = client.ListTestRuns(ctx, AuthContext{}, ListOptions{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, resp.Items)

	options, err := client.FilterOptions(ctx, AuthContext{})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"h1", "h2"}, options["hostnames"])
	assert.Equal(t, []interface{}{"h1 - tcp - D1", "h2 - tcp - D1"}, options["host_disk_combinations"])

	assert.Equal(t, CategoryValidation, CategoryOf(client.DeleteTestRun(ctx, AuthContext{}, 1)))
	_, err = client.CurrentUser(ctx, AuthContext{})
	assert.Equal(t, CategoryNotFound, CategoryOf(err))
}

func TestFileClientErrors(t *testing.T) {
	_, err := NewFileClient(filepath.Join(t.TempDir(), "missing.json")).ListTestRuns(context.Background(), AuthContext{}, ListOptions{})
	assert.Equal(t, CategoryNotFound, CategoryOf(err))

	_, err = NewFileClient(writeExport(t, "not json")).ListTestRuns(context.Background(), AuthContext{}, ListOptions{})
	assert.Equal(t, CategoryValidation, CategoryOf(err))
}

// pagedClient serves n records in pages, as the backend does.
type pagedClient struct {
	FileClient
	n       int
	wrapped bool
	calls   int
}

func (c *pagedClient) ListTestRuns(_ context.Context, _ AuthContext, opts ListOptions) (*TestRunResponse, error) {
	c.calls++
	resp := &TestRunResponse{Kind: KindArray}
	for i := opts.Offset; i < c.n && i < opts.Offset+opts.Limit; i++ {
		resp.Items = append(resp.Items, fiomark.TestRun{ID: int64(i + 1)})
	}
	if c.wrapped {
		total := c.n
		resp.Kind = KindWrapped
		resp.Total = &total
	}
	return resp, nil
}

func TestSourcePaging(t *testing.T) {
	arrays := &pagedClient{n: 25}
	records, err := (&Source{Client: arrays, PageSize: 10}).FetchTestRuns(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, records, 25)
	assert.Equal(t, 3, arrays.calls)

	wrapped := &pagedClient{n: 20, wrapped: true}
	records, err = (&Source{Client: wrapped, PageSize: 10}).FetchTestRuns(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, records, 20)
	assert.Equal(t, 2, wrapped.calls, "the total stops paging without an empty page")

	capped := &pagedClient{n: 100}
	records, err = (&Source{Client: capped, PageSize: 10, MaxRecords: 15}).FetchTestRuns(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, records, 15)
	assert.Equal(t, 2, capped.calls)
}

func TestSourceStrictAndErrors(t *testing.T) {
	path := writeExport(t, "["+runJSON(1, "h1", "read")+`, {"id": 2, "timestamp": "x"}]`)
	source := &Source{Client: NewFileClient(path), Strict: true}
	records, err := source.FetchTestRuns(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(1), records[0].ID)

	source.Strict = false
	records, err = source.FetchTestRuns(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	// the incomplete record stays out of filtered and paged listings too
	path = writeExport(t, "["+runJSON(1, "h1", "read")+`, {"id": 2, "hostname": "h1", "read_write_pattern": "read", "iops": 5}, `+runJSON(3, "h1", "read")+"]")
	source = &Source{Client: NewFileClient(path), Strict: true, PageSize: 2}
	records, err = source.FetchTestRuns(context.Background(), fiomark.FilterState{fiomark.FilterHostnames: {"h1"}})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(1), records[0].ID)
	assert.Equal(t, int64(3), records[1].ID)

	source.Client = NewFileClient(filepath.Join(t.TempDir(), "nope.json"))
	_, err = source.FetchTestRuns(context.Background(), nil)
	assert.Error(t, err)
}

func TestFileClientFioOutputs(t *testing.T) {
	dir := t.TempDir()
	newer := strings.Replace(fioJob, "1709287200", "1709373600", 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte(fioJob), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte(newer), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.json"), []byte(`{"data": []}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not json"), 0o644))

	client := NewFileClient(dir)
	client.Import = fiomark.ImportMetadata{Hostname: "bench", DriveModel: "D1", DriveType: "NVMe"}
	ctx := context.Background()

	resp, err := client.ListTestRuns(ctx, AuthContext{}, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Skipped, "only json files that are not FIO output count")
	require.Len(t, resp.Items, 2)
	require.Len(t, resp.Raw, 2)
	assert.Equal(t, int64(1), resp.Items[0].ID)
	assert.Equal(t, "2024-03-01T10:00:00Z", resp.Items[0].Timestamp)
	assert.False(t, *resp.Items[0].IsLatest)
	assert.True(t, *resp.Items[1].IsLatest)
	for _, r := range resp.Items {
		r := r
		assert.True(t, r.Valid())
		assert.Equal(t, "bench-Local-D1-NVMe", r.SeriesKey())
	}
	decoded, err := DecodeTestRunResponse([]byte("[" + string(resp.Raw[1]) + "]"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), decoded.Items[0].ID)

	latest, err := client.LatestTestRuns(ctx, AuthContext{}, []string{"bench"}, 0)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "2024-03-02T10:00:00Z", latest[0].Timestamp)
	assert.Equal(t, 500.0, *latest[0].Metrics["iops"])
	assert.Equal(t, 4.0, *latest[0].Metrics["avg_latency"])

	latest, err = client.LatestTestRuns(ctx, AuthContext{}, []string{"elsewhere"}, 0)
	require.NoError(t, err)
	assert.Empty(t, latest)

	entries, err := client.PerformanceData(ctx, AuthContext{}, []int64{2}, []fiomark.Metric{fiomark.MetricBandwidth})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, fiomark.MetricValue{Value: 500, Unit: "MB/s"}, entries[0].Metrics[fiomark.MetricBandwidth])
}

func TestFileClientSingleFioOutput(t *testing.T) {
	client := NewFileClient(writeExport(t, fioJob))
	resp, err := client.ListTestRuns(context.Background(), AuthContext{}, ListOptions{})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	r := resp.Items[0]
	assert.Equal(t, int64(1), r.ID)
	assert.Equal(t, fiomark.BlockSize("1M"), r.BlockSize)
	assert.Equal(t, 8, r.QueueDepth)
	assert.Equal(t, fiomark.UnknownLabel, *r.Hostname)
	assert.Equal(t, "Imported from runs.json", *r.Description)

	_, err = NewFileClient(writeExport(t, `{"jobs": [{"read": "bad"}]}`)).ListTestRuns(context.Background(), AuthContext{}, ListOptions{})
	assert.Equal(t, CategoryValidation, CategoryOf(err))
}

func TestFileClientIsReadOnly(t *testing.T) {
	client := NewFileClient(writeExport(t, "["+runJSON(1, "h1", "read")+"]"))
	ctx := context.Background()

	_, err := client.ImportFIO(ctx, AuthContext{}, "a.json", []byte(fioJob))
	assert.Equal(t, CategoryValidation, CategoryOf(err))
	_, err = client.CreateUser(ctx, AuthContext{}, UserCreate{Username: "ci", Password: "secret", Role: RoleUploader})
	assert.Equal(t, CategoryValidation, CategoryOf(err))
	_, err = client.UpdateUser(ctx, AuthContext{}, "ci", UserUpdate{Role: fiomark.String(RoleAdmin)})
	assert.Equal(t, CategoryValidation, CategoryOf(err))
	assert.Equal(t, CategoryValidation, CategoryOf(client.DeleteUser(ctx, AuthContext{}, "ci")))
	_, err = client.GetUser(ctx, AuthContext{}, "ci")
	assert.Equal(t, CategoryNotFound, CategoryOf(err))
}

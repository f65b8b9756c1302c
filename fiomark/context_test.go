package fiomark

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	records []TestRun
	err     error
}

func (s *staticSource) FetchTestRuns(context.Context, FilterState) ([]TestRun, error) {
	return s.records, s.err
}

func newTestContext(t *testing.T, source RecordSource) (*DashboardContext, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	c := &DashboardContext{
		SourceName:    "unit",
		Source:        source,
		Store:         NewFsStore(&FsStoreConfig{RootPath: t.TempDir()}),
		BucketName:    "exports",
		Prefix:        "run-1",
		InfoLogger:    logrus.NewEntry(logger),
		WarningLogger: logrus.NewEntry(logger),
	}
	require.NoError(t, c.Start())
	return c, hook
}

func TestDashboardContextStart(t *testing.T) {
	c := &DashboardContext{}
	assert.Error(t, c.Start())

	c = &DashboardContext{Source: &staticSource{}, Filters: FilterState{"bogus": {"x"}}}
	assert.Error(t, c.Start())

	c = &DashboardContext{Source: &staticSource{}, Store: NewFsStore(&FsStoreConfig{})}
	assert.Error(t, c.Start())

	c = &DashboardContext{Source: &staticSource{}}
	require.NoError(t, c.Start())
	assert.Equal(t, 4, c.Concurrency)
	assert.NotNil(t, c.InfoLogger)
}

func TestDashboardContextRefreshAndPublish(t *testing.T) {
	c, hook := newTestContext(t, &staticSource{records: sampleRuns()})

	d, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, d.MatchedRecords)
	assert.Equal(t, "unit", c.Report.Source)
	assert.Same(t, d, c.Report.Dashboard)
	assert.Equal(t, "dashboard refreshed", hook.LastEntry().Message)

	artifacts, err := BuildArtifacts(c.Report)
	require.NoError(t, err)
	require.Len(t, artifacts, 9)
	assert.Equal(t, "dashboard.json", artifacts[0].Key)

	var uploaded atomic.Int32
	require.NoError(t, c.Publish(context.Background(), artifacts, func() { uploaded.Add(1) }))
	assert.Equal(t, int32(len(artifacts)), uploaded.Load())

	body, err := c.ReadArtifact(context.Background(), "dashboard.json")
	require.NoError(t, err)
	report, err := FromJsonByteArray(body)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Dashboard.MatchedRecords)

	table, err := c.ReadArtifact(context.Background(), "dashboard.csv")
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewReader(table)).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 1+5)
	assert.Equal(t, csvHeader, rows[0])

	_, err = c.ReadArtifact(context.Background(), "charts/iops.json")
	assert.NoError(t, err)

	assert.NoError(t, c.Verify(context.Background(), artifacts))
	tampered := append([]Artifact{}, artifacts...)
	tampered[0].Body = []byte("{}")
	assert.Error(t, c.Verify(context.Background(), tampered))
	assert.Error(t, c.Verify(context.Background(), artifacts[1:]))
}

// rejectingStore fails every upload of one key.
type rejectingStore struct {
	ArtifactStore
	reject string
}

func (s *rejectingStore) PutObject(ctx context.Context, bucketName, key string, reader *bytes.Reader, contentType string) (Timing, error) {
	if key == s.reject {
		return Timing{}, errors.New("quota exceeded")
	}
	return s.ArtifactStore.PutObject(ctx, bucketName, key, reader, contentType)
}

func TestPublishRemovesPartialExport(t *testing.T) {
	c, _ := newTestContext(t, &staticSource{records: sampleRuns()})
	root := t.TempDir()
	c.Store = &rejectingStore{ArtifactStore: NewFsStore(&FsStoreConfig{RootPath: root}), reject: "run-1/dashboard.csv"}
	c.Concurrency = 1

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)
	artifacts, err := BuildArtifacts(c.Report)
	require.NoError(t, err)

	err = c.Publish(context.Background(), artifacts, nil)
	assert.EqualError(t, err, "quota exceeded")
	_, err = os.Stat(filepath.Join(root, "exports", "run-1", "dashboard.json"))
	assert.True(t, os.IsNotExist(err), "the uploaded report is removed again")
	_, err = c.ReadArtifact(context.Background(), "dashboard.json")
	assert.Error(t, err)
}

func TestDashboardContextRefreshErrors(t *testing.T) {
	c, _ := newTestContext(t, &staticSource{err: errors.New("boom")})
	_, err := c.Refresh(context.Background())
	assert.EqualError(t, err, "fetching test runs: boom")

	c, hook := newTestContext(t, &staticSource{records: nil})
	d, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, d.Empty)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestPublishWithoutStore(t *testing.T) {
	c := &DashboardContext{Source: &staticSource{}}
	require.NoError(t, c.Start())
	assert.Error(t, c.Publish(context.Background(), nil, nil))

	_, err := BuildArtifacts(Report{})
	assert.Error(t, err)
}

func TestFsStore(t *testing.T) {
	root := t.TempDir()
	store := NewFsStore(&FsStoreConfig{RootPath: root})
	ctx := context.Background()

	_, err := store.CreateBucket(ctx, "b")
	require.NoError(t, err)

	_, err = store.PutObject(ctx, "b", "nested/dir/file.txt", bytes.NewReader([]byte("hello")), "text/plain")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "b", "nested", "dir", "file.txt"))

	_, rc, err := store.GetObject(ctx, "b", "nested/dir/file.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = store.DeleteObject(ctx, "b", "nested/dir/file.txt")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "b", "nested", "dir", "file.txt"))
	assert.True(t, os.IsNotExist(err))

	_, err = store.DeleteObject(ctx, "b", "nested/dir/file.txt")
	assert.NoError(t, err, "deleting twice is not an error")

	_, _, err = store.GetObject(ctx, "b", "missing")
	assert.Error(t, err)
}

func TestTimingUnassigned(t *testing.T) {
	timing := Timing{DNSLookup: 1, TCPConnection: 2, TLSHandshake: 3, ServerProcessing: 4, Total: 20}
	assert.EqualValues(t, 10, timing.Unassigned())
	assert.Contains(t, timing.String(), "Total: 0 ms")
}

package fiomark

import (
	"bytes"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// RecordSource delivers the raw test runs a dashboard is computed from.
type RecordSource interface {
	FetchTestRuns(ctx context.Context, filters FilterState) ([]TestRun, error)
}

// the context for an export includes everything that's needed to fetch, derive and publish a dashboard
type DashboardContext struct {
	Description string
	SourceName  string
	Source      RecordSource
	Filters     FilterState
	Options     DashboardOptions

	// Store is optional. Without it the export is only written locally.
	Store      ArtifactStore
	BucketName string
	Prefix     string
	// Concurrency bounds parallel uploads.
	Concurrency int

	Report        Report
	InfoLogger    *logrus.Entry
	WarningLogger *logrus.Entry
}

// Start checks the context and fills in defaults.
func (c *DashboardContext) Start() error {
	if c.Source == nil {
		return errors.New("no record source configured")
	}
	if err := c.Filters.Validate(); err != nil {
		return err
	}
	if _, err := ParseNormalizationMethod(string(c.Options.Normalization)); err != nil {
		return err
	}
	if c.Store != nil && c.BucketName == "" {
		return errors.New("a bucket or folder name is required to publish")
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.InfoLogger == nil {
		c.InfoLogger = logrus.NewEntry(logrus.StandardLogger())
	}
	if c.WarningLogger == nil {
		c.WarningLogger = c.InfoLogger
	}
	return nil
}

// Refresh fetches the records and rebuilds the report from scratch.
func (c *DashboardContext) Refresh(ctx context.Context) (*Dashboard, error) {
	start := time.Now()
	records, err := c.Source.FetchTestRuns(ctx, c.Filters)
	if err != nil {
		return nil, errors.Wrap(err, "fetching test runs")
	}
	fetched := time.Since(start)

	dashboard, err := BuildDashboard(records, c.Filters, c.Options)
	if err != nil {
		return nil, err
	}

	c.Report = Report{
		Source:      c.SourceName,
		Description: c.Description,
		ClientEnv:   clientEnv(),
		DateTimeUTC: time.Now().UTC().Format(time.RFC3339),
		Dashboard:   dashboard,
	}

	entry := c.InfoLogger.WithFields(logrus.Fields{
		"records":  dashboard.TotalRecords,
		"matched":  dashboard.MatchedRecords,
		"series":   len(dashboard.Aggregated.Series),
		"fetch_ms": fetched.Milliseconds(),
		"total_ms": time.Since(start).Milliseconds(),
	})
	if dashboard.InvalidRecords > 0 {
		c.WarningLogger.WithField("invalid", dashboard.InvalidRecords).Warn("test runs failed validation")
	}
	if dashboard.Empty {
		entry.Warn(dashboard.Message)
	} else {
		entry.Info("dashboard refreshed")
	}
	return dashboard, nil
}

func clientEnv() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return "Application: " + filepath.Base(os.Args[0]) + ", Host: " + hostname + ", OS: " + runtime.GOOS
}

const reportArtifactKey = "dashboard.json"

// Artifact is one file of an export.
type Artifact struct {
	Key         string
	ContentType string
	Body        []byte
}

// BuildArtifacts renders the report as the set of files that get published.
func BuildArtifacts(report Report) ([]Artifact, error) {
	if report.Dashboard == nil {
		return nil, errors.New("report has no dashboard")
	}

	full, err := ToJson(report)
	if err != nil {
		return nil, errors.Wrap(err, "encoding report")
	}
	table, err := ToCsv(report)
	if err != nil {
		return nil, errors.Wrap(err, "encoding csv")
	}
	artifacts := []Artifact{
		{Key: reportArtifactKey, ContentType: "application/json", Body: full},
		{Key: "dashboard.csv", ContentType: "text/csv", Body: table},
	}

	parts := map[string]interface{}{
		"heatmap.json":    report.Dashboard.Heatmap,
		"hosts.json":      report.Dashboard.Hosts,
		"aggregated.json": report.Dashboard.Aggregated,
	}
	for _, name := range ChartNames {
		parts[path.Join("charts", name+".json")] = report.Dashboard.Charts[name]
	}
	for _, key := range sortedKeys(keySet(parts)) {
		body, err := ToJson(parts[key])
		if err != nil {
			return nil, errors.Wrapf(err, "encoding %s", key)
		}
		artifacts = append(artifacts, Artifact{Key: key, ContentType: "application/json", Body: body})
	}
	return artifacts, nil
}

func keySet(m map[string]interface{}) map[string]struct{} {
	set := make(map[string]struct{}, len(m))
	for k := range m {
		set[k] = struct{}{}
	}
	return set
}

// Publish uploads the artifacts below the context's prefix. done is called
// once per finished upload and may be nil. When an upload fails the files
// already uploaded are removed again, so a prefix never holds half an export.
func (c *DashboardContext) Publish(ctx context.Context, artifacts []Artifact, done func()) error {
	if c.Store == nil {
		return errors.New("no artifact store configured")
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.Concurrency)

	var mu sync.Mutex
	var uploaded []string
	for _, a := range artifacts {
		a := a
		g.Go(func() error {
			key := path.Join(c.Prefix, a.Key)
			timing, err := c.Store.PutObject(gctx, c.BucketName, key, bytes.NewReader(a.Body), a.ContentType)
			if err != nil {
				c.WarningLogger.WithError(err).WithField("key", key).Warn("upload failed")
				return err
			}
			mu.Lock()
			uploaded = append(uploaded, key)
			mu.Unlock()
			c.InfoLogger.WithFields(logrus.Fields{
				"key":   key,
				"bytes": len(a.Body),
				"size":  ByteFormat(float64(len(a.Body))),
			}).Debugf("uploaded (%s)", timing)
			if done != nil {
				done()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.cleanupObjects(context.WithoutCancel(ctx), uploaded)
		return err
	}
	return nil
}

func (c *DashboardContext) cleanupObjects(ctx context.Context, keys []string) {
	for _, key := range keys {
		if _, err := c.Store.DeleteObject(ctx, c.BucketName, key); err != nil {
			c.WarningLogger.WithError(err).WithField("key", key).Warn("cannot remove partial upload")
		}
	}
	if len(keys) > 0 {
		c.InfoLogger.WithField("objects", len(keys)).Info("removed partial export")
	}
}

// ReadArtifact fetches a published file back from the store.
func (c *DashboardContext) ReadArtifact(ctx context.Context, key string) ([]byte, error) {
	_, body, err := c.Store.GetObject(ctx, c.BucketName, path.Join(c.Prefix, key))
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

// Verify reads the published report back and checks it matches what was
// uploaded and still decodes as a report.
func (c *DashboardContext) Verify(ctx context.Context, artifacts []Artifact) error {
	for _, a := range artifacts {
		if a.Key != reportArtifactKey {
			continue
		}
		body, err := c.ReadArtifact(ctx, a.Key)
		if err != nil {
			return errors.Wrap(err, "reading back the published report")
		}
		if !bytes.Equal(body, a.Body) {
			return errors.Errorf("published %s differs from the export", a.Key)
		}
		if _, err := FromJsonByteArray(body); err != nil {
			return err
		}
		return nil
	}
	return errors.Errorf("export has no %s", reportArtifactKey)
}

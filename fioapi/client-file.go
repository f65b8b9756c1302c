package fioapi

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/lumafield/fio-dashboard/fiomark"
)

// FileClient serves test runs from disk. The path is either an exported
// listing, the JSON output of a single FIO run, or a folder of FIO outputs.
// It is read-only; the path is re-read on every call so edits show up on refresh.
type FileClient struct {
	path string
	// Import describes the machine raw FIO outputs were produced on.
	Import fiomark.ImportMetadata
}

func NewFileClient(path string) *FileClient {
	return &FileClient{path: path}
}

func (c *FileClient) Path() string {
	return c.path
}

func (c *FileClient) load() (*TestRunResponse, error) {
	info, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newError(CategoryNotFound, err)
		}
		return nil, newError(CategoryUnknown, err)
	}
	if info.IsDir() {
		return c.loadFioDir()
	}

	body, err := os.ReadFile(c.path)
	if err != nil {
		return nil, newError(CategoryUnknown, err)
	}
	if fiomark.IsFioOutput(body) {
		meta := c.Import
		if meta.Timestamp.IsZero() {
			meta.Timestamp = info.ModTime()
		}
		r, err := fiomark.ExtractTestRun(body, filepath.Base(c.path), meta)
		if err != nil {
			return nil, newError(CategoryValidation, errors.Wrapf(err, "reading %s", c.path))
		}
		return fioResponse([]fiomark.TestRun{*r}, 0)
	}
	resp, err := DecodeTestRunResponse(body)
	if err != nil {
		return nil, newError(CategoryValidation, errors.Wrapf(err, "reading %s", c.path))
	}
	return resp, nil
}

// loadFioDir turns every FIO output in the folder into a test run, numbered
// in file name order. Other files are skipped.
func (c *FileClient) loadFioDir() (*TestRunResponse, error) {
	paths, err := filepath.Glob(filepath.Join(c.path, "*.json"))
	if err != nil {
		return nil, newError(CategoryUnknown, err)
	}
	sort.Strings(paths)

	var runs []fiomark.TestRun
	skipped := 0
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			skipped++
			continue
		}
		body, err := os.ReadFile(p)
		if err != nil || !fiomark.IsFioOutput(body) {
			skipped++
			continue
		}
		meta := c.Import
		if meta.Timestamp.IsZero() {
			meta.Timestamp = info.ModTime()
		}
		r, err := fiomark.ExtractTestRun(body, filepath.Base(p), meta)
		if err != nil {
			skipped++
			continue
		}
		runs = append(runs, *r)
	}
	return fioResponse(runs, skipped)
}

func fioResponse(runs []fiomark.TestRun, skipped int) (*TestRunResponse, error) {
	raw := make([]json.RawMessage, len(runs))
	for i := range runs {
		runs[i].ID = int64(i + 1)
	}
	fiomark.MarkLatest(runs)
	for i := range runs {
		b, err := json.Marshal(runs[i])
		if err != nil {
			return nil, newError(CategoryUnknown, err)
		}
		raw[i] = b
	}
	total := len(runs)
	return &TestRunResponse{
		Kind:    KindArray,
		Items:   runs,
		Total:   &total,
		Raw:     raw,
		Skipped: skipped,
	}, nil
}

func (c *FileClient) ListTestRuns(_ context.Context, _ AuthContext, opts ListOptions) (*TestRunResponse, error) {
	if err := opts.Filters.Validate(); err != nil {
		return nil, newError(CategoryValidation, err)
	}
	resp, err := c.load()
	if err != nil {
		return nil, err
	}

	// items and their raw forms are selected together so strict callers
	// can still validate a filtered page
	indexes := fiomark.MatchingIndexes(resp.Items, opts.Filters)
	total := len(indexes)
	if opts.Offset > 0 {
		if opts.Offset >= len(indexes) {
			indexes = nil
		} else {
			indexes = indexes[opts.Offset:]
		}
	}
	if opts.Limit > 0 && opts.Limit < len(indexes) {
		indexes = indexes[:opts.Limit]
	}

	matched := make([]fiomark.TestRun, 0, len(indexes))
	raw := make([]json.RawMessage, 0, len(indexes))
	for _, i := range indexes {
		matched = append(matched, resp.Items[i])
		if i < len(resp.Raw) {
			raw = append(raw, resp.Raw[i])
		}
	}
	return &TestRunResponse{
		Kind:    KindWrapped,
		Items:   matched,
		Total:   &total,
		Raw:     raw,
		Skipped: resp.Skipped,
	}, nil
}

func (c *FileClient) FilterOptions(context.Context, AuthContext) (map[string][]interface{}, error) {
	resp, err := c.load()
	if err != nil {
		return nil, err
	}
	options := map[string][]interface{}{}
	for category, values := range fiomark.FilterOptions(resp.Items) {
		options[string(category)] = toInterfaces(values)
	}
	options["host_disk_combinations"] = toInterfaces(fiomark.HostDiskCombinations(resp.Items))
	return options, nil
}

func toInterfaces(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

var errReadOnly = errors.New("file sources are read-only")

func (c *FileClient) BulkUpdate(context.Context, AuthContext, []int64, TestRunUpdate) (*BulkUpdateResult, error) {
	return nil, newError(CategoryValidation, errReadOnly)
}

func (c *FileClient) DeleteTestRun(context.Context, AuthContext, int64) error {
	return newError(CategoryValidation, errReadOnly)
}

func (c *FileClient) ImportFIO(context.Context, AuthContext, string, []byte) (*ImportResult, error) {
	return nil, newError(CategoryValidation, errReadOnly)
}

func (c *FileClient) PerformanceData(_ context.Context, _ AuthContext, ids []int64, metrics []fiomark.Metric) ([]fiomark.PerformanceEntry, error) {
	resp, err := c.load()
	if err != nil {
		return nil, err
	}
	return fiomark.PerformanceData(resp.Items, ids, metrics), nil
}

func (c *FileClient) LatestTestRuns(_ context.Context, _ AuthContext, hostnames []string, limit int) ([]LatestRun, error) {
	resp, err := c.load()
	if err != nil {
		return nil, err
	}
	records := resp.Items
	if len(hostnames) > 0 {
		records = fiomark.ApplyFilters(records, fiomark.FilterState{fiomark.FilterHostnames: hostnames})
	}
	latest := fiomark.LatestRuns(records)
	if n := latestLimit(limit); len(latest) > n {
		latest = latest[:n]
	}
	out := make([]LatestRun, 0, len(latest))
	for _, r := range latest {
		out = append(out, NewLatestRun(r))
	}
	return out, nil
}

var errNoUsers = errors.New("file sources have no users")

func (c *FileClient) CurrentUser(context.Context, AuthContext) (*User, error) {
	return nil, newError(CategoryNotFound, errNoUsers)
}

func (c *FileClient) ListUsers(context.Context, AuthContext) ([]User, error) {
	return nil, newError(CategoryNotFound, errNoUsers)
}

func (c *FileClient) GetUser(context.Context, AuthContext, string) (*User, error) {
	return nil, newError(CategoryNotFound, errNoUsers)
}

func (c *FileClient) CreateUser(context.Context, AuthContext, UserCreate) (*User, error) {
	return nil, newError(CategoryValidation, errReadOnly)
}

func (c *FileClient) UpdateUser(context.Context, AuthContext, string, UserUpdate) (*User, error) {
	return nil, newError(CategoryValidation, errReadOnly)
}

func (c *FileClient) DeleteUser(context.Context, AuthContext, string) error {
	return newError(CategoryValidation, errReadOnly)
}

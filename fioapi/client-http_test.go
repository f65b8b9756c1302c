package fioapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumafield/fio-dashboard/fiomark"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*HTTPClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewHTTPClient(&HTTPClientConfig{
		BaseURL:         server.URL,
		Timeout:         2 * time.Second,
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
	})
	require.NoError(t, err)
	return client, server
}

func TestNewHTTPClientRejectsBadURL(t *testing.T) {
	_, err := NewHTTPClient(&HTTPClientConfig{BaseURL: "ftp://example.com"})
	assert.Error(t, err)
	_, err = NewHTTPClient(&HTTPClientConfig{BaseURL: "://"})
	assert.Error(t, err)
}

func TestListTestRunsForwardsAuthAndFilters(t *testing.T) {
	var got *http.Request
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		fmt.Fprint(w, `{"data": [`+validRun+`], "total": 1}`)
	})

	resp, err := client.ListTestRuns(context.Background(),
		AuthContext{Username: "alice", Password: "pw", RequestID: "req-1"},
		ListOptions{
			Filters: fiomark.FilterState{fiomark.FilterHostnames: {"h1", "h2"}, fiomark.FilterPatterns: {"read"}},
			Limit:   5000,
			Offset:  10,
		})
	require.NoError(t, err)
	assert.Equal(t, KindWrapped, resp.Kind)
	assert.Len(t, resp.Items, 1)

	require.NotNil(t, got)
	assert.Equal(t, "/api/test-runs/", got.URL.Path)
	assert.Equal(t, "h1,h2", got.URL.Query().Get("hostnames"))
	assert.Equal(t, "read", got.URL.Query().Get("patterns"))
	assert.Equal(t, "1000", got.URL.Query().Get("limit"))
	assert.Equal(t, "10", got.URL.Query().Get("offset"))
	assert.Equal(t, "req-1", got.Header.Get("X-Request-ID"))
	user, pass, ok := got.BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "alice", user)
	assert.Equal(t, "pw", pass)
}

func TestRequestsWithoutCredentials(t *testing.T) {
	var headers http.Header
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		fmt.Fprint(w, `[]`)
	})
	resp, err := client.ListTestRuns(context.Background(), AuthContext{}, ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, KindArray, resp.Kind)
	assert.Empty(t, headers.Get("Authorization"))
	assert.NotEmpty(t, headers.Get("X-Request-ID"), "a request id is generated")

	_, err = client.ListTestRuns(context.Background(), AuthContext{},
		ListOptions{Filters: fiomark.FilterState{"colour": {"red"}}})
	assert.Equal(t, CategoryValidation, CategoryOf(err))
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `[`+validRun+`]`)
	})

	var mu sync.Mutex
	var observed []RequestMetrics
	client.Observer = func(m RequestMetrics) {
		mu.Lock()
		defer mu.Unlock()
		observed = append(observed, m)
	}

	resp, err := client.ListTestRuns(context.Background(), AuthContext{Token: "t"}, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, resp.Items, 1)
	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, observed, 3)
	assert.Equal(t, CategoryServer, observed[0].Category)
	assert.Equal(t, http.StatusOK, observed[2].StatusCode)
	assert.Equal(t, 3, observed[2].Attempt)
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"detail": "Failed to retrieve test runs"}`)
	})

	_, err := client.ListTestRuns(context.Background(), AuthContext{}, ListOptions{})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load(), "one attempt plus two retries")

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, CategoryServer, apiErr.Category)
	assert.Equal(t, "Failed to retrieve test runs", apiErr.Detail)
	assert.Equal(t, http.MethodGet, apiErr.Method)
	assert.NotEmpty(t, apiErr.RequestID)
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"detail": "Invalid credentials"}`)
	})

	_, err := client.ListTestRuns(context.Background(), AuthContext{Username: "x", Password: "y"}, ListOptions{})
	assert.Equal(t, CategoryAuthentication, CategoryOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestNetworkErrors(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	base := server.URL
	server.Close()

	client, err := NewHTTPClient(&HTTPClientConfig{BaseURL: base, MaxRetries: 1, InitialInterval: time.Millisecond})
	require.NoError(t, err)
	_, err = client.ListTestRuns(context.Background(), AuthContext{}, ListOptions{})
	assert.Equal(t, CategoryNetwork, CategoryOf(err))
}

func TestMalformedSuccessBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `"surprise"`)
	})
	_, err := client.ListTestRuns(context.Background(), AuthContext{}, ListOptions{})
	assert.Equal(t, CategoryUnknown, CategoryOf(err))
}

func TestAdminOperations(t *testing.T) {
	var bulkBody map[string]interface{}
	var deleted string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/api/test-runs/bulk":
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &bulkBody)
			fmt.Fprint(w, `{"message": "Successfully updated 2 test runs", "updated": 2, "failed": 0}`)
		case r.Method == http.MethodDelete:
			deleted = r.URL.Path
			fmt.Fprint(w, `{"message": "deleted"}`)
		case r.URL.Path == "/api/users/me":
			fmt.Fprint(w, `{"username": "admin", "role": "admin"}`)
		case r.URL.Path == "/api/users/":
			fmt.Fprint(w, `[{"username": "admin", "role": "admin"}, {"username": "ci", "role": "uploader"}]`)
		case r.URL.Path == "/api/filters":
			fmt.Fprint(w, `{"hostnames": ["h1"], "queue_depths": [1, 32]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()
	auth := AuthContext{Username: "admin", Password: "pw"}

	result, err := client.BulkUpdate(ctx, auth, []int64{3, 4}, TestRunUpdate{Hostname: fiomark.String("h9")})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Updated)
	assert.Equal(t, []interface{}{3.0, 4.0}, bulkBody["test_run_ids"])
	assert.Equal(t, map[string]interface{}{"hostname": "h9"}, bulkBody["updates"])

	_, err = client.BulkUpdate(ctx, auth, []int64{3}, TestRunUpdate{})
	assert.Equal(t, CategoryValidation, CategoryOf(err))
	_, err = client.BulkUpdate(ctx, auth, nil, TestRunUpdate{Hostname: fiomark.String("h9")})
	assert.Equal(t, CategoryValidation, CategoryOf(err))

	require.NoError(t, client.DeleteTestRun(ctx, auth, 17))
	assert.Equal(t, "/api/test-runs/17", deleted)

	me, err := client.CurrentUser(ctx, auth)
	require.NoError(t, err)
	assert.True(t, me.Admin())

	users, err := client.ListUsers(ctx, auth)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	options, err := client.FilterOptions(ctx, auth)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"h1"}, options["hostnames"])
}

const fioJob = `{"fio version": "fio-3.36", "timestamp": 1709287200, "jobs": [{"jobname": "seq",
	"job options": {"bs": "1M", "rw": "read", "iodepth": "8"}, "job_runtime": 30000,
	"read": {"iops": 500, "bw_bytes": 524288000, "total_ios": 15000, "lat_ns": {"mean": 4000000}}}]}`

func TestImportFIO(t *testing.T) {
	var filename, uploaded, contentType string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/import/" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		contentType = r.Header.Get("Content-Type")
		file, header, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		body, _ := io.ReadAll(file)
		filename, uploaded = header.Filename, string(body)
		fmt.Fprintf(w, `{"message": "FIO data imported successfully", "test_run_id": 42, "filename": %q}`, header.Filename)
	})
	ctx := context.Background()

	result, err := client.ImportFIO(ctx, AuthContext{Token: "t"}, "results/seq-read.json", []byte(fioJob))
	require.NoError(t, err)
	assert.Equal(t, int64(42), result.TestRunID)
	assert.Equal(t, "seq-read.json", filename)
	assert.Equal(t, fioJob, uploaded)
	assert.Contains(t, contentType, "multipart/form-data; boundary=")

	_, err = client.ImportFIO(ctx, AuthContext{}, "seq-read.txt", []byte(fioJob))
	assert.Equal(t, CategoryValidation, CategoryOf(err))
	_, err = client.ImportFIO(ctx, AuthContext{}, "runs.json", []byte(`[`+validRun+`]`))
	assert.Equal(t, CategoryValidation, CategoryOf(err))
}

func TestPerformanceDataAndLatest(t *testing.T) {
	var queries sync.Map
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		queries.Store(r.URL.Path, r.URL.Query())
		switch r.URL.Path {
		case "/api/test-runs/performance-data":
			fmt.Fprint(w, `{"performance_data": [{"test_run_id": 3, "metrics": {"iops": {"value": 800, "unit": "IOPS"}}}]}`)
		case "/api/time-series/latest":
			fmt.Fprint(w, `{"data": [{"timestamp": "2024-03-01T10:00:00", "hostname": "h1", "protocol": "tcp",
				"drive_model": "D1", "drive_type": "NVMe", "block_size": "4k", "read_write_pattern": "read",
				"queue_depth": 32, "metrics": {"iops": 1000, "avg_latency": 1.5, "bandwidth": null}}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	entries, err := client.PerformanceData(ctx, AuthContext{}, []int64{3, 5}, []fiomark.Metric{fiomark.MetricIOPS, fiomark.MetricBandwidth})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, fiomark.MetricValue{Value: 800, Unit: "IOPS"}, entries[0].Metrics[fiomark.MetricIOPS])
	q, _ := queries.Load("/api/test-runs/performance-data")
	assert.Equal(t, "3,5", q.(url.Values).Get("test_run_ids"))
	assert.Equal(t, "iops,bandwidth", q.(url.Values).Get("metric_types"))

	_, err = client.PerformanceData(ctx, AuthContext{}, nil, []fiomark.Metric{fiomark.MetricIOPS})
	assert.Equal(t, CategoryValidation, CategoryOf(err))

	latest, err := client.LatestTestRuns(ctx, AuthContext{}, []string{"h1", "h2"}, 5000)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "h1", *latest[0].Hostname)
	assert.Equal(t, 1000.0, *latest[0].Metrics["iops"])
	assert.Nil(t, latest[0].Metrics["bandwidth"])
	q, _ = queries.Load("/api/time-series/latest")
	assert.Equal(t, "h1,h2", q.(url.Values).Get("hostnames"))
	assert.Equal(t, "1000", q.(url.Values).Get("limit"))
}

func TestUserManagement(t *testing.T) {
	var calls []string
	var bodies []map[string]interface{}
	var mu sync.Mutex
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		var body map[string]interface{}
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			_ = json.Unmarshal(raw, &body)
		}
		bodies = append(bodies, body)
		switch {
		case r.URL.Path == "/api/users/ghost":
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"detail": "User not found"}`)
		case r.Method == http.MethodDelete:
			fmt.Fprint(w, `{"message": "User 'ci' deleted successfully"}`)
		case r.Method == http.MethodPut:
			fmt.Fprint(w, `{"username": "ci", "role": "admin"}`)
		default:
			fmt.Fprint(w, `{"username": "ci", "role": "uploader"}`)
		}
	})
	ctx := context.Background()
	auth := AuthContext{Username: "admin", Password: "pw"}

	created, err := client.CreateUser(ctx, auth, UserCreate{Username: "ci", Password: "secret", Role: RoleUploader})
	require.NoError(t, err)
	assert.False(t, created.Admin())

	got, err := client.GetUser(ctx, auth, "ci")
	require.NoError(t, err)
	assert.Equal(t, "ci", got.Username)

	updated, err := client.UpdateUser(ctx, auth, "ci", UserUpdate{Role: fiomark.String(RoleAdmin)})
	require.NoError(t, err)
	assert.True(t, updated.Admin())

	require.NoError(t, client.DeleteUser(ctx, auth, "ci"))

	_, err = client.GetUser(ctx, auth, "ghost")
	assert.Equal(t, CategoryNotFound, CategoryOf(err))

	assert.Equal(t, []string{
		"POST /api/users/",
		"GET /api/users/ci",
		"PUT /api/users/ci",
		"DELETE /api/users/ci",
		"GET /api/users/ghost",
	}, calls)
	assert.Equal(t, map[string]interface{}{"username": "ci", "password": "secret", "role": "uploader"}, bodies[0])
	assert.Equal(t, map[string]interface{}{"role": "admin"}, bodies[2], "unchanged fields are not sent")
}

func TestUserManagementValidation(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	})
	ctx := context.Background()

	for _, user := range []UserCreate{
		{Username: "", Password: "secret", Role: RoleAdmin},
		{Username: "bad name", Password: "secret", Role: RoleAdmin},
		{Username: "ci", Password: "abc", Role: RoleAdmin},
		{Username: "ci", Password: "secret", Role: "root"},
	} {
		_, err := client.CreateUser(ctx, AuthContext{}, user)
		assert.Equal(t, CategoryValidation, CategoryOf(err), user.Username)
	}

	_, err := client.UpdateUser(ctx, AuthContext{}, "ci", UserUpdate{})
	assert.Equal(t, CategoryValidation, CategoryOf(err))
	_, err = client.UpdateUser(ctx, AuthContext{}, "ci", UserUpdate{Password: fiomark.String("x")})
	assert.Equal(t, CategoryValidation, CategoryOf(err))
	assert.Equal(t, CategoryValidation, CategoryOf(client.DeleteUser(ctx, AuthContext{}, "../admin")))
}

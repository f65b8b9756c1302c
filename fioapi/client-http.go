package fioapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
	"github.com/tcnksm/go-httpstat"

	"github.com/lumafield/fio-dashboard/fiomark"
)

type HTTPClientConfig struct {
	BaseURL   string
	UserAgent string
	Insecure  bool
	// Timeout bounds a single attempt, including reading the body.
	Timeout         time.Duration
	MaxRetries      int
	InitialInterval time.Duration
}

// RequestMetrics describes one finished attempt.
type RequestMetrics struct {
	Method     string
	Route      string
	StatusCode int
	Category   Category
	Attempt    int
	Timing     fiomark.Timing
}

// HTTPClient talks to the FIO analyzer REST backend.
type HTTPClient struct {
	baseURL    *url.URL
	httpClient *http.Client
	cfg        HTTPClientConfig

	Logger *logrus.Entry
	// Observer, when set, is told about every attempt.
	Observer func(RequestMetrics)
}

func NewHTTPClient(cfg *HTTPClientConfig) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid backend url %q", cfg.BaseURL)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.Errorf("backend url %q must be http or https", cfg.BaseURL)
	}

	c := *cfg
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialInterval == 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.UserAgent == "" {
		c.UserAgent = "fio-dashboard"
	}

	return &HTTPClient{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: c.Timeout,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: c.Insecure},
			},
		},
		cfg:    c,
		Logger: logrus.NewEntry(logrus.StandardLogger()),
	}, nil
}

func (c *HTTPClient) endpoint(route string, query url.Values) string {
	u := *c.baseURL
	trailing := strings.HasSuffix(route, "/")
	u.Path = path.Join(u.Path, route)
	if trailing {
		u.Path += "/"
	}
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *HTTPClient) newBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialInterval
	b.MaxInterval = 10 * c.cfg.InitialInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxRetries)), ctx)
}

// rawBody is sent as is instead of being encoded as JSON.
type rawBody struct {
	contentType string
	data        []byte
}

// do runs one API call with retries on temporary failures and hands the
// successful body to decode.
func (c *HTTPClient) do(ctx context.Context, auth AuthContext, method, route string, query url.Values, body interface{}, decode func([]byte) error) error {
	var payload []byte
	contentType := "application/json"
	switch b := body.(type) {
	case nil:
	case rawBody:
		payload, contentType = b.data, b.contentType
	default:
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return newError(CategoryValidation, errors.Wrap(err, "encoding request body"))
		}
	}
	if auth.RequestID == "" {
		auth.RequestID = uuid.NewV4().String()
	}
	target := c.endpoint(route, query)
	log := c.Logger.WithFields(logrus.Fields{
		"method":     method,
		"route":      route,
		"request_id": auth.RequestID,
	})

	var respBody []byte
	attempt := 0
	operation := func() error {
		attempt++
		b, err := c.attempt(ctx, auth, method, route, target, payload, contentType, attempt)
		if err != nil {
			var apiErr *Error
			if errors.As(err, &apiErr) && !apiErr.Temporary() {
				return backoff.Permanent(err)
			}
			return err
		}
		respBody = b
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithField("attempt", attempt).Warnf("request failed, retrying in %s", wait)
	}

	if err := backoff.RetryNotify(operation, c.newBackOff(ctx), notify); err != nil {
		var apiErr *Error
		if !errors.As(err, &apiErr) {
			apiErr = transportError(ctx, err)
		}
		apiErr.Method = method
		apiErr.URL = target
		apiErr.RequestID = auth.RequestID
		log.WithError(apiErr).WithField("category", apiErr.Category).Debug("request failed")
		return apiErr
	}

	if decode == nil {
		return nil
	}
	if err := decode(respBody); err != nil {
		apiErr := newError(CategoryUnknown, errors.Wrap(err, "decoding response"))
		apiErr.Method = method
		apiErr.URL = target
		apiErr.RequestID = auth.RequestID
		return apiErr
	}
	return nil
}

func (c *HTTPClient) attempt(ctx context.Context, auth AuthContext, method, route, target string, payload []byte, contentType string, attempt int) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	var result httpstat.Result
	req, err := http.NewRequestWithContext(httpstat.WithHTTPStat(ctx, &result), method, target, reader)
	if err != nil {
		return nil, newError(CategoryUnknown, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if payload != nil {
		req.Header.Set("Content-Type", contentType)
	}
	auth.apply(req)

	metrics := RequestMetrics{Method: method, Route: route, Attempt: attempt}
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		apiErr := transportError(ctx, err)
		metrics.Category = apiErr.Category
		metrics.Timing = fiomark.TimingFromStat(&result, time.Since(start))
		c.observe(metrics)
		return nil, apiErr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	end := time.Now()
	result.End(end)
	metrics.StatusCode = resp.StatusCode
	metrics.Timing = fiomark.TimingFromStat(&result, end.Sub(start))

	if err != nil {
		apiErr := transportError(ctx, errors.Wrap(err, "reading response body"))
		metrics.Category = apiErr.Category
		c.observe(metrics)
		return nil, apiErr
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := statusError(resp.StatusCode, body)
		metrics.Category = apiErr.Category
		c.observe(metrics)
		return nil, apiErr
	}
	c.observe(metrics)
	return body, nil
}

func (c *HTTPClient) observe(m RequestMetrics) {
	c.Logger.WithFields(logrus.Fields{
		"method":  m.Method,
		"route":   m.Route,
		"status":  m.StatusCode,
		"attempt": m.Attempt,
	}).Debugf("backend request (%s)", m.Timing)
	if c.Observer != nil {
		c.Observer(m)
	}
}

func (c *HTTPClient) ListTestRuns(ctx context.Context, auth AuthContext, opts ListOptions) (*TestRunResponse, error) {
	if err := opts.Filters.Validate(); err != nil {
		return nil, newError(CategoryValidation, err)
	}
	query := opts.Filters.Query()
	if opts.Limit > 0 {
		limit := opts.Limit
		if limit > MaxListLimit {
			limit = MaxListLimit
		}
		query.Set("limit", strconv.Itoa(limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}

	var resp *TestRunResponse
	err := c.do(ctx, auth, http.MethodGet, "/api/test-runs/", query, nil, func(body []byte) error {
		var err error
		resp, err = DecodeTestRunResponse(body)
		return err
	})
	if err != nil {
		return nil, err
	}
	if resp.Skipped > 0 {
		c.Logger.WithField("skipped", resp.Skipped).Warn("ignored malformed test runs in response")
	}
	return resp, nil
}

func (c *HTTPClient) FilterOptions(ctx context.Context, auth AuthContext) (map[string][]interface{}, error) {
	var options map[string][]interface{}
	err := c.do(ctx, auth, http.MethodGet, "/api/filters", nil, nil, func(body []byte) error {
		return json.Unmarshal(body, &options)
	})
	return options, err
}

func (c *HTTPClient) BulkUpdate(ctx context.Context, auth AuthContext, ids []int64, update TestRunUpdate) (*BulkUpdateResult, error) {
	if len(ids) == 0 {
		return nil, newError(CategoryValidation, errors.New("no test run ids given"))
	}
	if update.empty() {
		return nil, newError(CategoryValidation, errors.New("no updates provided"))
	}
	request := struct {
		TestRunIDs []int64       `json:"test_run_ids"`
		Updates    TestRunUpdate `json:"updates"`
	}{ids, update}

	var result BulkUpdateResult
	err := c.do(ctx, auth, http.MethodPut, "/api/test-runs/bulk", nil, request, func(body []byte) error {
		return json.Unmarshal(body, &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) DeleteTestRun(ctx context.Context, auth AuthContext, id int64) error {
	return c.do(ctx, auth, http.MethodDelete, "/api/test-runs/"+strconv.FormatInt(id, 10), nil, nil, nil)
}

func (c *HTTPClient) CurrentUser(ctx context.Context, auth AuthContext) (*User, error) {
	var user User
	err := c.do(ctx, auth, http.MethodGet, "/api/users/me", nil, nil, func(body []byte) error {
		return json.Unmarshal(body, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *HTTPClient) ListUsers(ctx context.Context, auth AuthContext) ([]User, error) {
	var users []User
	err := c.do(ctx, auth, http.MethodGet, "/api/users/", nil, nil, func(body []byte) error {
		return json.Unmarshal(body, &users)
	})
	return users, err
}

// ImportFIO uploads the JSON output of one FIO run.
func (c *HTTPClient) ImportFIO(ctx context.Context, auth AuthContext, filename string, data []byte) (*ImportResult, error) {
	if !strings.HasSuffix(strings.ToLower(filename), ".json") {
		return nil, newError(CategoryValidation, errors.New("only JSON files are supported"))
	}
	if !fiomark.IsFioOutput(data) {
		return nil, newError(CategoryValidation, errors.Errorf("%s is not FIO JSON output", filename))
	}

	var form bytes.Buffer
	writer := multipart.NewWriter(&form)
	part, err := writer.CreateFormFile("file", path.Base(filename))
	if err == nil {
		_, err = part.Write(data)
	}
	if err == nil {
		err = writer.Close()
	}
	if err != nil {
		return nil, newError(CategoryUnknown, errors.Wrap(err, "building upload"))
	}

	var result ImportResult
	body := rawBody{contentType: writer.FormDataContentType(), data: form.Bytes()}
	err = c.do(ctx, auth, http.MethodPost, "/api/import/", nil, body, func(b []byte) error {
		return json.Unmarshal(b, &result)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) PerformanceData(ctx context.Context, auth AuthContext, ids []int64, metrics []fiomark.Metric) ([]fiomark.PerformanceEntry, error) {
	if len(ids) == 0 || len(metrics) == 0 {
		return nil, newError(CategoryValidation, errors.New("test run ids and metric types are required"))
	}
	idList := make([]string, len(ids))
	for i, id := range ids {
		idList[i] = strconv.FormatInt(id, 10)
	}
	metricList := make([]string, len(metrics))
	for i, m := range metrics {
		metricList[i] = string(m)
	}
	query := url.Values{
		"test_run_ids": {strings.Join(idList, ",")},
		"metric_types": {strings.Join(metricList, ",")},
	}

	var resp struct {
		PerformanceData []fiomark.PerformanceEntry `json:"performance_data"`
	}
	err := c.do(ctx, auth, http.MethodGet, "/api/test-runs/performance-data", query, nil, func(b []byte) error {
		return json.Unmarshal(b, &resp)
	})
	return resp.PerformanceData, err
}

func (c *HTTPClient) LatestTestRuns(ctx context.Context, auth AuthContext, hostnames []string, limit int) ([]LatestRun, error) {
	query := url.Values{"limit": {strconv.Itoa(latestLimit(limit))}}
	if len(hostnames) > 0 {
		query.Set("hostnames", strings.Join(hostnames, ","))
	}
	var resp struct {
		Data []LatestRun `json:"data"`
	}
	err := c.do(ctx, auth, http.MethodGet, "/api/time-series/latest", query, nil, func(b []byte) error {
		return json.Unmarshal(b, &resp)
	})
	return resp.Data, err
}

func userRoute(username string) (string, error) {
	if !usernamePattern.MatchString(username) {
		return "", newError(CategoryValidation, errors.Errorf("invalid username %q", username))
	}
	return "/api/users/" + username, nil
}

func (c *HTTPClient) user(ctx context.Context, auth AuthContext, method, route string, body interface{}) (*User, error) {
	var user User
	err := c.do(ctx, auth, method, route, nil, body, func(b []byte) error {
		return json.Unmarshal(b, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *HTTPClient) GetUser(ctx context.Context, auth AuthContext, username string) (*User, error) {
	route, err := userRoute(username)
	if err != nil {
		return nil, err
	}
	return c.user(ctx, auth, http.MethodGet, route, nil)
}

func (c *HTTPClient) CreateUser(ctx context.Context, auth AuthContext, user UserCreate) (*User, error) {
	if err := user.validate(); err != nil {
		return nil, newError(CategoryValidation, err)
	}
	return c.user(ctx, auth, http.MethodPost, "/api/users/", user)
}

func (c *HTTPClient) UpdateUser(ctx context.Context, auth AuthContext, username string, update UserUpdate) (*User, error) {
	route, err := userRoute(username)
	if err != nil {
		return nil, err
	}
	if err := update.validate(); err != nil {
		return nil, newError(CategoryValidation, err)
	}
	return c.user(ctx, auth, http.MethodPut, route, update)
}

func (c *HTTPClient) DeleteUser(ctx context.Context, auth AuthContext, username string) error {
	route, err := userRoute(username)
	if err != nil {
		return err
	}
	return c.do(ctx, auth, http.MethodDelete, route, nil, nil, nil)
}

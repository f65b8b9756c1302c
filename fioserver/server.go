package fioserver

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/lumafield/fio-dashboard/fioapi"
	"github.com/lumafield/fio-dashboard/fiomark"
)

type Config struct {
	Client fioapi.Client
	// Auth is used for callers that send no Authorization header.
	Auth     fioapi.AuthContext
	Defaults fiomark.DashboardOptions
	// PageSize and MaxRecords bound every fetch from the backend.
	PageSize   int
	MaxRecords int
	CacheSize  int
	Logger     *logrus.Entry
	Metrics    *Metrics
}

// Server exposes the derived dashboard structures over HTTP. Test runs are
// fetched fresh for every request; only the derivation is memoized, keyed by
// a digest of the fetched records together with filters and options.
type Server struct {
	cfg     Config
	log     *logrus.Entry
	metrics *Metrics
	cache   *lru.Cache[string, *fiomark.Dashboard]
	engine  *gin.Engine
}

func New(cfg Config) (*Server, error) {
	if cfg.Client == nil {
		return nil, errors.New("no backend client configured")
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 128
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}
	cache, err := lru.New[string, *fiomark.Dashboard](cfg.CacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "creating dashboard cache")
	}

	s := &Server{
		cfg:     cfg,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		cache:   cache,
	}
	s.engine = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), Logger(s.log), Instrument(s.metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	api.GET("/dashboard", s.getDashboard)
	api.GET("/charts/:chart", s.getChart)
	api.GET("/heatmap", s.getHeatmap)
	api.GET("/hosts", s.getHosts)
	api.GET("/time-series", s.getTimeSeries)
	api.GET("/filters", s.getFilters)
	api.GET("/latest", s.getLatest)
	api.GET("/performance-data", s.getPerformanceData)
	return r
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("dashboard service listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "serving")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutting down")
	}
	s.log.Info("dashboard service stopped")
	return nil
}

func (s *Server) auth(c *gin.Context) fioapi.AuthContext {
	auth := s.cfg.Auth
	if header := c.GetHeader("Authorization"); header != "" {
		auth = fioapi.AuthFromHeader(header)
	}
	auth.RequestID = c.GetString(requestIDKey)
	return auth
}

type dashboardRequest struct {
	filters fiomark.FilterState
	options fiomark.DashboardOptions
}

func (r dashboardRequest) key(digest uint64) string {
	return strconv.FormatUint(digest, 16) + "|" + r.filters.Key() + "|" +
		r.options.Pattern + "|" + string(r.options.GroupBy) + "|" + string(r.options.Normalization) + "|" +
		strconv.FormatBool(r.options.IncludeAllPercentiles) + "|" + strconv.FormatBool(r.options.StrictValidation) + "|" +
		strconv.FormatBool(r.options.LatestOnly)
}

func (s *Server) parseRequest(c *gin.Context) (dashboardRequest, error) {
	filters, err := fiomark.ParseFilterQuery(c.Request.URL.Query())
	if err != nil {
		return dashboardRequest{}, err
	}

	opts := s.cfg.Defaults
	if v, ok := c.GetQuery("pattern"); ok {
		opts.Pattern = v
	}
	if v, ok := c.GetQuery("group_by"); ok {
		if opts.GroupBy, err = fiomark.ParseChartGrouping(v); err != nil {
			return dashboardRequest{}, err
		}
	}
	if v, ok := c.GetQuery("normalization"); ok {
		if opts.Normalization, err = fiomark.ParseNormalizationMethod(v); err != nil {
			return dashboardRequest{}, err
		}
	}
	for name, target := range map[string]*bool{
		"all_percentiles": &opts.IncludeAllPercentiles,
		"strict":          &opts.StrictValidation,
		"latest":          &opts.LatestOnly,
	} {
		if v, ok := c.GetQuery(name); ok {
			if *target, err = strconv.ParseBool(v); err != nil {
				return dashboardRequest{}, errors.Errorf("%s must be a boolean", name)
			}
		}
	}
	return dashboardRequest{filters: filters, options: opts}, nil
}

func (s *Server) fetch(c *gin.Context) ([]fiomark.TestRun, error) {
	source := &fioapi.Source{
		Client:     s.cfg.Client,
		Auth:       s.auth(c),
		PageSize:   s.cfg.PageSize,
		MaxRecords: s.cfg.MaxRecords,
	}
	start := time.Now()
	// filters are applied locally so the full set also yields the filter options
	records, err := source.FetchTestRuns(c.Request.Context(), nil)
	s.metrics.transform.WithLabelValues("fetch").Observe(time.Since(start).Seconds())
	if err == nil {
		s.metrics.records.Set(float64(len(records)))
	}
	return records, err
}

func digest(records []fiomark.TestRun) (uint64, error) {
	h := fnv.New64a()
	if err := json.NewEncoder(h).Encode(records); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

// dashboard fetches and derives, answering the error itself when it fails.
func (s *Server) dashboard(c *gin.Context) (*fiomark.Dashboard, bool) {
	req, err := s.parseRequest(c)
	if err != nil {
		badRequest(c, err)
		return nil, false
	}
	records, err := s.fetch(c)
	if err != nil {
		s.upstreamError(c, err)
		return nil, false
	}

	sum, err := digest(records)
	if err != nil {
		internalError(c, err)
		return nil, false
	}
	key := req.key(sum)
	if d, ok := s.cache.Get(key); ok {
		s.metrics.cacheLookups.WithLabelValues("hit").Inc()
		return d, true
	}
	s.metrics.cacheLookups.WithLabelValues("miss").Inc()

	start := time.Now()
	d, err := fiomark.BuildDashboard(records, req.filters, req.options)
	s.metrics.transform.WithLabelValues("dashboard").Observe(time.Since(start).Seconds())
	if err != nil {
		badRequest(c, err)
		return nil, false
	}
	s.cache.Add(key, d)
	return d, true
}

func (s *Server) getDashboard(c *gin.Context) {
	if d, ok := s.dashboard(c); ok {
		c.JSON(http.StatusOK, d)
	}
}

func (s *Server) getChart(c *gin.Context) {
	name := c.Param("chart")
	if !knownChart(name) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown chart " + strconv.Quote(name), "charts": fiomark.ChartNames})
		return
	}
	if d, ok := s.dashboard(c); ok {
		c.JSON(http.StatusOK, gin.H{
			"chart":   d.Charts[name],
			"empty":   d.Empty,
			"message": d.Message,
		})
	}
}

func knownChart(name string) bool {
	for _, n := range fiomark.ChartNames {
		if n == name {
			return true
		}
	}
	return false
}

func (s *Server) getHeatmap(c *gin.Context) {
	if d, ok := s.dashboard(c); ok {
		c.JSON(http.StatusOK, gin.H{
			"heatmap": d.Heatmap,
			"empty":   d.Empty,
			"message": d.Message,
		})
	}
}

func (s *Server) getHosts(c *gin.Context) {
	if d, ok := s.dashboard(c); ok {
		c.JSON(http.StatusOK, gin.H{
			"hosts":   d.Hosts,
			"empty":   d.Empty,
			"message": d.Message,
		})
	}
}

type seriesTrend struct {
	fiomark.TimeSeries
	Trend fiomark.TrendAnalysis `json:"trend"`
}

func (s *Server) getTimeSeries(c *gin.Context) {
	metric, err := fiomark.ParseMetric(c.DefaultQuery("metric", string(fiomark.MetricIOPS)))
	if err != nil {
		badRequest(c, err)
		return
	}
	req, err := s.parseRequest(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	records, err := s.fetch(c)
	if err != nil {
		s.upstreamError(c, err)
		return
	}

	start := time.Now()
	series := fiomark.BuildTimeSeries(fiomark.ApplyFilters(records, req.filters), metric)
	out := make([]seriesTrend, 0, len(series))
	for i := range series {
		trend := fiomark.AnalyzeTrend(&series[i])
		out = append(out, seriesTrend{TimeSeries: series[i], Trend: trend})
	}
	s.metrics.transform.WithLabelValues("time_series").Observe(time.Since(start).Seconds())

	c.JSON(http.StatusOK, gin.H{
		"metric": metric,
		"unit":   metric.Unit(),
		"series": out,
		"empty":  len(out) == 0,
	})
}

func (s *Server) getLatest(c *gin.Context) {
	filters, err := fiomark.ParseFilterQuery(c.Request.URL.Query())
	if err != nil {
		badRequest(c, err)
		return
	}
	limit := defaultLatestLimit
	if v, ok := c.GetQuery("limit"); ok {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 || limit > maxLatestLimit {
			badRequest(c, errors.Errorf("limit must be between 1 and %d", maxLatestLimit))
			return
		}
	}
	records, err := s.fetch(c)
	if err != nil {
		s.upstreamError(c, err)
		return
	}

	latest := fiomark.LatestRuns(fiomark.ApplyFilters(records, filters))
	if len(latest) > limit {
		latest = latest[:limit]
	}
	rows := make([]fioapi.LatestRun, 0, len(latest))
	for _, r := range latest {
		rows = append(rows, fioapi.NewLatestRun(r))
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

const (
	defaultLatestLimit = 100
	maxLatestLimit     = 1000
)

func (s *Server) getPerformanceData(c *gin.Context) {
	ids, err := parseIDs(c.Query("test_run_ids"))
	if err != nil {
		badRequest(c, err)
		return
	}
	metrics, err := parseMetrics(c.DefaultQuery("metric_types", string(fiomark.MetricIOPS)+","+
		string(fiomark.MetricAvgLatency)+","+string(fiomark.MetricBandwidth)))
	if err != nil {
		badRequest(c, err)
		return
	}
	records, err := s.fetch(c)
	if err != nil {
		s.upstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"performance_data": fiomark.PerformanceData(records, ids, metrics)})
}

func parseIDs(v string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, errors.Errorf("invalid test run id %q", part)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.New("test_run_ids is required")
	}
	return ids, nil
}

func parseMetrics(v string) ([]fiomark.Metric, error) {
	var metrics []fiomark.Metric
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part == "" {
			continue
		}
		m, err := fiomark.ParseMetric(part)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	if len(metrics) == 0 {
		return nil, errors.New("metric_types is empty")
	}
	return metrics, nil
}

func (s *Server) getFilters(c *gin.Context) {
	options, err := s.cfg.Client.FilterOptions(c.Request.Context(), s.auth(c))
	if err != nil {
		s.upstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, options)
}

func (s *Server) upstreamError(c *gin.Context, err error) {
	category := fioapi.CategoryOf(err)
	message := err.Error()
	var apiErr *fioapi.Error
	if errors.As(err, &apiErr) {
		message = apiErr.Message
	}
	_ = c.Error(err)
	c.JSON(category.HTTPStatus(), gin.H{
		"error":      message,
		"category":   category,
		"request_id": c.GetString(requestIDKey),
	})
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, gin.H{
		"error":      err.Error(),
		"category":   fioapi.CategoryValidation,
		"request_id": c.GetString(requestIDKey),
	})
}

func internalError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":      "internal error",
		"category":   fioapi.CategoryUnknown,
		"request_id": c.GetString(requestIDKey),
	})
}

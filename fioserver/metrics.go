package fioserver

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/lumafield/fio-dashboard/fioapi"
)

// Metrics holds the collectors of one server. Each server owns its registry
// so tests can build as many servers as they like.
type Metrics struct {
	Registry *prometheus.Registry

	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	transform        *prometheus.HistogramVec
	cacheLookups     *prometheus.CounterVec
	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	records          prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fio_dashboard",
			Name:      "http_requests_total",
			Help:      "Handled HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fio_dashboard",
			Name:      "http_request_duration_seconds",
			Help:      "Latency of handled HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		transform: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fio_dashboard",
			Name:      "transform_duration_seconds",
			Help:      "Time spent deriving dashboard structures from test runs.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"stage"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fio_dashboard",
			Name:      "dashboard_cache_lookups_total",
			Help:      "Dashboard cache lookups by result.",
		}, []string{"result"}),
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fio_dashboard",
			Name:      "upstream_requests_total",
			Help:      "Requests to the results backend by route, status code and error category.",
		}, []string{"route", "code", "category"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fio_dashboard",
			Name:      "upstream_phase_duration_seconds",
			Help:      "Phases of requests to the results backend as measured by httpstat.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
		records: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fio_dashboard",
			Name:      "last_fetch_records",
			Help:      "Number of test runs in the most recent fetch.",
		}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.requestDuration, m.transform, m.cacheLookups,
		m.upstreamRequests, m.upstreamDuration, m.records,
	)
	return m
}

// ObserveUpstream records one attempt against the backend; it plugs into
// fioapi.HTTPClient.Observer.
func (m *Metrics) ObserveUpstream(r fioapi.RequestMetrics) {
	code := "none"
	if r.StatusCode > 0 {
		code = strconv.Itoa(r.StatusCode)
	}
	category := string(r.Category)
	if category == "" {
		category = "ok"
	}
	m.upstreamRequests.WithLabelValues(r.Route, code, category).Inc()
	m.upstreamDuration.WithLabelValues("dns_lookup").Observe(r.Timing.DNSLookup.Seconds())
	m.upstreamDuration.WithLabelValues("tcp_connection").Observe(r.Timing.TCPConnection.Seconds())
	m.upstreamDuration.WithLabelValues("tls_handshake").Observe(r.Timing.TLSHandshake.Seconds())
	m.upstreamDuration.WithLabelValues("server_processing").Observe(r.Timing.ServerProcessing.Seconds())
	m.upstreamDuration.WithLabelValues("total").Observe(r.Timing.Total.Seconds())
}

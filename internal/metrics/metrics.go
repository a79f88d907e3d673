// Package metrics provides Prometheus metrics for tagstore
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for tagstore
type Metrics struct {
	// gRPC request metrics
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge

	// Search metrics
	SearchesTotal         *prometheus.CounterVec
	SearchDuration        prometheus.Histogram
	SearchObjectsMatched  prometheus.Counter
	SearchAttributesFound prometheus.Counter
	SearchCacheHits       prometheus.Counter
	SearchCacheMisses     prometheus.Counter

	// Metadata metrics
	MetadataOperationsTotal   *prometheus.CounterVec
	MetadataOperationDuration *prometheus.HistogramVec
	TagsApplied               prometheus.Counter
	AmbiguousResolutions      prometheus.Counter

	// Scene metrics
	SceneObjects prometheus.Gauge

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time

	registry *prometheus.Registry
}

// NewMetrics creates all metrics on a fresh registry. Use Registry to
// expose them.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := newMetrics(reg)
	m.registry = reg
	return m
}

// NewMetricsWith registers the metrics on reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	m.GrpcRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagstore_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "code"},
	)

	m.GrpcRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tagstore_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.GrpcRequestsInFlight = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "tagstore_grpc_requests_in_flight",
			Help: "Number of gRPC requests currently being processed",
		},
	)

	m.SearchesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagstore_searches_total",
			Help: "Total number of attribute searches",
		},
		[]string{"status"},
	)

	m.SearchDuration = f.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tagstore_search_duration_seconds",
			Help:    "Duration of attribute searches in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	m.SearchObjectsMatched = f.NewCounter(
		prometheus.CounterOpts{
			Name: "tagstore_search_objects_matched_total",
			Help: "Total number of objects returned by searches",
		},
	)

	m.SearchAttributesFound = f.NewCounter(
		prometheus.CounterOpts{
			Name: "tagstore_search_attributes_found_total",
			Help: "Total number of attribute records returned by searches",
		},
	)

	m.SearchCacheHits = f.NewCounter(
		prometheus.CounterOpts{
			Name: "tagstore_search_cache_hits_total",
			Help: "Searches answered from the result cache",
		},
	)

	m.SearchCacheMisses = f.NewCounter(
		prometheus.CounterOpts{
			Name: "tagstore_search_cache_misses_total",
			Help: "Searches that had to walk the scene",
		},
	)

	m.MetadataOperationsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagstore_metadata_operations_total",
			Help: "Total number of metadata operations",
		},
		[]string{"operation", "status"},
	)

	m.MetadataOperationDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tagstore_metadata_operation_duration_seconds",
			Help:    "Duration of metadata operations in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	m.TagsApplied = f.NewCounter(
		prometheus.CounterOpts{
			Name: "tagstore_tags_applied_total",
			Help: "Total number of tag provenance entries written",
		},
	)

	m.AmbiguousResolutions = f.NewCounter(
		prometheus.CounterOpts{
			Name: "tagstore_ambiguous_resolutions_total",
			Help: "Resolutions that failed because several catalogs define a tag",
		},
	)

	m.SceneObjects = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "tagstore_scene_objects",
			Help: "Objects in the served scene at the last full listing",
		},
	)

	m.ServerUptimeSeconds = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "tagstore_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	return m
}

// Registry returns the registry created by NewMetrics, or nil when the
// metrics were registered elsewhere.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// UpdateUptime refreshes the uptime gauge every interval until stop closes.
func (m *Metrics) UpdateUptime(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
		}
	}
}

// RecordGrpcRequest records a gRPC request with its status code
func (m *Metrics) RecordGrpcRequest(method, code string, duration time.Duration) {
	m.GrpcRequestsTotal.WithLabelValues(method, code).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordSearch records a finished search
func (m *Metrics) RecordSearch(objects, attributes int, duration time.Duration, err error) {
	if err != nil {
		m.SearchesTotal.WithLabelValues("error").Inc()
		return
	}
	m.SearchesTotal.WithLabelValues("success").Inc()
	m.SearchDuration.Observe(duration.Seconds())
	m.SearchObjectsMatched.Add(float64(objects))
	m.SearchAttributesFound.Add(float64(attributes))
}

// RecordMetadataOperation records a metadata operation
func (m *Metrics) RecordMetadataOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.MetadataOperationsTotal.WithLabelValues(operation, status).Inc()
	m.MetadataOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

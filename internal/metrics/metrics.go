// Package metrics defines the Prometheus metrics exported by the proxy and
// by the test origin server in cmd/upstream. Helpers here encapsulate label
// normalization and keep every label set low-cardinality.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Proxy-facing metrics (low-cardinality: bounded decision/method/status sets).
var (
	// proxyRequestsTotal counts proxy responses by method, status, and the
	// cache decision that produced them (DIRECT/REVALIDATE/RETURN_CACHE/...).
	proxyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_requests_total",
			Help: "Total proxy responses by method, status and cache decision",
		},
		[]string{"method", "status", "decision"},
	)
	// proxyReqDuration captures end-to-end client-facing proxy latency.
	proxyReqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proxy_request_duration_seconds",
			Help:    "End-to-end proxy request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "decision"},
	)
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "proxy_queue_depth",
			Help: "Current queue depth (waiting only)",
		},
	)
	queueRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "proxy_queue_rejected_total",
			Help: "Total requests rejected due to full queue",
		},
	)
	queueTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "proxy_queue_timeouts_total",
			Help: "Total requests that timed out while waiting in queue",
		},
	)
	queueWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "proxy_queue_wait_seconds",
			Help:    "Observed time spent waiting in the queue",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Cache-internal metrics, set per shard by the periodic reporter in
// cmd/server rather than on each shard operation.
var (
	cacheShardBytesUsed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_shard_bytes_used",
			Help: "Bytes currently held by each cache shard",
		},
		[]string{"shard"},
	)
	cacheShardEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_shard_entries",
			Help: "Entry count currently held by each cache shard",
		},
		[]string{"shard"},
	)
	// cacheEvictionsTotal and cacheLookupsTotal mirror the cumulative counters
	// already kept inside each cache.Shard; a periodic reporter snapshots them
	// into these gauges rather than the cache package importing Prometheus.
	cacheEvictionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_evictions_total",
			Help: "Entries evicted to stay under a shard's byte budget, cumulative",
		},
	)
	cacheLookupsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_lookups_total",
			Help: "Cache lookups by outcome (hit/miss), cumulative",
		},
		[]string{"outcome"},
	)
)

// Origin-facing metrics, observed by the dispatcher around every RoundTrip.
var (
	originRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "origin_requests_total",
			Help: "Total requests sent to origins by method and outcome",
		},
		[]string{"method", "outcome"},
	)
	originReqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "origin_request_duration_seconds",
			Help:    "Origin round-trip duration observed by the dispatcher",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

// Metrics emitted by cmd/upstream's test origin server (server-side view,
// kept separate from the proxy's client-facing view).
var (
	upRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Total upstream responses by method and status",
		},
		[]string{"method", "status"},
	)
	upRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Upstream request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
	upInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "upstream_inflight",
			Help: "Number of in-flight requests in the upstream server",
		},
	)
)

func init() {
	prometheus.MustRegister(
		proxyRequestsTotal,
		proxyReqDuration,
		queueDepth,
		queueRejected,
		queueTimeouts,
		queueWait,
		cacheShardBytesUsed,
		cacheShardEntries,
		cacheEvictionsTotal,
		cacheLookupsTotal,
		originRequestsTotal,
		originReqDuration,
		upRequestsTotal,
		upRequestDuration,
		upInflight,
	)
}

// ---- Proxy helpers ----

func ProxyRequestsInc(method string, status int, decision string) {
	proxyRequestsTotal.WithLabelValues(method, strconv.Itoa(status), decision).Inc()
}

func ProxyDurationObserve(method, decision string, dur time.Duration) {
	proxyReqDuration.WithLabelValues(method, decision).Observe(dur.Seconds())
}

func QueueRejectedInc() { queueRejected.Inc() }

func QueueTimeoutsInc() { queueTimeouts.Inc() }

func QueueWaitObserve(d time.Duration) { queueWait.Observe(d.Seconds()) }

func QueueDepthSet(depth int64) { queueDepth.Set(float64(depth)) }

// ---- Cache helpers ----

func CacheShardGaugesSet(shard int, bytesUsed int64, entries int) {
	label := strconv.Itoa(shard)
	cacheShardBytesUsed.WithLabelValues(label).Set(float64(bytesUsed))
	cacheShardEntries.WithLabelValues(label).Set(float64(entries))
}

func CacheEvictionsSet(cumulative uint64) { cacheEvictionsTotal.Set(float64(cumulative)) }

func CacheLookupsSet(hits, misses uint64) {
	cacheLookupsTotal.WithLabelValues("hit").Set(float64(hits))
	cacheLookupsTotal.WithLabelValues("miss").Set(float64(misses))
}

// ---- Origin helpers ----

func OriginRequestObserve(method, outcome string, dur time.Duration) {
	originRequestsTotal.WithLabelValues(method, outcome).Inc()
	originReqDuration.WithLabelValues(method).Observe(dur.Seconds())
}

// ---- Upstream (test origin server) helpers ----

func UpstreamInflightInc() { upInflight.Inc() }

func UpstreamInflightDec() { upInflight.Dec() }

func ObserveUpstreamResponse(method string, status int, dur time.Duration) {
	upRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	upRequestDuration.WithLabelValues(method).Observe(dur.Seconds())
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var durationBuckets = []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000}

var (
	SearchRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "finder_search_requests_total",
		Help: "Total number of discovery searches by kind (text/image)",
	}, []string{"kind"})
	SearchDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "finder_search_duration_ms",
		Help:    "Discovery search duration in milliseconds",
		Buckets: durationBuckets,
	}, []string{"kind"})
	CatalogTierTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "finder_catalog_tier_total",
		Help: "Catalog searches resolved per tier",
	}, []string{"tier"})
	CatalogFallbackTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "finder_catalog_fallback_total",
		Help: "Total generic fallback signals emitted",
	})
	ClassifierHealthTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "finder_classifier_health_total",
		Help: "Classifier readiness probes by status",
	}, []string{"status"})
	ClassifierRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "finder_classifier_requests_total",
		Help: "Total classifier predict requests",
	})
	ClassifierSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "finder_classifier_success_total",
		Help: "Total classifier predict successes",
	})
	ClassifierFailTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "finder_classifier_fail_total",
		Help: "Total classifier predict failures by reason",
	}, []string{"reason"})
	ClassifierDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "finder_classifier_duration_ms",
		Help:    "Classifier predict duration in milliseconds",
		Buckets: durationBuckets,
	})
	PlaceRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "finder_place_requests_total",
		Help: "Total place search requests",
	})
	PlaceSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "finder_place_success_total",
		Help: "Total place search successes",
	})
	PlaceFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "finder_place_fail_total",
		Help: "Total place search failures",
	})
	PlaceDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "finder_place_duration_ms",
		Help:    "Place search duration in milliseconds",
		Buckets: durationBuckets,
	})
	PlaceCacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "finder_place_cache_hits_total",
		Help: "Place search cache hits by layer",
	}, []string{"layer"})
	PlaceCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "finder_place_cache_misses_total",
		Help: "Place search cache misses",
	})
	StoreResolveTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "finder_store_resolve_total",
		Help: "Store resolutions by step",
	}, []string{"step"})
	DistanceCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "finder_distance_cache_hits_total",
		Help: "Distance resolver cache hits",
	})
	DistanceCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "finder_distance_cache_misses_total",
		Help: "Distance resolver cache misses",
	})
	DependencyHeartbeatTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "finder_dependency_heartbeat_total",
		Help: "Dependency heartbeats by name and status",
	}, []string{"name", "status"})
	LocationFixTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "finder_location_fix_total",
		Help: "Initial location fixes by outcome",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(SearchRequestsTotal)
	prometheus.MustRegister(SearchDurationMs)
	prometheus.MustRegister(CatalogTierTotal)
	prometheus.MustRegister(CatalogFallbackTotal)
	prometheus.MustRegister(ClassifierHealthTotal)
	prometheus.MustRegister(ClassifierRequestsTotal)
	prometheus.MustRegister(ClassifierSuccessTotal)
	prometheus.MustRegister(ClassifierFailTotal)
	prometheus.MustRegister(ClassifierDurationMs)
	prometheus.MustRegister(PlaceRequestsTotal)
	prometheus.MustRegister(PlaceSuccessTotal)
	prometheus.MustRegister(PlaceFailTotal)
	prometheus.MustRegister(PlaceDurationMs)
	prometheus.MustRegister(PlaceCacheHitsTotal)
	prometheus.MustRegister(PlaceCacheMissesTotal)
	prometheus.MustRegister(StoreResolveTotal)
	prometheus.MustRegister(DistanceCacheHitsTotal)
	prometheus.MustRegister(DistanceCacheMissesTotal)
	prometheus.MustRegister(DependencyHeartbeatTotal)
	prometheus.MustRegister(LocationFixTotal)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标到 /metrics 路径，供 Prometheus 抓取；在主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }

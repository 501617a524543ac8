package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TrackFilesLoadedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geotag_track_files_loaded_total",
		Help: "Track files loaded by format",
	}, []string{"format"})
	TrackFilesFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geotag_track_files_failed_total",
		Help: "Track files rejected as a whole (format errors)",
	}, []string{"format"})
	TrackPointsParsedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geotag_track_points_parsed_total",
		Help: "Track points accepted by the parsers",
	})
	TrackPointsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geotag_track_points_rejected_total",
		Help: "Track points dropped by the parsers",
	}, []string{"reason"})
	TrackParseDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "geotag_track_parse_duration_ms",
		Help:    "Track file parse duration in milliseconds",
		Buckets: []float64{1, 5, 10, 50, 100, 200, 500, 1000, 5000},
	})
	StorePoints = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geotag_store_points",
		Help: "Distinct timestamps currently held by the track store",
	})
	InterpolationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geotag_interpolations_total",
		Help: "Interpolation calls by outcome (exact, blend, skipped)",
	}, []string{"outcome"})
	GeocodeCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geotag_geocode_cache_hits_total",
		Help: "Geocode lookups served from the in-process bucket cache",
	})
	GeocodeCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geotag_geocode_cache_misses_total",
		Help: "Geocode lookups not found in the in-process bucket cache",
	})
	GazetteerScansTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geotag_gazetteer_scans_total",
		Help: "Full gazetteer nearest-city scans",
	})
	RedisHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geotag_redis_hits_total",
		Help: "Total redis geocode tier hits",
	})
	RedisMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geotag_redis_misses_total",
		Help: "Total redis geocode tier misses",
	})
	RemoteRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geotag_remote_requests_total",
		Help: "Total remote reverse geocoder requests",
	})
	RemoteSuccessTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geotag_remote_success_total",
		Help: "Total remote reverse geocoder successes",
	})
	RemoteFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geotag_remote_fail_total",
		Help: "Total remote reverse geocoder failures",
	})
	RemoteDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "geotag_remote_duration_ms",
		Help:    "Remote reverse geocoder call duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	})
	TimezoneChangesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geotag_timezone_changes_total",
		Help: "Active timezone switches by policy",
	}, []string{"policy"})
	EventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geotag_events_published_total",
		Help: "Events delivered to publishers by kind",
	}, []string{"kind"})
	HTTPRequestDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geotag_http_request_duration_ms",
		Help:    "HTTP handler duration in milliseconds by route",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	}, []string{"route", "method"})
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geotag_rate_limited_total",
		Help: "Requests rejected by the token bucket",
	})
	WebsocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "geotag_websocket_clients",
		Help: "Connected event stream clients",
	})
)

func init() {
	prometheus.MustRegister(TrackFilesLoadedTotal)
	prometheus.MustRegister(TrackFilesFailedTotal)
	prometheus.MustRegister(TrackPointsParsedTotal)
	prometheus.MustRegister(TrackPointsRejectedTotal)
	prometheus.MustRegister(TrackParseDurationMs)
	prometheus.MustRegister(StorePoints)
	prometheus.MustRegister(InterpolationsTotal)
	prometheus.MustRegister(GeocodeCacheHitsTotal)
	prometheus.MustRegister(GeocodeCacheMissesTotal)
	prometheus.MustRegister(GazetteerScansTotal)
	prometheus.MustRegister(RedisHitsTotal)
	prometheus.MustRegister(RedisMissesTotal)
	prometheus.MustRegister(RemoteRequestsTotal)
	prometheus.MustRegister(RemoteSuccessTotal)
	prometheus.MustRegister(RemoteFailTotal)
	prometheus.MustRegister(RemoteDurationMs)
	prometheus.MustRegister(TimezoneChangesTotal)
	prometheus.MustRegister(EventsPublishedTotal)
	prometheus.MustRegister(HTTPRequestDurationMs)
	prometheus.MustRegister(RateLimitedTotal)
	prometheus.MustRegister(WebsocketClients)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标供抓取；在主入口挂载到 API 前缀下。
func Handler() http.Handler { return promhttp.Handler() }

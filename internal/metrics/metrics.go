package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Lookups        *prometheus.CounterVec
	ProviderErrors prometheus.Counter
	RequestSeconds *prometheus.HistogramVec
	CacheEntries   prometheus.Gauge
	CacheSaves     *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Lookups: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pinpoint_lookups_total",
			Help: "Total number of address lookups by outcome.",
		}, []string{"outcome"}),
		ProviderErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "pinpoint_provider_api_errors_total",
			Help: "Total number of errors received from the geocoding provider API.",
		}),
		RequestSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pinpoint_provider_request_duration_seconds",
			Help:    "Duration of requests to the geocoding provider API.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		CacheEntries: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "pinpoint_cache_entries",
			Help: "Current number of entries in the address cache.",
		}),
		CacheSaves: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "pinpoint_cache_saves_total",
			Help: "Total number of address cache save attempts by result.",
		}, []string{"result"}),
	}
}

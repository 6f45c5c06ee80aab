package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the process-wide collectors. Created once at startup and
// passed as an explicit collaborator; never reassigned.
type Metrics struct {
	Registry *prometheus.Registry

	RedirectsTotal     *prometheus.CounterVec
	URLsCreatedTotal   prometheus.Counter
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter
	HitsPublishedTotal prometheus.Counter
	HitsDroppedTotal   prometheus.Counter
	HitsConsumedTotal  prometheus.Counter
	HitsDeadLettered   prometheus.Counter
	ResolveSeconds     prometheus.Histogram
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		RedirectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shortener_redirects_total",
			Help: "Redirect responses by outcome status.",
		}, []string{"status"}),
		URLsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shortener_urls_created_total",
			Help: "Short URLs created.",
		}),
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shortener_cache_hits_total",
			Help: "Redirect cache hits.",
		}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shortener_cache_misses_total",
			Help: "Redirect cache misses.",
		}),
		HitsPublishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shortener_hits_published_total",
			Help: "Hit events published to the bus.",
		}),
		HitsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shortener_hits_dropped_total",
			Help: "Hit events dropped after publish retries were exhausted.",
		}),
		HitsConsumedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shortener_hits_consumed_total",
			Help: "Hit events applied to the analytics store.",
		}),
		HitsDeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shortener_hits_dead_lettered_total",
			Help: "Hit events routed to the dead-letter stream.",
		}),
		ResolveSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "shortener_redirect_resolve_seconds",
			Help:    "Latency of code resolution on the redirect path.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RedirectsTotal,
		m.URLsCreatedTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.HitsPublishedTotal,
		m.HitsDroppedTotal,
		m.HitsConsumedTotal,
		m.HitsDeadLettered,
		m.ResolveSeconds,
	)
	return m
}

// Package metrics exposes dirlister counters and gauges through a private
// Prometheus registry. Every method is safe on a nil *Registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dirlister"

type Registry struct {
	registry *prometheus.Registry

	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions prometheus.Counter
	entries        *prometheus.GaugeVec
	jobsStarted    prometheus.Counter
	jobsFailed     *prometheus.CounterVec
	jobsRunning    prometheus.Gauge
	jobDuration    prometheus.Histogram
	reconciles     prometheus.Counter
	reconciledPath prometheus.Counter
	busPublished   *prometheus.CounterVec
	busDropped     *prometheus.CounterVec
	busSubscribers *prometheus.GaugeVec
	watcherEvents  *prometheus.CounterVec
	activeWatches  prometheus.Gauge
}

// New builds a Registry with its own prometheus.Registry so several caches
// in one process (and tests) never collide on registration.
func New() *Registry {
	registry := prometheus.NewRegistry()
	r := &Registry{
		registry: registry,
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Listings served from a complete cache entry.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Listings that required an enumeration job.",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Entries evicted from the cached map.",
		}),
		entries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Directory entries by placement.",
		}, []string{"placement"}),
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Enumeration jobs started.",
		}),
		jobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Enumeration jobs that failed, by error kind.",
		}, []string{"kind"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Enumeration jobs currently in flight.",
		}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Enumeration job duration.",
			Buckets:   prometheus.DefBuckets,
		}),
		reconciles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_passes_total",
			Help:      "Debounced reconcile passes.",
		}),
		reconciledPath: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_paths_total",
			Help:      "Paths re-stated during reconcile passes.",
		}),
		busPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_published_total",
			Help:      "Events published on an event bus.",
		}, []string{"bus", "type"}),
		busDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_dropped_total",
			Help:      "Events dropped because a subscriber was full.",
		}, []string{"bus", "type"}),
		busSubscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bus_subscribers",
			Help:      "Current event bus subscribers, by filter presence.",
		}, []string{"bus", "filtered"}),
		watcherEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watcher_events_total",
			Help:      "Filesystem events forwarded to the cache, by operation.",
		}, []string{"op"}),
		activeWatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watcher_active_watches",
			Help:      "Paths currently registered with the filesystem watcher.",
		}),
	}
	registry.MustRegister(
		r.cacheHits,
		r.cacheMisses,
		r.cacheEvictions,
		r.entries,
		r.jobsStarted,
		r.jobsFailed,
		r.jobsRunning,
		r.jobDuration,
		r.reconciles,
		r.reconciledPath,
		r.busPublished,
		r.busDropped,
		r.busSubscribers,
		r.watcherEvents,
		r.activeWatches,
		collectors.NewGoCollector(),
	)
	return r
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.registry
}

func (r *Registry) IncCacheHit() {
	if r == nil {
		return
	}
	r.cacheHits.Inc()
}

func (r *Registry) IncCacheMiss() {
	if r == nil {
		return
	}
	r.cacheMisses.Inc()
}

func (r *Registry) IncEviction() {
	if r == nil {
		return
	}
	r.cacheEvictions.Inc()
}

func (r *Registry) SetEntries(inUse, cached int) {
	if r == nil {
		return
	}
	r.entries.WithLabelValues("in_use").Set(float64(inUse))
	r.entries.WithLabelValues("cached").Set(float64(cached))
}

func (r *Registry) JobStarted() {
	if r == nil {
		return
	}
	r.jobsStarted.Inc()
	r.jobsRunning.Inc()
}

// JobFinished records a finished job. kind is empty on success.
func (r *Registry) JobFinished(seconds float64, kind string) {
	if r == nil {
		return
	}
	r.jobsRunning.Dec()
	r.jobDuration.Observe(seconds)
	if kind != "" {
		r.jobsFailed.WithLabelValues(kind).Inc()
	}
}

func (r *Registry) ReconcilePass(paths int) {
	if r == nil {
		return
	}
	r.reconciles.Inc()
	r.reconciledPath.Add(float64(paths))
}

func (r *Registry) BusPublished(bus, eventType string) {
	if r == nil {
		return
	}
	r.busPublished.WithLabelValues(bus, eventType).Inc()
}

func (r *Registry) BusDropped(bus, eventType string) {
	if r == nil {
		return
	}
	r.busDropped.WithLabelValues(bus, eventType).Inc()
}

func (r *Registry) SetBusSubscribers(bus string, filtered, unfiltered int) {
	if r == nil {
		return
	}
	r.busSubscribers.WithLabelValues(bus, "true").Set(float64(filtered))
	r.busSubscribers.WithLabelValues(bus, "false").Set(float64(unfiltered))
}

func (r *Registry) WatcherEvent(op string) {
	if r == nil {
		return
	}
	r.watcherEvents.WithLabelValues(op).Inc()
}

func (r *Registry) SetActiveWatches(count int) {
	if r == nil {
		return
	}
	r.activeWatches.Set(float64(count))
}

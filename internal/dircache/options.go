package dircache

import (
	"time"

	"dirlister/internal/logging"
	"dirlister/internal/metrics"
)

const (
	DefaultCapacity         = 10
	DefaultDebounce         = 500 * time.Millisecond
	DefaultCachedWatchGrace = 30 * time.Second
)

// Options configures a Cache. The zero value is usable: it has no sources,
// no watch bridge and a no-op announcer.
type Options struct {
	// Capacity bounds the cached map. Zero means DefaultCapacity.
	Capacity int
	// Debounce is the quiet period before pending watch events are
	// reconciled. Zero means DefaultDebounce.
	Debounce time.Duration
	// CachedWatchGrace is how long a watch outlives the last lister once the
	// entry moves to the cached map. Zero means DefaultCachedWatchGrace and a
	// negative value keeps the watch until eviction.
	CachedWatchGrace time.Duration
	// MaxConcurrentJobs caps enumeration jobs running at once. Zero means
	// no limit.
	MaxConcurrentJobs int
	// JobStartRate paces job starts per second. Zero means no pacing.
	JobStartRate float64

	Sources   Sources
	Watch     WatchBridge
	Announcer Announcer
	Logger    *logging.Logger
	Metrics   *metrics.Registry
}

func (options Options) withDefaults() Options {
	if options.Capacity <= 0 {
		options.Capacity = DefaultCapacity
	}
	if options.Debounce <= 0 {
		options.Debounce = DefaultDebounce
	}
	if options.CachedWatchGrace == 0 {
		options.CachedWatchGrace = DefaultCachedWatchGrace
	}
	if options.Sources == nil {
		options.Sources = Sources{}
	}
	if options.Announcer == nil {
		options.Announcer = NopAnnouncer{}
	}
	if options.Logger == nil {
		options.Logger = logging.Discard()
	}
	return options
}

// Package dircache is an in-memory directory listing cache shared by many
// listers.
//
// A Cache runs at most one enumeration job per location and fans its results
// out to every Lister that asked for it. Locations nobody holds stay in a
// bounded LRU for instant re-display. Filesystem change events arrive through
// a WatchBridge, are debounced and patched into held listings. All state sits
// behind one mutex and observers are called on per-lister goroutines, never
// while that mutex is held.
package dircache

import (
	"context"
	"sync"
	"time"

	"dirlister/internal/fileitem"
	"dirlister/internal/location"
	"dirlister/internal/logging"
	"dirlister/internal/metrics"

	"golang.org/x/time/rate"
)

type Cache struct {
	mutex    sync.Mutex
	options  Options
	logger   *logging.Logger
	metrics  *metrics.Registry
	registry *registry
	listers  map[*Lister]struct{}
	sink     *watchSink

	watchRefs  map[string]int
	watchOps   []watchOp
	watchMutex sync.Mutex

	pending     pendingState
	timer       *time.Timer
	reconciling bool

	limiter *rate.Limiter
	slots   chan struct{}

	nextEntryID  uint64
	nextListerID uint64
	nextJobID    uint64
	nextEpoch    uint64
	running      int
	hits         uint64
	misses       uint64
	evictions    uint64

	ctx    context.Context
	cancel context.CancelFunc
	jobs   sync.WaitGroup
	closed bool
}

// New creates a Cache. Close releases its jobs, timers and watches.
func New(options Options) *Cache {
	options = options.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	cache := &Cache{
		options:   options,
		logger:    options.Logger.Component("dircache"),
		metrics:   options.Metrics,
		registry:  newRegistry(options.Capacity),
		listers:   make(map[*Lister]struct{}),
		watchRefs: make(map[string]int),
		pending:   newPendingState(),
		ctx:       ctx,
		cancel:    cancel,
	}
	cache.sink = &watchSink{cache: cache}
	if options.MaxConcurrentJobs > 0 {
		cache.slots = make(chan struct{}, options.MaxConcurrentJobs)
	}
	if options.JobStartRate > 0 {
		burst := options.MaxConcurrentJobs
		if burst <= 0 {
			burst = 1
		}
		cache.limiter = rate.NewLimiter(rate.Limit(options.JobStartRate), burst)
	}
	return cache
}

// WatchSink is where a WatchBridge delivers events for this cache.
func (cache *Cache) WatchSink() WatchSink {
	if cache == nil {
		return nil
	}
	return cache.sink
}

// NewLister registers a lister whose deliveries go to observer.
func (cache *Cache) NewLister(observer Observer, options ...ListerOption) *Lister {
	lister := &Lister{
		cache:    cache,
		subs:     make(map[location.Location]*subscription),
		dispatch: newDispatcher(observer),
	}
	for _, option := range options {
		option(lister)
	}

	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	cache.nextListerID++
	lister.id = cache.nextListerID
	if cache.closed {
		lister.closed = true
		lister.dispatch.close()
		return lister
	}
	cache.listers[lister] = struct{}{}
	return lister
}

// Close cancels every job, stops timers, releases every watch and stops all
// lister dispatch goroutines. It waits for job goroutines to return.
func (cache *Cache) Close() error {
	if cache == nil {
		return nil
	}
	cache.mutex.Lock()
	if cache.closed {
		cache.mutex.Unlock()
		return nil
	}
	cache.closed = true
	entries := append(cache.registry.cachedEntries(), mapValues(cache.registry.inUse)...)
	if cache.timer != nil {
		cache.timer.Stop()
		cache.timer = nil
	}
	for _, entry := range entries {
		if entry.job != nil {
			cache.cancelJob(entry.job)
		}
		entry.stopGrace()
		entry.watchedWhileCached = false
		cache.unwatch(entry)
	}
	listers := make([]*Lister, 0, len(cache.listers))
	for lister := range cache.listers {
		listers = append(listers, lister)
		lister.closed = true
	}
	cache.listers = make(map[*Lister]struct{})
	cache.cancel()
	cache.mutex.Unlock()

	closeErr := cache.flushWatches()
	for _, lister := range listers {
		lister.dispatch.close()
	}
	cache.jobs.Wait()
	return closeErr
}

func mapValues(entries map[location.Location]*directoryEntry) []*directoryEntry {
	values := make([]*directoryEntry, 0, len(entries))
	for _, entry := range entries {
		values = append(values, entry)
	}
	return values
}

func (cache *Cache) Stats() Stats {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	return Stats{
		InUse:       len(cache.registry.inUse),
		Cached:      cache.registry.cachedLen(),
		RunningJobs: cache.running,
		Hits:        cache.hits,
		Misses:      cache.misses,
		Evictions:   cache.evictions,
		Watches:     len(cache.watchRefs),
	}
}

// Placement reports which map holds loc.
func (cache *Cache) Placement(loc location.Location) Placement {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	_, placement := cache.registry.lookup(loc)
	return placement
}

func (cache *Cache) InterestOf(lister *Lister, loc location.Location) Interest {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	if sub, ok := lister.subs[loc]; ok {
		return sub.interest
	}
	return InterestNone
}

// Items returns the cached items of loc in insertion order.
func (cache *Cache) Items(loc location.Location) ([]ItemRef, bool) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	entry, placement := cache.registry.lookup(loc)
	if placement == PlacementNone {
		return nil, false
	}
	return entry.items.refs(), true
}

// Item resolves a handle. It reports false once the item was removed or its
// entry destroyed.
func (cache *Cache) Item(handle Handle) (fileitem.Item, bool) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	entry, ok := cache.registry.byID[handle.entry]
	if !ok {
		return fileitem.Item{}, false
	}
	return entry.items.get(handle)
}

func (cache *Cache) FindByName(dir location.Location, name string) (ItemRef, bool) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	entry, placement := cache.registry.lookup(dir)
	if placement == PlacementNone {
		return ItemRef{}, false
	}
	return entry.items.lookup(name)
}

// ItemForLocation finds loc as an item of its parent listing, falling back
// to the root item of loc's own listing. The fallback carries a zero Handle.
func (cache *Cache) ItemForLocation(loc location.Location) (ItemRef, bool) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	if parent, ok := loc.Parent(); ok {
		if entry, placement := cache.registry.lookup(parent); placement != PlacementNone {
			if ref, found := entry.items.lookup(loc.Base()); found {
				return ref, true
			}
		}
	}
	if entry, placement := cache.registry.lookup(loc); placement != PlacementNone && entry.hasRoot {
		return ItemRef{Item: entry.root}, true
	}
	return ItemRef{}, false
}

func (cache *Cache) RootItem(loc location.Location) (fileitem.Item, bool) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	entry, placement := cache.registry.lookup(loc)
	if placement == PlacementNone || !entry.hasRoot {
		return fileitem.Item{}, false
	}
	return entry.root, true
}

// UpdateDirectory refreshes loc: a held listing is re-enumerated now and
// holders get the difference; a cached one is marked incomplete so the next
// Open re-enumerates it.
func (cache *Cache) UpdateDirectory(loc location.Location) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	if cache.closed {
		return
	}
	cache.updateDirectory(loc, false)
}

func (cache *Cache) updateDirectory(loc location.Location, inbound bool) {
	entry, placement := cache.registry.lookup(loc)
	switch placement {
	case PlacementInUse:
		if entry.job == nil {
			cache.startJob(entry, inbound)
		}
	case PlacementCached:
		entry.complete = false
	}
}

func (cache *Cache) newEntry(loc location.Location, canonical string) *directoryEntry {
	cache.nextEntryID++
	entry := newDirectoryEntry(cache.nextEntryID, loc, canonical)
	cache.registry.insert(entry)
	return entry
}

// moveToCache parks an entry nobody holds. Local entries keep (or take) a
// watch for the grace window so a quick re-open finds fresh data.
func (cache *Cache) moveToCache(entry *directoryEntry) {
	cache.registry.setPlacement(entry, PlacementCached)
	if entry.loc.IsLocal() && entry.complete && !entry.watching {
		cache.watch(entry)
	}
	if entry.watching {
		entry.watchedWhileCached = true
		cache.startGrace(entry)
	}
	for _, victim := range cache.registry.evictionVictims() {
		cache.evict(victim)
	}
	cache.reportSizes()
}

func (cache *Cache) evict(entry *directoryEntry) {
	cache.evictions++
	cache.metrics.IncEviction()
	cache.logger.Debug("evicted cached listing", map[string]string{
		"location": entry.loc.String(),
	})
	cache.destroyEntry(entry)
}

// destroyEntry drops an entry from the registry and invalidates its handles.
// The caller has already detached every lister.
func (cache *Cache) destroyEntry(entry *directoryEntry) {
	if entry.destroyed {
		return
	}
	if entry.job != nil {
		cache.cancelJob(entry.job)
	}
	entry.stopGrace()
	entry.watchedWhileCached = false
	cache.unwatch(entry)
	cache.registry.remove(entry)
	delete(cache.pending.remote, entry.loc)
	entry.destroyed = true
}

func (cache *Cache) reportSizes() {
	cache.metrics.SetEntries(len(cache.registry.inUse), cache.registry.cachedLen())
}

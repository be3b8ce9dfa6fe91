package dircache

import (
	"errors"
	"fmt"
	"time"

	"dirlister/internal/location"
)

// watchOp is a bridge call decided under the cache lock and carried out by
// flushWatches after it is released.
type watchOp struct {
	path      string
	subscribe bool
}

// watch subscribes the entry's canonical path. Several locations can share
// one canonical path; the bridge sees a single subscription per path.
func (cache *Cache) watch(entry *directoryEntry) {
	if entry.watching || !entry.loc.IsLocal() || cache.options.Watch == nil {
		return
	}
	path := entry.canonical
	if cache.watchRefs[path] == 0 {
		cache.watchOps = append(cache.watchOps, watchOp{path: path, subscribe: true})
	}
	cache.watchRefs[path]++
	entry.watching = true
	cache.options.Announcer.AnnounceEntered(entry.loc)
}

func (cache *Cache) unwatch(entry *directoryEntry) {
	if !entry.watching {
		return
	}
	entry.watching = false
	path := entry.canonical
	cache.options.Announcer.AnnounceLeft(entry.loc)
	cache.watchRefs[path]--
	if cache.watchRefs[path] > 0 {
		return
	}
	delete(cache.watchRefs, path)
	cache.watchOps = append(cache.watchOps, watchOp{path: path})
}

// flushWatches carries out queued bridge calls in the order they were
// decided. It must be called without the cache lock; callers defer it
// before locking.
func (cache *Cache) flushWatches() error {
	cache.watchMutex.Lock()
	defer cache.watchMutex.Unlock()
	cache.mutex.Lock()
	ops := cache.watchOps
	cache.watchOps = nil
	cache.mutex.Unlock()

	var flushErr error
	for _, op := range ops {
		var err error
		if op.subscribe {
			err = cache.options.Watch.Subscribe(op.path, cache.sink)
		} else {
			err = cache.options.Watch.Unsubscribe(op.path)
		}
		if err == nil {
			continue
		}
		action := "unwatch"
		if op.subscribe {
			action = "watch"
		}
		cache.logger.Warn(action+" failed", map[string]string{
			"path":  op.path,
			"error": err.Error(),
		})
		flushErr = errors.Join(flushErr, fmt.Errorf("%s %s: %w", action, op.path, err))
	}
	return flushErr
}

func (cache *Cache) startGrace(entry *directoryEntry) {
	entry.stopGrace()
	grace := cache.options.CachedWatchGrace
	if grace < 0 {
		return
	}
	generation := entry.graceGen
	entry.graceTimer = time.AfterFunc(grace, func() {
		cache.expireGrace(entry, generation)
	})
}

// expireGrace ends a lingering watch. A cached local listing that is no
// longer watched can go stale, so it is marked incomplete.
func (cache *Cache) expireGrace(entry *directoryEntry, generation uint64) {
	defer cache.flushWatches()
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	if cache.closed || entry.destroyed || entry.graceGen != generation || !entry.watchedWhileCached {
		return
	}
	entry.graceTimer = nil
	entry.watchedWhileCached = false
	if entry.autoUpdates > 0 {
		return
	}
	cache.unwatch(entry)
	if entry.placement == PlacementCached && entry.loc.IsLocal() {
		entry.complete = false
	}
}

func (cache *Cache) setAutoUpdate(lister *Lister, loc location.Location, enabled bool) {
	sub, ok := lister.subs[loc]
	if !ok || sub.autoUpdate == enabled {
		return
	}
	entry, placement := cache.registry.lookup(loc)
	if placement != PlacementInUse {
		return
	}
	sub.autoUpdate = enabled
	if enabled {
		cache.acquireAutoUpdate(entry)
		return
	}
	cache.releaseAutoUpdate(entry, true)
}

func (cache *Cache) acquireAutoUpdate(entry *directoryEntry) {
	entry.autoUpdates++
	if entry.autoUpdates != 1 {
		return
	}
	if entry.watchedWhileCached {
		entry.stopGrace()
		entry.watchedWhileCached = false
	}
	cache.watch(entry)
}

// releaseAutoUpdate drops one auto-update reference. When unwatchNow is false
// the watch is left for moveToCache to turn into a grace watch.
func (cache *Cache) releaseAutoUpdate(entry *directoryEntry, unwatchNow bool) {
	if entry.autoUpdates == 0 {
		return
	}
	entry.autoUpdates--
	if entry.autoUpdates > 0 || !unwatchNow {
		return
	}
	cache.unwatch(entry)
}

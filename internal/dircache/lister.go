package dircache

import (
	"sort"

	"dirlister/internal/location"
)

// Lister is one client of the cache. It can hold several locations at once
// (tree view) or a single one (keep=false on Open).
type Lister struct {
	cache      *Cache
	id         uint64
	autoUpdate bool
	dispatch   *dispatcher

	// guarded by cache.mutex
	subs   map[location.Location]*subscription
	filter *Filter
	closed bool
}

type ListerOption func(*Lister)

// WithAutoUpdate enables auto-update for every location the lister opens.
func WithAutoUpdate() ListerOption {
	return func(lister *Lister) {
		lister.autoUpdate = true
	}
}

// WithFilter narrows what the lister is shown. Without it every item is
// delivered.
func WithFilter(filter Filter) ListerOption {
	return func(lister *Lister) {
		lister.filter = &filter
	}
}

// StopOption changes how a stop is reported.
type StopOption int

// Loud makes a stop emit Canceled for locations that were still listing.
const Loud StopOption = 1

func isLoud(options []StopOption) bool {
	for _, option := range options {
		if option == Loud {
			return true
		}
	}
	return false
}

func (lister *Lister) ID() uint64 {
	if lister == nil {
		return 0
	}
	return lister.id
}

// Open attaches the lister to loc. Without keep the lister first lets go of
// every other location. With reload a complete cached listing is
// re-enumerated instead of served. Nothing is delivered before Open returns.
func (lister *Lister) Open(loc location.Location, keep, reload bool) (AttachResult, error) {
	if lister == nil || lister.cache == nil {
		return 0, ErrClosed
	}
	return lister.cache.open(lister, loc, keep, reload)
}

// Detach lets go of loc silently. Detaching twice is a no-op.
func (lister *Lister) Detach(loc location.Location) {
	lister.StopLocation(loc)
}

// StopLocation detaches from loc. A running job is only canceled when no
// other lister is attached.
func (lister *Lister) StopLocation(loc location.Location, options ...StopOption) {
	if lister == nil || lister.cache == nil {
		return
	}
	cache := lister.cache
	defer cache.flushWatches()
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	if cache.closed {
		return
	}
	cache.detach(lister, loc, isLoud(options))
	cache.reportSizes()
}

// Stop detaches from every location.
func (lister *Lister) Stop(options ...StopOption) {
	if lister == nil || lister.cache == nil {
		return
	}
	cache := lister.cache
	loud := isLoud(options)
	defer cache.flushWatches()
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	if cache.closed {
		return
	}
	for _, loc := range lister.locationsLocked() {
		cache.detach(lister, loc, loud)
	}
	cache.reportSizes()
}

// SetAutoUpdate turns live updates for loc on or off. The lister must be
// attached to loc.
func (lister *Lister) SetAutoUpdate(loc location.Location, enabled bool) {
	if lister == nil || lister.cache == nil {
		return
	}
	cache := lister.cache
	defer cache.flushWatches()
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	if cache.closed {
		return
	}
	cache.setAutoUpdate(lister, loc, enabled)
}

// SetFilter replaces the lister's filter. Items that leave view are reported
// removed and items that enter view are reported added, per location.
func (lister *Lister) SetFilter(filter Filter) {
	if lister == nil || lister.cache == nil {
		return
	}
	cache := lister.cache
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	if cache.closed || lister.closed {
		return
	}
	cache.setFilter(lister, &filter)
}

// Locations lists the locations the lister is attached to, sorted.
func (lister *Lister) Locations() []location.Location {
	if lister == nil || lister.cache == nil {
		return nil
	}
	lister.cache.mutex.Lock()
	defer lister.cache.mutex.Unlock()
	return lister.locationsLocked()
}

func (lister *Lister) locationsLocked() []location.Location {
	locs := make([]location.Location, 0, len(lister.subs))
	for loc := range lister.subs {
		locs = append(locs, loc)
	}
	sort.Slice(locs, func(i, j int) bool {
		return locs[i].String() < locs[j].String()
	})
	return locs
}

// Close stops the lister and its dispatch goroutine. Queued deliveries are
// dropped.
func (lister *Lister) Close() {
	if lister == nil || lister.cache == nil {
		return
	}
	cache := lister.cache
	cache.mutex.Lock()
	if !cache.closed {
		for _, loc := range lister.locationsLocked() {
			cache.detach(lister, loc, false)
		}
	}
	lister.closed = true
	delete(cache.listers, lister)
	cache.reportSizes()
	cache.mutex.Unlock()
	cache.flushWatches()
	lister.dispatch.close()
}

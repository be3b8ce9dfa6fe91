package dircache

import (
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"dirlister/internal/fileitem"
	"dirlister/internal/location"
	"dirlister/internal/otel"

	"go.opentelemetry.io/otel/attribute"
)

// pendingState collects changes between reconcile passes. Every set is
// idempotent.
type pendingState struct {
	files       map[string]struct{}
	directories map[string]struct{}
	remote      map[location.Location]map[string]struct{}
}

func newPendingState() pendingState {
	return pendingState{
		files:       make(map[string]struct{}),
		directories: make(map[string]struct{}),
		remote:      make(map[location.Location]map[string]struct{}),
	}
}

// watchSink receives bridge events. Paths are canonical filesystem paths.
type watchSink struct {
	cache *Cache
}

func (sink *watchSink) FileDirty(path string) {
	sink.cache.fileEvent(path, false)
}

func (sink *watchSink) FileCreated(path string) {
	sink.cache.fileEvent(path, false)
}

func (sink *watchSink) FileDeleted(path string) {
	sink.cache.fileEvent(path, true)
}

func (cache *Cache) fileEvent(path string, deleted bool) {
	defer cache.flushWatches()
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	if cache.closed {
		return
	}
	path = filepath.Clean(path)

	if locs := cache.registry.locationsForCanonical(path); len(locs) > 0 {
		if deleted {
			for _, loc := range locs {
				cache.deleteSubtree(loc)
			}
		} else {
			cache.directoryDirty(path, locs)
		}
	}

	parent := filepath.Dir(path)
	if parent == path || len(cache.registry.locationsForCanonical(parent)) == 0 {
		return
	}
	if _, whole := cache.pending.directories[parent]; whole {
		return
	}
	cache.pending.files[path] = struct{}{}
	cache.scheduleReconcile()
}

// directoryDirty handles a change to a listed directory itself. Cached
// listings are just marked incomplete; held ones are re-enumerated on the
// next pass, which also covers any pending file in them.
func (cache *Cache) directoryDirty(path string, locs []location.Location) {
	held := false
	for _, loc := range locs {
		entry, placement := cache.registry.lookup(loc)
		switch placement {
		case PlacementInUse:
			held = true
		case PlacementCached:
			entry.complete = false
		}
	}
	if !held {
		return
	}
	for pendingPath := range cache.pending.files {
		if filepath.Dir(pendingPath) == path {
			delete(cache.pending.files, pendingPath)
		}
	}
	cache.pending.directories[path] = struct{}{}
	cache.scheduleReconcile()
}

// scheduleReconcile restarts the quiet period.
func (cache *Cache) scheduleReconcile() {
	if cache.timer == nil {
		cache.timer = time.AfterFunc(cache.options.Debounce, cache.reconcile)
		return
	}
	cache.timer.Reset(cache.options.Debounce)
}

func (cache *Cache) schedulePendingAfterJob() {
	if len(cache.pending.files) > 0 || len(cache.pending.directories) > 0 {
		cache.scheduleReconcile()
	}
}

type statWork struct {
	path       string
	dir        location.Location
	name       string
	entry      *directoryEntry
	generation uint64
	source     Stater
	item       fileitem.Item
	ok         bool
}

// reconcile runs one pass over the pending sets. Only one pass runs at a
// time: a timer that fires during a pass leaves the pending sets alone and
// the running pass re-arms the timer when it is done. Stats run without the
// lock; a result is only applied when its entry has not been re-enumerated
// in the meantime.
func (cache *Cache) reconcile() {
	defer cache.flushWatches()
	cache.mutex.Lock()
	if cache.closed || cache.reconciling {
		cache.mutex.Unlock()
		return
	}
	directories := cache.pending.directories
	files := cache.pending.files
	cache.pending.directories = make(map[string]struct{})
	cache.pending.files = make(map[string]struct{})

	for path := range directories {
		for _, loc := range cache.registry.locationsForCanonical(path) {
			cache.updateDirectory(loc, false)
		}
	}

	var work []*statWork
	for _, path := range sortedKeys(files) {
		parent, name := filepath.Dir(path), filepath.Base(path)
		for _, dir := range cache.registry.locationsForCanonical(parent) {
			entry, placement := cache.registry.lookup(dir)
			switch placement {
			case PlacementCached:
				entry.complete = false
			case PlacementInUse:
				if entry.job != nil {
					// The running job may already have passed this name.
					cache.pending.files[path] = struct{}{}
					continue
				}
				source, ok := cache.options.Sources.lookup(dir)
				if !ok {
					continue
				}
				work = append(work, &statWork{
					path:       path,
					dir:        dir,
					name:       name,
					entry:      entry,
					generation: entry.generation,
					source:     source,
				})
			}
		}
	}
	cache.metrics.ReconcilePass(len(work))
	if len(work) == 0 {
		cache.mutex.Unlock()
		return
	}
	cache.reconciling = true
	ctx := cache.ctx
	cache.mutex.Unlock()

	ctx, span := otel.StartSpan(ctx, "dircache.reconcile", attribute.Int("paths", len(work)))
	for _, item := range work {
		stat, err := item.source.Stat(ctx, item.dir.Join(item.name))
		if err != nil {
			otel.RecordSpanEvent(ctx, "dircache.stat_missing", attribute.String("location", item.dir.Join(item.name).String()))
			cache.logger.Debug("stat failed during reconcile, treating as removed", map[string]string{
				"location": item.dir.Join(item.name).String(),
				"error":    err.Error(),
			})
			continue
		}
		item.item = stat.WithName(item.name)
		item.ok = true
	}
	otel.EndSpan(span, nil)

	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	cache.reconciling = false
	if cache.closed {
		return
	}
	byDir := make(map[location.Location][]*statWork)
	var dirs []location.Location
	for _, item := range work {
		if _, seen := byDir[item.dir]; !seen {
			dirs = append(dirs, item.dir)
		}
		byDir[item.dir] = append(byDir[item.dir], item)
	}
	for _, dir := range dirs {
		items := byDir[dir]
		entry, placement := cache.registry.lookup(dir)
		if placement != PlacementInUse || entry != items[0].entry {
			continue
		}
		if entry.job != nil || entry.generation != items[0].generation {
			// Re-enumerated while the stats ran. Stat again next pass.
			for _, item := range items {
				cache.pending.files[item.path] = struct{}{}
			}
			continue
		}
		var old, current []fileitem.Item
		for _, item := range items {
			if ref, ok := entry.items.lookup(item.name); ok {
				old = append(old, ref.Item)
			}
			if item.ok {
				current = append(current, item.item)
			}
		}
		applied := cache.applyDelta(entry, Diff(old, current))
		cache.deliverDelta(dir, entry.listers(), applied)
		if !applied.empty() {
			cache.logger.Debug("reconciled listing", map[string]string{
				"location":  dir.String(),
				"added":     strconv.Itoa(len(applied.added)),
				"removed":   strconv.Itoa(len(applied.removed)),
				"refreshed": strconv.Itoa(len(applied.refreshed)),
			})
		}
	}
	cache.schedulePendingAfterJob()
}

// deleteSubtree destroys root and every tracked location below it. Listers
// attached to any of them get the removed items, then a not-found failure,
// and are detached.
func (cache *Cache) deleteSubtree(root location.Location) {
	for _, entry := range cache.registry.subtree(root) {
		if entry.destroyed {
			continue
		}
		dir := entry.loc
		refs := entry.items.refs()
		failure := &Error{Kind: KindNotFound, Location: dir, Err: ErrNotFound}
		for _, lister := range entry.listers() {
			cache.setInterest(lister, entry, InterestNone)
			if visible := lister.visible(refs); len(visible) > 0 {
				cache.deliverFinal(lister, func(observer Observer) {
					observer.ItemsRemoved(dir, visible)
				})
			}
			cache.deliverFinal(lister, func(observer Observer) {
				observer.Failed(dir, failure)
			})
		}
		entry.autoUpdates = 0
		cache.logger.Info("listing deleted", map[string]string{
			"location": dir.String(),
		})
		cache.destroyEntry(entry)
	}
	cache.reportSizes()
}

// FilesAdded handles an inbound notice that dir gained entries.
func (cache *Cache) FilesAdded(dir location.Location) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	if cache.closed {
		return
	}
	cache.updateDirectory(dir, true)
}

// FilesRemoved handles an inbound notice that locs no longer exist.
func (cache *Cache) FilesRemoved(locs []location.Location) {
	defer cache.flushWatches()
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	if cache.closed {
		return
	}
	removed := make(map[location.Location][]fileitem.Item)
	var dirs []location.Location
	for _, loc := range locs {
		parent, ok := loc.Parent()
		if !ok {
			continue
		}
		entry, placement := cache.registry.lookup(parent)
		if placement != PlacementNone {
			if ref, found := entry.items.lookup(loc.Base()); found {
				if _, seen := removed[parent]; !seen {
					dirs = append(dirs, parent)
				}
				removed[parent] = append(removed[parent], ref.Item)
			}
		}
		cache.deleteSubtree(loc)
	}
	for _, dir := range dirs {
		entry, placement := cache.registry.lookup(dir)
		if placement == PlacementNone {
			continue
		}
		applied := cache.applyDelta(entry, Delta{Removed: removed[dir]})
		cache.deliverDelta(dir, entry.listers(), applied)
	}
}

// FilesChanged handles an inbound notice that locs changed. Local items go
// through the reconcile pass; remote ones wait for the next enumeration.
func (cache *Cache) FilesChanged(locs []location.Location) {
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	if cache.closed {
		return
	}
	for _, loc := range locs {
		parent, ok := loc.Parent()
		if !ok {
			continue
		}
		entry, placement := cache.registry.lookup(parent)
		if placement == PlacementNone {
			continue
		}
		if loc.IsLocal() {
			cache.pending.files[filepath.Join(entry.canonical, loc.Base())] = struct{}{}
			cache.scheduleReconcile()
			continue
		}
		names := cache.pending.remote[parent]
		if names == nil {
			names = make(map[string]struct{})
			cache.pending.remote[parent] = names
		}
		names[loc.Base()] = struct{}{}
	}
}

// FileRenamed handles an inbound rename. The item is renamed in place in its
// parent listing and any tracked listing at or below src moves to the
// matching location under dst with its items kept.
func (cache *Cache) FileRenamed(src, dst location.Location) {
	if src == dst {
		return
	}
	dstCanonical := dst.Canonical()
	defer cache.flushWatches()
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	if cache.closed {
		return
	}
	cache.renameItem(src, dst)
	for _, entry := range cache.registry.subtree(src) {
		if entry.destroyed {
			continue
		}
		target, ok := entry.loc.Rebase(src, dst)
		if !ok {
			continue
		}
		existing, placement := cache.registry.lookup(target)
		switch placement {
		case PlacementCached:
			cache.destroyEntry(existing)
		case PlacementInUse:
			cache.mergeInto(entry, existing)
			continue
		}
		cache.rekeyEntry(entry, target, rebaseCanonical(target, dst, dstCanonical))
	}
	cache.reportSizes()
}

func (cache *Cache) renameItem(src, dst location.Location) {
	srcParent, okSrc := src.Parent()
	dstParent, okDst := dst.Parent()
	if !okSrc || !okDst {
		return
	}
	srcEntry, srcPlacement := cache.registry.lookup(srcParent)
	if srcPlacement == PlacementNone {
		cache.updateDirectory(dstParent, true)
		return
	}
	ref, found := srcEntry.items.lookup(src.Base())
	if !found {
		cache.updateDirectory(dstParent, true)
		return
	}
	renamed := ref.Item.WithName(dst.Base())

	if srcParent == dstParent {
		if _, taken := srcEntry.items.lookup(renamed.Name); taken {
			cache.applyDeltaAndDeliver(srcEntry, Delta{Removed: []fileitem.Item{renamed}})
		}
		refresh, ok := srcEntry.items.rename(src.Base(), renamed)
		if !ok {
			return
		}
		cache.deliverDelta(srcParent, srcEntry.listers(), appliedDelta{refreshed: []Refresh{refresh}})
		return
	}

	removed, _ := srcEntry.items.remove(src.Base())
	cache.deliverDelta(srcParent, srcEntry.listers(), appliedDelta{removed: []ItemRef{removed}})
	dstEntry, dstPlacement := cache.registry.lookup(dstParent)
	if dstPlacement == PlacementNone {
		return
	}
	cache.applyDeltaAndDeliver(dstEntry, Diff(existingItems(dstEntry, renamed.Name), []fileitem.Item{renamed}))
}

func (cache *Cache) applyDeltaAndDeliver(entry *directoryEntry, delta Delta) {
	applied := cache.applyDelta(entry, delta)
	cache.deliverDelta(entry.loc, entry.listers(), applied)
}

func existingItems(entry *directoryEntry, name string) []fileitem.Item {
	if ref, ok := entry.items.lookup(name); ok {
		return []fileitem.Item{ref.Item}
	}
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

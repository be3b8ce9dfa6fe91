package dircache

import (
	"dirlister/internal/fileitem"
	"dirlister/internal/location"
)

type Change struct {
	Old fileitem.Item
	New fileitem.Item
}

// Delta is the name-keyed difference between two item sets.
type Delta struct {
	Added     []fileitem.Item
	Removed   []fileitem.Item
	Refreshed []Change
}

func (delta Delta) Empty() bool {
	return len(delta.Added) == 0 && len(delta.Removed) == 0 && len(delta.Refreshed) == 0
}

// Diff compares old and current by name. Added and Refreshed follow the
// order of current, Removed follows the order of old.
func Diff(old, current []fileitem.Item) Delta {
	return diffForcing(old, current, nil)
}

// diffForcing reports names in force as refreshed even when their metadata
// compares equal.
func diffForcing(old, current []fileitem.Item, force map[string]struct{}) Delta {
	previous := make(map[string]fileitem.Item, len(old))
	for _, item := range old {
		previous[item.Name] = item
	}
	present := make(map[string]struct{}, len(current))

	var delta Delta
	for _, item := range current {
		present[item.Name] = struct{}{}
		before, ok := previous[item.Name]
		if !ok {
			delta.Added = append(delta.Added, item)
			continue
		}
		_, forced := force[item.Name]
		if forced || before.Changed(item) {
			delta.Refreshed = append(delta.Refreshed, Change{Old: before, New: item})
		}
	}
	for _, item := range old {
		if _, ok := present[item.Name]; !ok {
			delta.Removed = append(delta.Removed, item)
		}
	}
	return delta
}

// appliedDelta is a Delta after it has been written to an arena, carrying
// the handles observers see.
type appliedDelta struct {
	added     []ItemRef
	removed   []ItemRef
	refreshed []Refresh
}

func (applied appliedDelta) empty() bool {
	return len(applied.added) == 0 && len(applied.removed) == 0 && len(applied.refreshed) == 0
}

// applyDelta writes delta into entry. Removed directories take their tracked
// subtree with them.
func (cache *Cache) applyDelta(entry *directoryEntry, delta Delta) appliedDelta {
	var applied appliedDelta
	for _, item := range delta.Removed {
		ref, ok := entry.items.remove(item.Name)
		if !ok {
			continue
		}
		applied.removed = append(applied.removed, ref)
	}
	for _, change := range delta.Refreshed {
		handle, _, _ := entry.items.put(change.New)
		applied.refreshed = append(applied.refreshed, Refresh{Handle: handle, Old: change.Old, New: change.New})
	}
	for _, item := range delta.Added {
		handle, _, _ := entry.items.put(item)
		applied.added = append(applied.added, ItemRef{Handle: handle, Item: item})
	}
	cache.dropRemovedDirectories(entry.loc, applied.removed)
	return applied
}

func (cache *Cache) dropRemovedDirectories(dir location.Location, removed []ItemRef) {
	for _, ref := range removed {
		if ref.Item.IsDir() {
			cache.deleteSubtree(dir.Join(ref.Item.Name))
		}
	}
}

// deliverDelta sends at most one call per kind to each lister, narrowed to
// what the lister's filter lets through.
func (cache *Cache) deliverDelta(dir location.Location, listers []*Lister, applied appliedDelta) {
	if applied.empty() {
		return
	}
	for _, lister := range listers {
		applied := lister.visibleDelta(applied)
		if len(applied.added) > 0 {
			added := applied.added
			cache.deliver(lister, dir, func(observer Observer) {
				observer.ItemsAdded(dir, added)
			})
		}
		if len(applied.refreshed) > 0 {
			refreshed := applied.refreshed
			cache.deliver(lister, dir, func(observer Observer) {
				observer.ItemsRefreshed(dir, refreshed)
			})
		}
		if len(applied.removed) > 0 {
			removed := applied.removed
			cache.deliver(lister, dir, func(observer Observer) {
				observer.ItemsRemoved(dir, removed)
			})
		}
	}
}

func (cache *Cache) announceDelta(dir location.Location, applied appliedDelta) {
	if len(applied.added) > 0 {
		cache.options.Announcer.AnnounceFilesAdded(dir)
	}
	if len(applied.removed) > 0 {
		cache.options.Announcer.AnnounceFilesRemoved(refLocations(dir, applied.removed))
	}
	if len(applied.refreshed) > 0 {
		locs := make([]location.Location, 0, len(applied.refreshed))
		for _, refresh := range applied.refreshed {
			locs = append(locs, dir.Join(refresh.New.Name))
		}
		cache.options.Announcer.AnnounceFilesChanged(locs)
	}
}

func refLocations(dir location.Location, refs []ItemRef) []location.Location {
	locs := make([]location.Location, 0, len(refs))
	for _, ref := range refs {
		locs = append(locs, dir.Join(ref.Item.Name))
	}
	return locs
}

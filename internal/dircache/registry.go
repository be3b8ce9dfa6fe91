package dircache

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"dirlister/internal/location"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// registry owns entry lifetime. An entry is in exactly one of inUse or
// cached. The cached side is an LRU sized so it never evicts on its own:
// evictionVictims picks what leaves.
type registry struct {
	inUse       map[location.Location]*directoryEntry
	cached      *simplelru.LRU[location.Location, *directoryEntry]
	capacity    int
	byID        map[uint64]*directoryEntry
	byCanonical map[string]map[location.Location]struct{}
}

func newRegistry(capacity int) *registry {
	cached, err := simplelru.NewLRU[location.Location, *directoryEntry](math.MaxInt, nil)
	if err != nil {
		panic(fmt.Sprintf("dircache: cached lru: %v", err))
	}
	return &registry{
		inUse:       make(map[location.Location]*directoryEntry),
		cached:      cached,
		capacity:    capacity,
		byID:        make(map[uint64]*directoryEntry),
		byCanonical: make(map[string]map[location.Location]struct{}),
	}
}

// lookup does not count as a use. Only parking an entry refreshes its
// recency.
func (r *registry) lookup(loc location.Location) (*directoryEntry, Placement) {
	if entry, ok := r.inUse[loc]; ok {
		return entry, PlacementInUse
	}
	if entry, ok := r.cached.Peek(loc); ok {
		return entry, PlacementCached
	}
	return nil, PlacementNone
}

// cachedEntries lists the cached map, least recently parked first.
func (r *registry) cachedEntries() []*directoryEntry {
	return r.cached.Values()
}

func (r *registry) cachedLen() int {
	return r.cached.Len()
}

// insert registers a fresh entry as in use.
func (r *registry) insert(entry *directoryEntry) {
	r.byID[entry.id] = entry
	r.indexCanonical(entry)
	r.setPlacement(entry, PlacementInUse)
}

// setPlacement is the only place entries move between the two maps.
func (r *registry) setPlacement(entry *directoryEntry, to Placement) {
	_, inUse := r.inUse[entry.loc]
	cached := r.cached.Contains(entry.loc)
	if inUse && cached {
		panic(fmt.Sprintf("dircache: %s is both in use and cached", entry.loc))
	}
	if (entry.placement == PlacementInUse) != inUse || (entry.placement == PlacementCached) != cached {
		panic(fmt.Sprintf("dircache: %s placement %s out of sync", entry.loc, entry.placement))
	}

	switch entry.placement {
	case PlacementInUse:
		delete(r.inUse, entry.loc)
	case PlacementCached:
		r.cached.Remove(entry.loc)
	}

	switch to {
	case PlacementInUse:
		r.inUse[entry.loc] = entry
	case PlacementCached:
		r.cached.Add(entry.loc, entry)
	}
	entry.placement = to
}

func (r *registry) remove(entry *directoryEntry) {
	r.setPlacement(entry, PlacementNone)
	delete(r.byID, entry.id)
	r.unindexCanonical(entry)
}

// rekey moves entry to a new location in whichever map holds it. The caller
// resolves the new canonical path.
func (r *registry) rekey(entry *directoryEntry, to location.Location, canonical string) {
	placement := entry.placement
	r.setPlacement(entry, PlacementNone)
	r.unindexCanonical(entry)
	entry.loc = to
	entry.canonical = canonical
	r.indexCanonical(entry)
	r.setPlacement(entry, placement)
}

// evictionVictims walks the cached map from the least recent end and picks
// entries until it is back within capacity. Entries with auto-update
// subscribers are never picked.
func (r *registry) evictionVictims() []*directoryEntry {
	over := r.cached.Len() - r.capacity
	var victims []*directoryEntry
	for _, entry := range r.cachedEntries() {
		if over <= 0 {
			break
		}
		if entry.autoUpdates > 0 {
			continue
		}
		victims = append(victims, entry)
		over--
	}
	return victims
}

func (r *registry) locationsForCanonical(path string) []location.Location {
	set := r.byCanonical[path]
	if len(set) == 0 {
		return nil
	}
	locs := make([]location.Location, 0, len(set))
	for loc := range set {
		locs = append(locs, loc)
	}
	sort.Slice(locs, func(i, j int) bool {
		return locs[i].String() < locs[j].String()
	})
	return locs
}

// subtree returns root and every tracked descendant, parents first.
func (r *registry) subtree(root location.Location) []*directoryEntry {
	var found []*directoryEntry
	collect := func(entry *directoryEntry) {
		if entry.loc == root || root.IsAncestorOf(entry.loc) {
			found = append(found, entry)
		}
	}
	for _, entry := range r.inUse {
		collect(entry)
	}
	for _, entry := range r.cachedEntries() {
		collect(entry)
	}
	sort.Slice(found, func(i, j int) bool {
		di := strings.Count(found[i].loc.Path(), "/")
		dj := strings.Count(found[j].loc.Path(), "/")
		if di != dj {
			return di < dj
		}
		return found[i].loc.String() < found[j].loc.String()
	})
	return found
}

func (r *registry) indexCanonical(entry *directoryEntry) {
	set := r.byCanonical[entry.canonical]
	if set == nil {
		set = make(map[location.Location]struct{})
		r.byCanonical[entry.canonical] = set
	}
	set[entry.loc] = struct{}{}
}

func (r *registry) unindexCanonical(entry *directoryEntry) {
	set := r.byCanonical[entry.canonical]
	delete(set, entry.loc)
	if len(set) == 0 {
		delete(r.byCanonical, entry.canonical)
	}
}

// rebaseCanonical derives the canonical path of target, which sits at or
// below dst, from the already resolved canonical path of dst.
func rebaseCanonical(target, dst location.Location, dstCanonical string) string {
	if !target.IsLocal() {
		return target.String()
	}
	rel := strings.TrimPrefix(target.Path(), dst.Path())
	return filepath.Join(dstCanonical, filepath.FromSlash(rel))
}

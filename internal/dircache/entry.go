package dircache

import (
	"time"

	"dirlister/internal/fileitem"
	"dirlister/internal/location"
)

// directoryEntry is the cached state of one location. It is only touched
// with Cache.mutex held.
type directoryEntry struct {
	id        uint64
	loc       location.Location
	canonical string
	items     *arena

	root    fileitem.Item
	hasRoot bool

	complete bool
	// generation changes whenever a job finishes or is canceled, so work
	// computed against an older state can be recognized.
	generation         uint64
	autoUpdates        int
	watching           bool
	watchedWhileCached bool
	graceTimer         *time.Timer
	graceGen           uint64

	placement Placement
	destroyed bool

	listing map[*Lister]struct{}
	holding map[*Lister]struct{}
	job     *job
}

// newDirectoryEntry takes the canonical path from the caller, which resolves
// it before taking the cache lock.
func newDirectoryEntry(id uint64, loc location.Location, canonical string) *directoryEntry {
	return &directoryEntry{
		id:        id,
		loc:       loc,
		canonical: canonical,
		items:     newArena(id),
		listing:   make(map[*Lister]struct{}),
		holding:   make(map[*Lister]struct{}),
	}
}

func (entry *directoryEntry) hasListers() bool {
	return len(entry.listing)+len(entry.holding) > 0
}

// listers snapshots both interest sets so deliveries can run while the sets
// change underneath.
func (entry *directoryEntry) listers() []*Lister {
	all := make([]*Lister, 0, len(entry.listing)+len(entry.holding))
	for lister := range entry.listing {
		all = append(all, lister)
	}
	for lister := range entry.holding {
		all = append(all, lister)
	}
	return all
}

func (entry *directoryEntry) listingListers() []*Lister {
	snapshot := make([]*Lister, 0, len(entry.listing))
	for lister := range entry.listing {
		snapshot = append(snapshot, lister)
	}
	return snapshot
}

func (entry *directoryEntry) holdingListers() []*Lister {
	snapshot := make([]*Lister, 0, len(entry.holding))
	for lister := range entry.holding {
		snapshot = append(snapshot, lister)
	}
	return snapshot
}

func (entry *directoryEntry) stopGrace() {
	entry.graceGen++
	if entry.graceTimer != nil {
		entry.graceTimer.Stop()
		entry.graceTimer = nil
	}
}

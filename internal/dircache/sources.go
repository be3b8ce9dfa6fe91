package dircache

import (
	"context"

	"dirlister/internal/fileitem"
	"dirlister/internal/location"
)

// Sink receives the results of one enumeration. Calls after the job was
// canceled are ignored.
type Sink interface {
	Entries(items []fileitem.Item)
	Root(item fileitem.Item)
	// Redirect moves the listing to another location. keepItems preserves
	// the items already delivered.
	Redirect(to location.Location, keepItems bool)
}

// Enumerator lists one location. Enumerate blocks until the listing is done
// and must return promptly once ctx is canceled.
type Enumerator interface {
	Enumerate(ctx context.Context, loc location.Location, sink Sink) error
}

// Stater looks up a single item by its full location.
type Stater interface {
	Stat(ctx context.Context, loc location.Location) (fileitem.Item, error)
}

type Source interface {
	Enumerator
	Stater
}

// Sources maps a location scheme to its Source.
type Sources map[string]Source

func (sources Sources) lookup(loc location.Location) (Source, bool) {
	source, ok := sources[loc.Scheme()]
	return source, ok && source != nil
}

// WatchSink receives filesystem events for subscribed canonical paths. Paths
// are canonical filesystem paths of the changed file or directory.
type WatchSink interface {
	FileDirty(path string)
	FileCreated(path string)
	FileDeleted(path string)
}

// WatchBridge subscribes canonical directory paths for change events.
type WatchBridge interface {
	Subscribe(canonicalPath string, sink WatchSink) error
	Unsubscribe(canonicalPath string) error
}

// Announcer tells cooperating caches in other processes about changes. Calls
// are fire-and-forget and must not block.
type Announcer interface {
	AnnounceEntered(loc location.Location)
	AnnounceLeft(loc location.Location)
	AnnounceFilesAdded(dir location.Location)
	AnnounceFilesRemoved(locs []location.Location)
	AnnounceFilesChanged(locs []location.Location)
}

type NopAnnouncer struct{}

func (NopAnnouncer) AnnounceEntered(location.Location)        {}
func (NopAnnouncer) AnnounceLeft(location.Location)           {}
func (NopAnnouncer) AnnounceFilesAdded(location.Location)     {}
func (NopAnnouncer) AnnounceFilesRemoved([]location.Location) {}
func (NopAnnouncer) AnnounceFilesChanged([]location.Location) {}

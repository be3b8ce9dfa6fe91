package notify

import (
	"dirlister/internal/dircache"
	"dirlister/internal/event"
	"dirlister/internal/location"
)

// Nop discards every announcement.
type Nop = dircache.NopAnnouncer

// BusAnnouncer publishes cache announcements as DirEvents stamped with the
// local origin id.
type BusAnnouncer struct {
	bus    event.Publisher[event.DirEvent]
	origin string
}

func NewBusAnnouncer(bus event.Publisher[event.DirEvent], origin string) *BusAnnouncer {
	return &BusAnnouncer{bus: bus, origin: origin}
}

func (announcer *BusAnnouncer) publish(dirEvent event.DirEvent) {
	if announcer == nil || announcer.bus == nil {
		return
	}
	announcer.bus.Publish(dirEvent.WithOrigin(announcer.origin))
}

func (announcer *BusAnnouncer) AnnounceEntered(loc location.Location) {
	announcer.publish(event.NewDirEvent(event.TypeDirEntered, loc.String()))
}

func (announcer *BusAnnouncer) AnnounceLeft(loc location.Location) {
	announcer.publish(event.NewDirEvent(event.TypeDirLeft, loc.String()))
}

func (announcer *BusAnnouncer) AnnounceFilesAdded(dir location.Location) {
	announcer.publish(event.NewDirEvent(event.TypeFilesAdded, dir.String()))
}

func (announcer *BusAnnouncer) AnnounceFilesRemoved(locs []location.Location) {
	announcer.publish(event.NewDirEvent(event.TypeFilesRemoved, "", locationStrings(locs)...))
}

func (announcer *BusAnnouncer) AnnounceFilesChanged(locs []location.Location) {
	announcer.publish(event.NewDirEvent(event.TypeFilesChanged, "", locationStrings(locs)...))
}

func locationStrings(locs []location.Location) []string {
	values := make([]string, 0, len(locs))
	for _, loc := range locs {
		values = append(values, loc.String())
	}
	return values
}

var _ dircache.Announcer = (*BusAnnouncer)(nil)

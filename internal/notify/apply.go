package notify

import (
	"errors"
	"fmt"

	"dirlister/internal/event"
	"dirlister/internal/location"
)

var errNoPaths = errors.New("event carries no paths")

// Target receives inbound change notices. *dircache.Cache implements it.
type Target interface {
	FilesAdded(dir location.Location)
	FilesRemoved(locs []location.Location)
	FilesChanged(locs []location.Location)
	FileRenamed(src, dst location.Location)
}

// Apply feeds one DirEvent into target. Entered and left notices are
// informational and ignored.
func Apply(target Target, dirEvent event.DirEvent) error {
	switch dirEvent.EventType {
	case event.TypeDirEntered, event.TypeDirLeft:
		return nil
	case event.TypeFilesAdded:
		dir, err := location.Parse(dirEvent.Dir)
		if err != nil {
			return fmt.Errorf("files added: %w", err)
		}
		target.FilesAdded(dir)
	case event.TypeFilesRemoved:
		locs, err := parseLocations(dirEvent.Paths)
		if err != nil {
			return fmt.Errorf("files removed: %w", err)
		}
		target.FilesRemoved(locs)
	case event.TypeFilesChanged:
		locs, err := parseLocations(dirEvent.Paths)
		if err != nil {
			return fmt.Errorf("files changed: %w", err)
		}
		target.FilesChanged(locs)
	case event.TypeFileRenamed:
		from, err := location.Parse(dirEvent.From)
		if err != nil {
			return fmt.Errorf("file renamed: %w", err)
		}
		to, err := location.Parse(dirEvent.To)
		if err != nil {
			return fmt.Errorf("file renamed: %w", err)
		}
		target.FileRenamed(from, to)
	default:
		return fmt.Errorf("unknown event type %q", dirEvent.EventType)
	}
	return nil
}

func parseLocations(values []string) ([]location.Location, error) {
	if len(values) == 0 {
		return nil, errNoPaths
	}
	locs := make([]location.Location, 0, len(values))
	for _, value := range values {
		loc, err := location.Parse(value)
		if err != nil {
			return nil, err
		}
		locs = append(locs, loc)
	}
	return locs, nil
}

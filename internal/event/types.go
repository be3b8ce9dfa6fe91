package event

import "time"

// Event represents a typed event with an occurrence timestamp.
type Event interface {
	Type() string
	Timestamp() time.Time
}

// Directory change event types.
const (
	TypeDirEntered   = "dir_entered"
	TypeDirLeft      = "dir_left"
	TypeFilesAdded   = "files_added"
	TypeFilesRemoved = "files_removed"
	TypeFilesChanged = "files_changed"
	TypeFileRenamed  = "file_renamed"
)

// DirEvent is a change notice about directory contents. Locations travel as
// their string form so events can cross process boundaries unchanged.
// Origin names the process that produced the event.
type DirEvent struct {
	EventType  string    `json:"type" jsonschema:"required,enum=dir_entered,enum=dir_left,enum=files_added,enum=files_removed,enum=files_changed,enum=file_renamed"`
	Origin     string    `json:"origin,omitempty"`
	Dir        string    `json:"dir,omitempty"`
	Paths      []string  `json:"paths,omitempty"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	OccurredAt time.Time `json:"occurred_at" jsonschema:"required"`
}

// NewDirEvent builds an event about dir (entered, left, files added) or about
// the given paths (removed, changed).
func NewDirEvent(eventType, dir string, paths ...string) DirEvent {
	return DirEvent{
		EventType:  eventType,
		Dir:        dir,
		Paths:      paths,
		OccurredAt: time.Now().UTC(),
	}
}

func NewRenameEvent(from, to string) DirEvent {
	return DirEvent{
		EventType:  TypeFileRenamed,
		From:       from,
		To:         to,
		OccurredAt: time.Now().UTC(),
	}
}

func (e DirEvent) Type() string {
	return e.EventType
}

func (e DirEvent) Timestamp() time.Time {
	return e.OccurredAt
}

// WithOrigin returns a copy of e stamped with origin.
func (e DirEvent) WithOrigin(origin string) DirEvent {
	e.Origin = origin
	return e
}

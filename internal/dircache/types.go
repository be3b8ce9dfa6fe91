package dircache

import (
	"fmt"

	"dirlister/internal/fileitem"
)

// Handle is a stable reference to an item inside one directory entry. It
// stays valid across sibling insertions and removals and across refreshes
// of the same name. It becomes invalid when the item is removed or the
// entry is destroyed.
type Handle struct {
	entry uint64
	slot  uint32
	gen   uint32
}

func (h Handle) IsZero() bool {
	return h.entry == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("%d:%d.%d", h.entry, h.slot, h.gen)
}

type ItemRef struct {
	Handle Handle
	Item   fileitem.Item
}

// Refresh carries both versions of an item whose metadata changed. Old.Name
// differs from New.Name after a rename.
type Refresh struct {
	Handle Handle
	Old    fileitem.Item
	New    fileitem.Item
}

type Placement int

const (
	PlacementNone Placement = iota
	PlacementInUse
	PlacementCached
)

func (p Placement) String() string {
	switch p {
	case PlacementInUse:
		return "in_use"
	case PlacementCached:
		return "cached"
	default:
		return "none"
	}
}

type Interest int

const (
	InterestNone Interest = iota
	InterestListing
	InterestHolding
)

func (i Interest) String() string {
	switch i {
	case InterestListing:
		return "listing"
	case InterestHolding:
		return "holding"
	default:
		return "none"
	}
}

// AttachResult says how an Open was served.
type AttachResult int

const (
	AttachServedFromCache AttachResult = iota + 1
	AttachJobJoined
	AttachJobStarted
)

func (r AttachResult) String() string {
	switch r {
	case AttachServedFromCache:
		return "served_from_cache"
	case AttachJobJoined:
		return "job_joined"
	case AttachJobStarted:
		return "job_started"
	default:
		return "unknown"
	}
}

type Stats struct {
	InUse       int
	Cached      int
	RunningJobs int
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Watches     int
}

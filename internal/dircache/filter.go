package dircache

import (
	"fmt"
	"path"
	"strings"

	"dirlister/internal/fileitem"
)

// Filter decides which items a lister is shown. Hidden items are dotfiles.
// Name filters are case-insensitive wildcard patterns that only apply to
// non-directories. The zero value hides dotfiles and shows everything else.
type Filter struct {
	ShowHidden  bool
	DirsOnly    bool
	NameFilters []string
}

func (filter Filter) Visible(item fileitem.Item) bool {
	if filter.DirsOnly && !item.IsDir() {
		return false
	}
	if !filter.ShowHidden && item.IsHidden() {
		return false
	}
	if item.IsDir() || len(filter.NameFilters) == 0 {
		return true
	}
	name := strings.ToLower(item.Name)
	for _, pattern := range filter.NameFilters {
		if matched, _ := path.Match(strings.ToLower(pattern), name); matched {
			return true
		}
	}
	return false
}

// ParseNameFilters splits a space separated pattern list such as
// "*.jpg *.png" and rejects malformed patterns.
func ParseNameFilters(list string) ([]string, error) {
	patterns := strings.Fields(list)
	for _, pattern := range patterns {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("invalid name filter %q: %w", pattern, err)
		}
	}
	return patterns, nil
}

// visibleTo treats a nil filter as showing everything.
func visibleTo(filter *Filter, item fileitem.Item) bool {
	return filter == nil || filter.Visible(item)
}

func (lister *Lister) visible(refs []ItemRef) []ItemRef {
	if lister.filter == nil {
		return refs
	}
	visible := make([]ItemRef, 0, len(refs))
	for _, ref := range refs {
		if lister.filter.Visible(ref.Item) {
			visible = append(visible, ref)
		}
	}
	return visible
}

// visibleDelta narrows applied to what the lister can see. A refresh that
// crosses the filter turns into an addition or a removal.
func (lister *Lister) visibleDelta(applied appliedDelta) appliedDelta {
	if lister.filter == nil {
		return applied
	}
	narrowed := appliedDelta{
		added:   lister.visible(applied.added),
		removed: lister.visible(applied.removed),
	}
	for _, refresh := range applied.refreshed {
		before := lister.filter.Visible(refresh.Old)
		after := lister.filter.Visible(refresh.New)
		switch {
		case before && after:
			narrowed.refreshed = append(narrowed.refreshed, refresh)
		case before:
			narrowed.removed = append(narrowed.removed, ItemRef{Handle: refresh.Handle, Item: refresh.Old})
		case after:
			narrowed.added = append(narrowed.added, ItemRef{Handle: refresh.Handle, Item: refresh.New})
		}
	}
	return narrowed
}

// setFilter swaps the lister's filter and tells it which items of each
// attached location left or entered view.
func (cache *Cache) setFilter(lister *Lister, filter *Filter) {
	previous := lister.filter
	lister.filter = filter
	for _, loc := range lister.locationsLocked() {
		entry, placement := cache.registry.lookup(loc)
		if placement != PlacementInUse {
			continue
		}
		refs := entry.items.refs()
		if sub := lister.subs[loc]; sub.interest == InterestListing && entry.job != nil {
			refs = cache.seenRefs(entry.job)
		}
		var hidden, shown []ItemRef
		for _, ref := range refs {
			before := visibleTo(previous, ref.Item)
			after := visibleTo(filter, ref.Item)
			switch {
			case before && !after:
				hidden = append(hidden, ref)
			case after && !before:
				shown = append(shown, ref)
			}
		}
		dir := loc
		if len(hidden) > 0 {
			cache.deliver(lister, dir, func(observer Observer) {
				observer.ItemsRemoved(dir, hidden)
			})
		}
		if len(shown) > 0 {
			cache.deliver(lister, dir, func(observer Observer) {
				observer.ItemsAdded(dir, shown)
			})
		}
	}
}

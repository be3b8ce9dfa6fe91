package dircache

import "dirlister/internal/fileitem"

const noSlot = -1

type slot struct {
	item fileitem.Item
	gen  uint32
	used bool
	prev int32
	next int32
}

// arena stores the items of one entry. Slots never move, so a Handle is a
// slot index plus the generation it was issued for; removing an item bumps
// the generation before the slot is reused.
type arena struct {
	entryID uint64
	slots   []slot
	free    []int32
	byName  map[string]int32
	head    int32
	tail    int32
}

func newArena(entryID uint64) *arena {
	return &arena{
		entryID: entryID,
		byName:  make(map[string]int32),
		head:    noSlot,
		tail:    noSlot,
	}
}

func (a *arena) len() int {
	return len(a.byName)
}

func (a *arena) handle(index int32) Handle {
	return Handle{entry: a.entryID, slot: uint32(index), gen: a.slots[index].gen}
}

func (a *arena) resolve(h Handle) (int32, bool) {
	if h.entry != a.entryID || int(h.slot) >= len(a.slots) {
		return noSlot, false
	}
	index := int32(h.slot)
	current := a.slots[index]
	if !current.used || current.gen != h.gen {
		return noSlot, false
	}
	return index, true
}

func (a *arena) get(h Handle) (fileitem.Item, bool) {
	index, ok := a.resolve(h)
	if !ok {
		return fileitem.Item{}, false
	}
	return a.slots[index].item, true
}

func (a *arena) lookup(name string) (ItemRef, bool) {
	index, ok := a.byName[name]
	if !ok {
		return ItemRef{}, false
	}
	return ItemRef{Handle: a.handle(index), Item: a.slots[index].item}, true
}

// put inserts item, or replaces the item of the same name in place. The
// previous value is returned when one existed.
func (a *arena) put(item fileitem.Item) (Handle, fileitem.Item, bool) {
	if index, ok := a.byName[item.Name]; ok {
		old := a.slots[index].item
		a.slots[index].item = item
		return a.handle(index), old, true
	}

	var index int32
	if n := len(a.free); n > 0 {
		index = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, slot{})
		index = int32(len(a.slots) - 1)
	}
	a.slots[index].item = item
	a.slots[index].used = true
	a.linkTail(index)
	a.byName[item.Name] = index
	return a.handle(index), fileitem.Item{}, false
}

func (a *arena) remove(name string) (ItemRef, bool) {
	index, ok := a.byName[name]
	if !ok {
		return ItemRef{}, false
	}
	ref := ItemRef{Handle: a.handle(index), Item: a.slots[index].item}
	delete(a.byName, name)
	a.unlink(index)
	a.slots[index] = slot{gen: a.slots[index].gen + 1, prev: noSlot, next: noSlot}
	a.free = append(a.free, index)
	return ref, true
}

// rename moves the item at oldName to item.Name keeping its handle. It fails
// when oldName is missing or item.Name is taken by another item.
func (a *arena) rename(oldName string, item fileitem.Item) (Refresh, bool) {
	index, ok := a.byName[oldName]
	if !ok {
		return Refresh{}, false
	}
	if other, taken := a.byName[item.Name]; taken && other != index {
		return Refresh{}, false
	}
	old := a.slots[index].item
	delete(a.byName, oldName)
	a.slots[index].item = item
	a.byName[item.Name] = index
	return Refresh{Handle: a.handle(index), Old: old, New: item}, true
}

// refs returns every item in insertion order.
func (a *arena) refs() []ItemRef {
	refs := make([]ItemRef, 0, len(a.byName))
	for index := a.head; index != noSlot; index = a.slots[index].next {
		refs = append(refs, ItemRef{Handle: a.handle(index), Item: a.slots[index].item})
	}
	return refs
}

func (a *arena) items() []fileitem.Item {
	items := make([]fileitem.Item, 0, len(a.byName))
	for index := a.head; index != noSlot; index = a.slots[index].next {
		items = append(items, a.slots[index].item)
	}
	return items
}

// clear removes every item, invalidating all handles.
func (a *arena) clear() []ItemRef {
	removed := a.refs()
	for _, ref := range removed {
		a.remove(ref.Item.Name)
	}
	return removed
}

func (a *arena) linkTail(index int32) {
	a.slots[index].prev = a.tail
	a.slots[index].next = noSlot
	if a.tail != noSlot {
		a.slots[a.tail].next = index
	} else {
		a.head = index
	}
	a.tail = index
}

func (a *arena) unlink(index int32) {
	prev := a.slots[index].prev
	next := a.slots[index].next
	if prev != noSlot {
		a.slots[prev].next = next
	} else {
		a.head = next
	}
	if next != noSlot {
		a.slots[next].prev = prev
	} else {
		a.tail = prev
	}
}

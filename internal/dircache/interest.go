package dircache

import (
	"fmt"

	"dirlister/internal/location"
)

// subscription is one lister's stake in one location. epoch identifies the
// subscription to the lister's dispatcher; deliveries made under a retired
// epoch are dropped.
type subscription struct {
	interest   Interest
	epoch      uint64
	autoUpdate bool
}

// setInterest is the only place a lister moves between the listing and
// holding sets of an entry. It panics if the two sides ever disagree.
func (cache *Cache) setInterest(lister *Lister, entry *directoryEntry, to Interest) {
	_, inListing := entry.listing[lister]
	_, inHolding := entry.holding[lister]
	if inListing && inHolding {
		panic(fmt.Sprintf("dircache: lister %d both listing and holding %s", lister.id, entry.loc))
	}
	sub := lister.subs[entry.loc]
	from := InterestNone
	if sub != nil {
		from = sub.interest
	}
	if (from == InterestListing) != inListing || (from == InterestHolding) != inHolding {
		panic(fmt.Sprintf("dircache: lister %d interest %s out of sync for %s", lister.id, from, entry.loc))
	}

	delete(entry.listing, lister)
	delete(entry.holding, lister)
	switch to {
	case InterestListing:
		entry.listing[lister] = struct{}{}
	case InterestHolding:
		entry.holding[lister] = struct{}{}
	case InterestNone:
		if sub != nil {
			lister.dispatch.retire(sub.epoch)
			delete(lister.subs, entry.loc)
		}
		return
	}

	if sub == nil {
		cache.nextEpoch++
		sub = &subscription{epoch: cache.nextEpoch}
		lister.subs[entry.loc] = sub
		lister.dispatch.admit(sub.epoch)
	}
	sub.interest = to
}

// rekeySubscription follows an entry that moved to a new location. The epoch
// is kept so queued deliveries still arrive.
func rekeySubscription(lister *Lister, from, to location.Location) {
	sub, ok := lister.subs[from]
	if !ok {
		return
	}
	delete(lister.subs, from)
	lister.subs[to] = sub
}

// deliver queues call for lister under its subscription to loc. Nothing is
// queued when the lister has no such subscription.
func (cache *Cache) deliver(lister *Lister, loc location.Location, call func(Observer)) {
	sub, ok := lister.subs[loc]
	if !ok {
		return
	}
	lister.dispatch.enqueue(sub.epoch, call)
}

// deliverFinal queues call regardless of subscriptions. It is used for the
// last message a lister gets about a location it was just detached from.
func (cache *Cache) deliverFinal(lister *Lister, call func(Observer)) {
	lister.dispatch.enqueue(0, call)
}

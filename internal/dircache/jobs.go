package dircache

import (
	"context"
	"strconv"
	"time"

	"dirlister/internal/fileitem"
	"dirlister/internal/location"
	"dirlister/internal/otel"

	"go.opentelemetry.io/otel/attribute"
)

// job is one running enumeration. The entry pointer follows redirects.
type job struct {
	id       uint64
	entry    *directoryEntry
	origin   location.Location
	ctx      context.Context
	cancel   context.CancelFunc
	canceled bool
	inbound  bool
	started  time.Time

	previous []fileitem.Item
	seen     map[string]struct{}
	order    []string
	// reloaders are holders that asked for this job through a reload, keyed
	// to the epoch of the subscription they asked under. They get Completed
	// after the difference.
	reloaders map[*Lister]uint64
}

func (cache *Cache) open(lister *Lister, loc location.Location, keep, reload bool) (AttachResult, error) {
	canonical := loc.Canonical()
	defer cache.flushWatches()
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	if cache.closed || lister.closed {
		return 0, ErrClosed
	}
	if _, ok := cache.options.Sources.lookup(loc); !ok {
		return 0, &Error{Kind: KindProtocol, Location: loc, Err: ErrNoSource}
	}

	if !keep {
		for other := range lister.subs {
			if other != loc {
				cache.detach(lister, other, false)
			}
		}
	}

	var result AttachResult
	if sub, ok := lister.subs[loc]; ok {
		entry, _ := cache.registry.lookup(loc)
		result = cache.reopen(lister, entry, sub, reload)
	} else {
		result = cache.attach(lister, loc, canonical, reload)
	}
	if lister.autoUpdate {
		cache.setAutoUpdate(lister, loc, true)
	}
	cache.reportSizes()
	return result, nil
}

// reopen serves Open for a location the lister already holds. Nothing it was
// given is taken back or sent again: a reload hands it the difference and
// then Completed.
func (cache *Cache) reopen(lister *Lister, entry *directoryEntry, sub *subscription, reload bool) AttachResult {
	loc := entry.loc
	if sub.interest == InterestListing {
		return AttachJobJoined
	}
	if entry.job == nil && entry.complete && !reload {
		cache.hits++
		cache.metrics.IncCacheHit()
		cache.deliver(lister, loc, func(observer Observer) {
			observer.Completed(loc)
		})
		return AttachServedFromCache
	}

	result := AttachJobJoined
	if entry.job == nil {
		cache.misses++
		cache.metrics.IncCacheMiss()
		cache.startJob(entry, false)
		result = AttachJobStarted
	}
	if entry.job != nil {
		entry.job.reloaders[lister] = sub.epoch
	}
	return result
}

func (cache *Cache) attach(lister *Lister, loc location.Location, canonical string, reload bool) AttachResult {
	entry, placement := cache.registry.lookup(loc)
	switch placement {
	case PlacementCached:
		cache.registry.setPlacement(entry, PlacementInUse)
	case PlacementNone:
		entry = cache.newEntry(loc, canonical)
	}

	if entry.job != nil {
		cache.setInterest(lister, entry, InterestListing)
		if seen := lister.visible(cache.seenRefs(entry.job)); len(seen) > 0 {
			cache.deliver(lister, loc, func(observer Observer) {
				observer.ItemsAdded(loc, seen)
			})
		}
		return AttachJobJoined
	}

	if entry.complete && !reload {
		cache.setInterest(lister, entry, InterestHolding)
		cache.hits++
		cache.metrics.IncCacheHit()
		if refs := lister.visible(entry.items.refs()); len(refs) > 0 {
			cache.deliver(lister, loc, func(observer Observer) {
				observer.ItemsAdded(loc, refs)
			})
		}
		cache.deliver(lister, loc, func(observer Observer) {
			observer.Completed(loc)
		})
		return AttachServedFromCache
	}

	cache.setInterest(lister, entry, InterestListing)
	cache.misses++
	cache.metrics.IncCacheMiss()
	cache.startJob(entry, false)
	return AttachJobStarted
}

// detach removes lister from loc. It is a no-op when the lister is not
// attached. The last lister to leave parks the entry in the cached map.
func (cache *Cache) detach(lister *Lister, loc location.Location, loud bool) {
	sub, ok := lister.subs[loc]
	if !ok {
		return
	}
	entry, placement := cache.registry.lookup(loc)
	if placement != PlacementInUse {
		delete(lister.subs, loc)
		lister.dispatch.retire(sub.epoch)
		return
	}

	wasListing := sub.interest == InterestListing
	hadAutoUpdate := sub.autoUpdate
	cache.setInterest(lister, entry, InterestNone)
	if loud && wasListing {
		cache.deliverFinal(lister, func(observer Observer) {
			observer.Canceled(loc)
		})
	}

	lastOut := !entry.hasListers()
	if hadAutoUpdate {
		cache.releaseAutoUpdate(entry, !lastOut)
	}
	if !lastOut {
		return
	}

	if entry.job != nil {
		cache.cancelJob(entry.job)
	}
	if entry.autoUpdates != 0 {
		cache.logger.Warn("forcing auto-update off for released listing", map[string]string{
			"location":     loc.String(),
			"auto_updates": strconv.Itoa(entry.autoUpdates),
		})
		entry.autoUpdates = 0
	}
	cache.moveToCache(entry)
}

func (cache *Cache) seenRefs(job *job) []ItemRef {
	refs := make([]ItemRef, 0, len(job.order))
	for _, name := range job.order {
		if ref, ok := job.entry.items.lookup(name); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

func (cache *Cache) startJob(entry *directoryEntry, inbound bool) {
	source, ok := cache.options.Sources.lookup(entry.loc)
	if !ok {
		failure := &Error{Kind: KindProtocol, Location: entry.loc, Err: ErrNoSource}
		for _, lister := range entry.listers() {
			cache.deliver(lister, entry.loc, func(observer Observer) {
				observer.Failed(failure.Location, failure)
			})
		}
		return
	}

	ctx, cancel := context.WithCancel(cache.ctx)
	cache.nextJobID++
	current := &job{
		id:      cache.nextJobID,
		entry:   entry,
		origin:  entry.loc,
		ctx:     ctx,
		cancel:  cancel,
		inbound: inbound,
		started: time.Now(),
		seen:    make(map[string]struct{}),

		reloaders: make(map[*Lister]uint64),
	}
	if entry.items.len() > 0 {
		current.previous = entry.items.items()
	}
	entry.job = current
	cache.running++
	cache.metrics.JobStarted()
	cache.logger.Debug("enumeration started", map[string]string{
		"location": entry.loc.String(),
		"job":      strconv.FormatUint(current.id, 10),
	})

	cache.jobs.Add(1)
	go cache.runJob(current, source)
}

func (cache *Cache) runJob(current *job, source Source) {
	defer cache.jobs.Done()

	err := cache.acquireJobSlot(current.ctx)
	if err == nil {
		ctx, span := otel.StartSpan(current.ctx, "dircache.enumerate",
			attribute.String("location", current.origin.String()),
		)
		err = source.Enumerate(ctx, current.origin, &jobSink{cache: cache, job: current})
		otel.EndSpan(span, err)
		cache.releaseJobSlot()
	}
	cache.finishJob(current, err)
}

func (cache *Cache) acquireJobSlot(ctx context.Context) error {
	if cache.limiter != nil {
		if err := cache.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if cache.slots == nil {
		return nil
	}
	select {
	case cache.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (cache *Cache) releaseJobSlot() {
	if cache.slots != nil {
		<-cache.slots
	}
}

// cancelJob detaches a job from its entry. The goroutine notices through its
// context; anything it reports afterwards is ignored.
func (cache *Cache) cancelJob(current *job) {
	if current.canceled {
		return
	}
	current.canceled = true
	current.cancel()
	if current.entry.job == current {
		current.entry.job = nil
		current.entry.complete = false
		current.entry.generation++
	}
	cache.running--
	cache.metrics.JobFinished(time.Since(current.started).Seconds(), KindCanceled.String())
}

func (cache *Cache) finishJob(current *job, err error) {
	defer cache.flushWatches()
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	if current.canceled || cache.closed {
		return
	}
	current.canceled = true
	current.cancel()
	entry := current.entry
	entry.job = nil
	entry.generation++
	cache.running--
	elapsed := time.Since(current.started).Seconds()

	if err != nil {
		failure := newError(entry.loc, err)
		cache.metrics.JobFinished(elapsed, failure.Kind.String())
		cache.logger.Warn("enumeration failed", map[string]string{
			"location": entry.loc.String(),
			"kind":     failure.Kind.String(),
			"error":    err.Error(),
		})
		entry.complete = false
		dir := entry.loc
		for _, lister := range entry.listers() {
			cache.deliver(lister, dir, func(observer Observer) {
				observer.Failed(dir, failure)
			})
		}
		for _, lister := range entry.listingListers() {
			cache.setInterest(lister, entry, InterestHolding)
		}
		cache.schedulePendingAfterJob()
		return
	}

	cache.metrics.JobFinished(elapsed, "")
	dir := entry.loc
	var final, unseen []fileitem.Item
	for _, item := range entry.items.items() {
		if _, ok := current.seen[item.Name]; ok {
			final = append(final, item)
		} else {
			unseen = append(unseen, item)
		}
	}
	delta := diffForcing(current.previous, final, cache.pending.remote[dir])
	delete(cache.pending.remote, dir)
	// Anything the job did not report is gone, including items patched in
	// while it ran.
	delta.Removed = unseen

	applied := cache.appliedFromJob(entry, delta)
	entry.complete = true

	holders := entry.holdingListers()
	listing := entry.listingListers()
	cache.deliverDelta(dir, holders, applied)
	for _, lister := range holders {
		if epoch, ok := current.reloaders[lister]; ok && lister.subs[dir].epoch == epoch {
			cache.deliver(lister, dir, func(observer Observer) {
				observer.Completed(dir)
			})
		}
	}
	for _, lister := range listing {
		cache.deliver(lister, dir, func(observer Observer) {
			observer.Completed(dir)
		})
		cache.setInterest(lister, entry, InterestHolding)
	}
	if !dir.IsLocal() && !current.inbound && current.previous != nil {
		cache.announceDelta(dir, applied)
	}
	cache.logger.Debug("enumeration completed", map[string]string{
		"location": dir.String(),
		"items":    strconv.Itoa(entry.items.len()),
	})
	cache.schedulePendingAfterJob()
}

// appliedFromJob builds the handles for a finished job. Added and refreshed
// items are already in the arena; unseen items are removed now.
func (cache *Cache) appliedFromJob(entry *directoryEntry, delta Delta) appliedDelta {
	var applied appliedDelta
	for _, item := range delta.Added {
		if ref, ok := entry.items.lookup(item.Name); ok {
			applied.added = append(applied.added, ref)
		}
	}
	for _, change := range delta.Refreshed {
		if ref, ok := entry.items.lookup(change.New.Name); ok {
			applied.refreshed = append(applied.refreshed, Refresh{Handle: ref.Handle, Old: change.Old, New: change.New})
		}
	}
	for _, item := range delta.Removed {
		if ref, ok := entry.items.remove(item.Name); ok {
			applied.removed = append(applied.removed, ref)
		}
	}
	cache.dropRemovedDirectories(entry.loc, applied.removed)
	return applied
}

type jobSink struct {
	cache *Cache
	job   *job
}

func (sink *jobSink) Entries(items []fileitem.Item) {
	cache := sink.cache
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	current := sink.job
	if current.canceled || cache.closed {
		return
	}
	entry := current.entry
	refs := make([]ItemRef, 0, len(items))
	for _, item := range items {
		if item.Name == "" || item.Name == "." || item.Name == ".." {
			continue
		}
		handle, _, _ := entry.items.put(item)
		if _, dup := current.seen[item.Name]; !dup {
			current.seen[item.Name] = struct{}{}
			current.order = append(current.order, item.Name)
		}
		refs = append(refs, ItemRef{Handle: handle, Item: item})
	}
	if len(refs) == 0 {
		return
	}
	dir := entry.loc
	for _, lister := range entry.listingListers() {
		visible := lister.visible(refs)
		if len(visible) == 0 {
			continue
		}
		cache.deliver(lister, dir, func(observer Observer) {
			observer.ItemsAdded(dir, visible)
		})
	}
}

func (sink *jobSink) Root(item fileitem.Item) {
	cache := sink.cache
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	if sink.job.canceled || cache.closed {
		return
	}
	sink.job.entry.root = item
	sink.job.entry.hasRoot = true
}

func (sink *jobSink) Redirect(to location.Location, keepItems bool) {
	cache := sink.cache
	canonical := to.Canonical()
	defer cache.flushWatches()
	cache.mutex.Lock()
	defer cache.mutex.Unlock()
	current := sink.job
	if current.canceled || cache.closed {
		return
	}
	cache.redirect(current.entry, to, canonical, keepItems)
}

// redirect moves a listing to a new location. Listers stay attached and get
// Redirected. Without keepItems the old items are removed first.
func (cache *Cache) redirect(entry *directoryEntry, to location.Location, canonical string, keepItems bool) {
	from := entry.loc
	if to == from {
		return
	}
	cache.logger.Info("listing redirected", map[string]string{
		"from": from.String(),
		"to":   to.String(),
	})

	if !keepItems {
		removed := entry.items.clear()
		entry.hasRoot = false
		entry.root = fileitem.Item{}
		if current := entry.job; current != nil {
			current.previous = nil
			current.seen = make(map[string]struct{})
			current.order = nil
		}
		cache.deliverDelta(from, entry.listers(), appliedDelta{removed: removed})
	}

	existing, placement := cache.registry.lookup(to)
	switch placement {
	case PlacementCached:
		cache.destroyEntry(existing)
	case PlacementInUse:
		cache.mergeInto(entry, existing)
		return
	}
	cache.rekeyEntry(entry, to, canonical)
}

// mergeInto moves every lister of entry onto target, which already holds the
// destination location, and destroys entry.
func (cache *Cache) mergeInto(entry, target *directoryEntry) {
	from := entry.loc
	to := target.loc
	type moved struct {
		lister     *Lister
		autoUpdate bool
	}
	var listers []moved
	for _, lister := range entry.listers() {
		sub := lister.subs[from]
		listers = append(listers, moved{lister: lister, autoUpdate: sub.autoUpdate})
		cache.setInterest(lister, entry, InterestNone)
		cache.deliverFinal(lister, func(observer Observer) {
			observer.Redirected(from, to)
		})
	}
	entry.autoUpdates = 0
	cache.destroyEntry(entry)
	for _, item := range listers {
		cache.attach(item.lister, to, target.canonical, false)
		if item.autoUpdate {
			cache.setAutoUpdate(item.lister, to, true)
		}
	}
}

// rekeyEntry moves entry to a new key, re-subscribing its watch under the
// new canonical path, and tells every attached lister.
func (cache *Cache) rekeyEntry(entry *directoryEntry, to location.Location, canonical string) {
	from := entry.loc
	wasWatching := entry.watching
	cache.unwatch(entry)
	cache.registry.rekey(entry, to, canonical)
	if wasWatching {
		cache.watch(entry)
	}
	if pending, ok := cache.pending.remote[from]; ok {
		delete(cache.pending.remote, from)
		cache.pending.remote[to] = pending
	}
	for _, lister := range entry.listers() {
		rekeySubscription(lister, from, to)
		cache.deliver(lister, to, func(observer Observer) {
			observer.Redirected(from, to)
		})
	}
}

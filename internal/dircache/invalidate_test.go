package dircache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dirlister/internal/location"
)

type announcement struct {
	kind string
	locs []location.Location
}

type recordingAnnouncer struct {
	mutex sync.Mutex
	calls []announcement
}

func (a *recordingAnnouncer) record(kind string, locs ...location.Location) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.calls = append(a.calls, announcement{kind: kind, locs: locs})
}

func (a *recordingAnnouncer) AnnounceEntered(loc location.Location) { a.record("entered", loc) }
func (a *recordingAnnouncer) AnnounceLeft(loc location.Location)    { a.record("left", loc) }
func (a *recordingAnnouncer) AnnounceFilesAdded(dir location.Location) {
	a.record("added", dir)
}
func (a *recordingAnnouncer) AnnounceFilesRemoved(locs []location.Location) {
	a.record("removed", locs...)
}
func (a *recordingAnnouncer) AnnounceFilesChanged(locs []location.Location) {
	a.record("changed", locs...)
}

func (a *recordingAnnouncer) kinds() []string {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	kinds := make([]string, 0, len(a.calls))
	for _, call := range a.calls {
		kinds = append(kinds, call.kind)
	}
	return kinds
}

func (a *recordingAnnouncer) last() announcement {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if len(a.calls) == 0 {
		return announcement{}
	}
	return a.calls[len(a.calls)-1]
}

func TestCreatedFileIsDebouncedIntoOneAddition(t *testing.T) {
	harness := newHarness(t, Options{})
	dir := testLocation("/tmp")
	harness.source.set(dir)
	_, rec := harness.listed(t, dir, WithAutoUpdate())
	if !harness.bridge.watching(testPath("/tmp")) {
		t.Fatal("expected auto-updated listing to be watched")
	}

	harness.source.set(dir, file("f", 3))
	sink := harness.cache.WatchSink()
	for index := 0; index < 3; index++ {
		sink.FileCreated(testPath("/tmp/f"))
		sink.FileDirty(testPath("/tmp/f"))
	}

	events := rec.wait(t, 2)
	expectEvents(t, events, "completed "+dir.String(), "added "+dir.String()+" [f]")
	rec.settle(t, 2)
	if calls := harness.source.callCount(dir); calls != 1 {
		t.Fatalf("expected a stat pass instead of re-enumeration, got %d enumerations", calls)
	}
}

func TestReconcileBatchesRefreshAndRemoval(t *testing.T) {
	harness := newHarness(t, Options{})
	dir := testLocation("/d")
	harness.source.set(dir, file("a", 1), file("b", 1))
	_, rec := harness.listed(t, dir, WithAutoUpdate())

	harness.source.set(dir, file("a", 5))
	sink := harness.cache.WatchSink()
	sink.FileDirty(testPath("/d/a"))
	sink.FileDeleted(testPath("/d/b"))

	events := rec.wait(t, 4)
	expectEvents(t, events[2:],
		"refreshed "+dir.String()+" [a]",
		"removed "+dir.String()+" [b]",
	)
	if refresh := events[2].rows[0]; refresh.Old.Size != 1 || refresh.New.Size != 5 {
		t.Fatalf("unexpected refresh %+v", refresh)
	}
	rec.settle(t, 4)
}

func TestStatErrorCountsAsRemoval(t *testing.T) {
	harness := newHarness(t, Options{})
	dir := testLocation("/d")
	harness.source.set(dir, file("a", 1))
	_, rec := harness.listed(t, dir, WithAutoUpdate())

	harness.source.failStat(dir.Join("a"), errors.New("input/output error"))
	harness.cache.WatchSink().FileDirty(testPath("/d/a"))

	expectEvents(t, rec.wait(t, 3)[2:], "removed "+dir.String()+" [a]")
	if refs, _ := harness.cache.Items(dir); len(refs) != 0 {
		t.Fatalf("expected empty listing, got %v", refNames(refs))
	}
}

func TestChangeMarksCachedListingIncomplete(t *testing.T) {
	harness := newHarness(t, Options{CachedWatchGrace: -1})
	dir := testLocation("/d")
	harness.source.set(dir, file("a", 1))
	lister, _ := harness.listed(t, dir)
	lister.Close()
	if placement := harness.cache.Placement(dir); placement != PlacementCached {
		t.Fatalf("expected cached, got %s", placement)
	}
	if !harness.bridge.watching(testPath("/d")) {
		t.Fatal("expected cached listing to keep a watch")
	}

	harness.cache.WatchSink().FileCreated(testPath("/d/new"))
	time.Sleep(100 * time.Millisecond)

	reader, rec := harness.lister()
	result, err := reader.Open(dir, true, false)
	if err != nil || result != AttachJobStarted {
		t.Fatalf("expected stale cached listing to re-enumerate, got %s (%v)", result, err)
	}
	rec.wait(t, 2)
}

func TestDeletedDirectoryDropsSubtree(t *testing.T) {
	harness := newHarness(t, Options{})
	parent := testLocation("/p")
	child := testLocation("/p/c")
	harness.source.set(parent, folder("c"))
	harness.source.set(child, file("f", 1))
	parentLister, parentRec := harness.listed(t, parent)
	childLister, childRec := harness.listed(t, child)

	harness.cache.WatchSink().FileDeleted(testPath("/p"))

	parentEvents := parentRec.wait(t, 4)
	expectEvents(t, parentEvents[2:], "removed "+parent.String()+" [c]", "failed "+parent.String())
	childEvents := childRec.wait(t, 4)
	expectEvents(t, childEvents[2:], "removed "+child.String()+" [f]", "failed "+child.String())
	if !errors.Is(childEvents[3].err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", childEvents[3].err)
	}
	for _, loc := range []location.Location{parent, child} {
		if placement := harness.cache.Placement(loc); placement != PlacementNone {
			t.Fatalf("expected %s destroyed, got %s", loc, placement)
		}
	}
	if len(parentLister.Locations()) != 0 || len(childLister.Locations()) != 0 {
		t.Fatal("expected listers to be detached")
	}
}

func TestAutoUpdateAdoptsGraceWatch(t *testing.T) {
	harness := newHarness(t, Options{})
	dir := testLocation("/d")
	harness.source.set(dir, file("a", 1))
	lister, _ := harness.listed(t, dir)
	lister.Close()
	if subscribes, _ := harness.bridge.counts(); subscribes != 1 {
		t.Fatalf("expected one subscription for the cached listing, got %d", subscribes)
	}

	_, rec := harness.listed(t, dir, WithAutoUpdate())
	expectEvents(t, rec.snapshot(), "added "+dir.String()+" [a]", "completed "+dir.String())
	subscribes, unsubscribes := harness.bridge.counts()
	if subscribes != 1 || unsubscribes != 0 {
		t.Fatalf("expected the grace watch to be adopted, got %d/%d", subscribes, unsubscribes)
	}
	if stats := harness.cache.Stats(); stats.Watches != 1 || stats.Hits != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestGraceExpiryDropsWatchAndStalesListing(t *testing.T) {
	harness := newHarness(t, Options{CachedWatchGrace: 40 * time.Millisecond})
	dir := testLocation("/d")
	harness.source.set(dir, file("a", 1))
	lister, _ := harness.listed(t, dir)
	lister.Close()

	waitUntil(t, "grace expiry", func() bool {
		return harness.cache.Stats().Watches == 0 && !harness.bridge.watching(testPath("/d"))
	})
	reader, _ := harness.lister()
	if result, err := reader.Open(dir, true, false); err != nil || result != AttachJobStarted {
		t.Fatalf("expected re-enumeration after grace expiry, got %s (%v)", result, err)
	}
}

func TestDisablingAutoUpdateUnwatchesHeldListing(t *testing.T) {
	harness := newHarness(t, Options{})
	dir := testLocation("/d")
	harness.source.set(dir)
	lister, _ := harness.listed(t, dir, WithAutoUpdate())
	if !harness.bridge.watching(testPath("/d")) {
		t.Fatal("expected watch while auto-updating")
	}

	lister.SetAutoUpdate(dir, false)
	if harness.bridge.watching(testPath("/d")) {
		t.Fatal("expected watch to be released")
	}
	if placement := harness.cache.Placement(dir); placement != PlacementInUse {
		t.Fatalf("expected listing to stay in use, got %s", placement)
	}

	lister.SetAutoUpdate(dir, true)
	if !harness.bridge.watching(testPath("/d")) {
		t.Fatal("expected watch to return")
	}
}

func TestRenamedDirectoryKeepsItems(t *testing.T) {
	harness := newHarness(t, Options{})
	parent := testLocation("/p")
	oldDir := testLocation("/p/old")
	newDir := testLocation("/p/new")
	harness.source.set(parent, folder("old"))
	harness.source.set(oldDir, file("f", 1))
	_, parentRec := harness.listed(t, parent)
	childLister, childRec := harness.listed(t, oldDir)
	handle := childRec.snapshot()[0].refs[0].Handle
	folderHandle := parentRec.snapshot()[0].refs[0].Handle

	harness.cache.FileRenamed(oldDir, newDir)

	parentEvents := parentRec.wait(t, 3)
	expectEvents(t, parentEvents[2:], "refreshed "+parent.String()+" [new]")
	if parentEvents[2].rows[0].Handle != folderHandle {
		t.Fatal("expected the renamed folder to keep its handle")
	}
	expectEvents(t, childRec.wait(t, 3)[2:], "redirected "+oldDir.String()+" -> "+newDir.String())

	if interest := harness.cache.InterestOf(childLister, newDir); interest != InterestHolding {
		t.Fatalf("expected lister to hold %s, got %s", newDir, interest)
	}
	refs, ok := harness.cache.Items(newDir)
	if !ok || len(refs) != 1 || refs[0].Handle != handle {
		t.Fatalf("expected items to move with their handles, got %v", refs)
	}
	if placement := harness.cache.Placement(oldDir); placement != PlacementNone {
		t.Fatalf("expected %s gone, got %s", oldDir, placement)
	}
}

func TestRemoteChangesRefreshOnNextEnumeration(t *testing.T) {
	announcer := &recordingAnnouncer{}
	harness := newHarness(t, Options{Announcer: announcer})
	dir := location.MustParse("mem://host/r")
	harness.source.set(dir, file("a", 1), file("b", 1))
	_, rec := harness.listed(t, dir)

	harness.cache.FilesChanged([]location.Location{dir.Join("a")})
	rec.settle(t, 2)

	harness.cache.UpdateDirectory(dir)
	expectEvents(t, rec.wait(t, 3)[2:], "refreshed "+dir.String()+" [a]")
	waitUntil(t, "announcement", func() bool {
		return announcer.last().kind == "changed"
	})
	if locs := announcer.last().locs; len(locs) != 1 || locs[0] != dir.Join("a") {
		t.Fatalf("unexpected announcement %v", locs)
	}
}

func TestInboundAdditionIsNotAnnouncedAgain(t *testing.T) {
	announcer := &recordingAnnouncer{}
	harness := newHarness(t, Options{Announcer: announcer})
	dir := location.MustParse("mem://host/r")
	harness.source.set(dir, file("a", 1))
	_, rec := harness.listed(t, dir)

	harness.source.set(dir, file("a", 1), file("b", 1))
	harness.cache.FilesAdded(dir)
	expectEvents(t, rec.wait(t, 3)[2:], "added "+dir.String()+" [b]")
	rec.settle(t, 3)
	if kinds := announcer.kinds(); len(kinds) != 0 {
		t.Fatalf("expected no announcements, got %v", kinds)
	}
}

func TestWatchAnnouncesEnterAndLeave(t *testing.T) {
	announcer := &recordingAnnouncer{}
	harness := newHarness(t, Options{Announcer: announcer})
	dir := testLocation("/d")
	harness.source.set(dir)
	lister, _ := harness.listed(t, dir, WithAutoUpdate())
	lister.SetAutoUpdate(dir, false)

	kinds := announcer.kinds()
	if len(kinds) != 2 || kinds[0] != "entered" || kinds[1] != "left" {
		t.Fatalf("expected entered then left, got %v", kinds)
	}
}

func TestCloseReleasesWatches(t *testing.T) {
	harness := newHarness(t, Options{})
	first, second := testLocation("/a"), testLocation("/b")
	harness.source.set(first)
	harness.source.set(second)
	harness.listed(t, first, WithAutoUpdate())
	lister, _ := harness.listed(t, second)
	lister.Close()

	if err := harness.cache.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if harness.bridge.watching(testPath("/a")) || harness.bridge.watching(testPath("/b")) {
		t.Fatal("expected every watch to be released")
	}
	late, _ := harness.lister()
	if _, err := late.Open(first, true, false); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestUpdateDirectoryReloadsHeldListing(t *testing.T) {
	harness := newHarness(t, Options{})
	dir := testLocation("/d")
	harness.source.set(dir, file("a", 1))
	_, rec := harness.listed(t, dir)

	harness.source.set(dir, file("a", 1), file("b", 2))
	harness.cache.UpdateDirectory(dir)

	expectEvents(t, rec.wait(t, 3)[2:], "added "+dir.String()+" [b]")
	rec.settle(t, 3)
	if calls := harness.source.callCount(dir); calls != 2 {
		t.Fatalf("expected a second enumeration, got %d", calls)
	}
}

func TestUpdateDirectoryStalesCachedListing(t *testing.T) {
	harness := newHarness(t, Options{})
	dir := testLocation("/d")
	harness.source.set(dir, file("a", 1))
	lister, _ := harness.listed(t, dir)
	lister.Close()

	harness.cache.UpdateDirectory(dir)
	if calls := harness.source.callCount(dir); calls != 1 {
		t.Fatalf("cached listing must not be enumerated eagerly, got %d", calls)
	}

	reader, rec := harness.lister()
	result, err := reader.Open(dir, true, false)
	if err != nil || result != AttachJobStarted {
		t.Fatalf("expected re-enumeration, got %s (%v)", result, err)
	}
	rec.wait(t, 2)
}

func TestEventsDuringReconcileWaitForTheRunningPass(t *testing.T) {
	harness := newHarness(t, Options{})
	dir := testLocation("/x")
	harness.source.set(dir)
	_, rec := harness.listed(t, dir, WithAutoUpdate())

	harness.source.set(dir, file("f", 1))
	entered, release := harness.source.blockStat(dir.Join("f"))
	sink := harness.cache.WatchSink()
	sink.FileCreated(testPath("/x/f"))
	select {
	case <-entered:
	case <-time.After(waitTimeout):
		t.Fatal("reconcile pass did not stat the created file")
	}

	harness.source.set(dir)
	sink.FileDeleted(testPath("/x/f"))
	// Several debounce periods pass while the first stat is held.
	time.Sleep(150 * time.Millisecond)
	close(release)

	expectEvents(t, rec.wait(t, 3),
		"completed "+dir.String(),
		"added "+dir.String()+" [f]",
		"removed "+dir.String()+" [f]",
	)
	rec.settle(t, 3)
	if refs, _ := harness.cache.Items(dir); len(refs) != 0 {
		t.Fatalf("expected empty listing, got %v", refNames(refs))
	}
}

func TestDirtyDirectoryIsReenumerated(t *testing.T) {
	harness := newHarness(t, Options{})
	dir := testLocation("/d")
	harness.source.set(dir, file("a", 1))
	_, rec := harness.listed(t, dir, WithAutoUpdate())

	harness.source.set(dir, file("a", 1), file("b", 1))
	harness.cache.WatchSink().FileDirty(testPath("/d"))

	expectEvents(t, rec.wait(t, 3),
		"added "+dir.String()+" [a]",
		"completed "+dir.String(),
		"added "+dir.String()+" [b]",
	)
	rec.settle(t, 3)
	if calls := harness.source.callCount(dir); calls != 2 {
		t.Fatalf("expected the directory to be enumerated again, got %d enumerations", calls)
	}
}

func TestBridgeCallsRunWithoutTheCacheLock(t *testing.T) {
	harness := newHarness(t, Options{})
	dir := testLocation("/d")
	harness.source.set(dir, file("a", 1))
	var calls atomic.Int32
	harness.bridge.setHook(func(string) {
		harness.cache.Stats()
		calls.Add(1)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		lister, _ := harness.lister(WithAutoUpdate())
		if _, err := lister.Open(dir, true, false); err != nil {
			t.Errorf("open: %v", err)
		}
		lister.Close()
	}()
	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("bridge call deadlocked against the cache lock")
	}
	if calls.Load() == 0 {
		t.Fatal("expected the bridge to be called")
	}
}

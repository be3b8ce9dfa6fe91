package dircache

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"testing"
	"time"

	"dirlister/internal/fileitem"
	"dirlister/internal/location"
)

const waitTimeout = 2 * time.Second

type enumerateHook func(ctx context.Context, sink Sink) error

// fakeSource serves listings from memory. A hook replaces the default
// single-batch listing for one location.
type fakeSource struct {
	mutex   sync.Mutex
	dirs    map[string][]fileitem.Item
	hooks   map[string]enumerateHook
	statErr map[string]error
	calls   map[string]int
	gates   map[string]*statGate
}

// statGate holds one Stat call after it computed its result.
type statGate struct {
	entered chan struct{}
	release chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		dirs:    make(map[string][]fileitem.Item),
		hooks:   make(map[string]enumerateHook),
		statErr: make(map[string]error),
		calls:   make(map[string]int),
		gates:   make(map[string]*statGate),
	}
}

func (source *fakeSource) set(loc location.Location, items ...fileitem.Item) {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	source.dirs[loc.String()] = items
}

func (source *fakeSource) hook(loc location.Location, hook enumerateHook) {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	source.hooks[loc.String()] = hook
}

func (source *fakeSource) failStat(loc location.Location, err error) {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	source.statErr[loc.String()] = err
}

// blockStat makes the next Stat of loc wait for release. entered is closed
// once that Stat has read the source.
func (source *fakeSource) blockStat(loc location.Location) (entered <-chan struct{}, release chan<- struct{}) {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	gate := &statGate{entered: make(chan struct{}), release: make(chan struct{})}
	source.gates[loc.String()] = gate
	return gate.entered, gate.release
}

func (source *fakeSource) callCount(loc location.Location) int {
	source.mutex.Lock()
	defer source.mutex.Unlock()
	return source.calls[loc.String()]
}

func (source *fakeSource) Enumerate(ctx context.Context, loc location.Location, sink Sink) error {
	source.mutex.Lock()
	source.calls[loc.String()]++
	hook := source.hooks[loc.String()]
	items, ok := source.dirs[loc.String()]
	source.mutex.Unlock()

	if hook != nil {
		return hook(ctx, sink)
	}
	if !ok {
		return fs.ErrNotExist
	}
	if len(items) > 0 {
		sink.Entries(items)
	}
	return nil
}

func (source *fakeSource) Stat(ctx context.Context, loc location.Location) (fileitem.Item, error) {
	source.mutex.Lock()
	item, err := source.statLocked(loc)
	gate := source.gates[loc.String()]
	delete(source.gates, loc.String())
	source.mutex.Unlock()

	if gate != nil {
		close(gate.entered)
		<-gate.release
	}
	return item, err
}

func (source *fakeSource) statLocked(loc location.Location) (fileitem.Item, error) {
	if err := source.statErr[loc.String()]; err != nil {
		return fileitem.Item{}, err
	}
	parent, _ := loc.Parent()
	for _, item := range source.dirs[parent.String()] {
		if item.Name == loc.Base() {
			return item, nil
		}
	}
	return fileitem.Item{}, fs.ErrNotExist
}

type fakeBridge struct {
	mutex        sync.Mutex
	subs         map[string]WatchSink
	subscribes   int
	unsubscribes int
	hook         func(path string)
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{subs: make(map[string]WatchSink)}
}

// setHook installs a callback run on every bridge call, outside the bridge
// lock.
func (bridge *fakeBridge) setHook(hook func(path string)) {
	bridge.mutex.Lock()
	defer bridge.mutex.Unlock()
	bridge.hook = hook
}

func (bridge *fakeBridge) Subscribe(path string, sink WatchSink) error {
	bridge.mutex.Lock()
	bridge.subs[path] = sink
	bridge.subscribes++
	hook := bridge.hook
	bridge.mutex.Unlock()
	if hook != nil {
		hook(path)
	}
	return nil
}

func (bridge *fakeBridge) Unsubscribe(path string) error {
	bridge.mutex.Lock()
	delete(bridge.subs, path)
	bridge.unsubscribes++
	hook := bridge.hook
	bridge.mutex.Unlock()
	if hook != nil {
		hook(path)
	}
	return nil
}

func (bridge *fakeBridge) watching(path string) bool {
	bridge.mutex.Lock()
	defer bridge.mutex.Unlock()
	_, ok := bridge.subs[path]
	return ok
}

func (bridge *fakeBridge) counts() (int, int) {
	bridge.mutex.Lock()
	defer bridge.mutex.Unlock()
	return bridge.subscribes, bridge.unsubscribes
}

type recordedEvent struct {
	kind  string
	dir   location.Location
	names []string
	refs  []ItemRef
	rows  []Refresh
	to    location.Location
	err   error
}

func (event recordedEvent) String() string {
	switch event.kind {
	case "redirected":
		return fmt.Sprintf("redirected %s -> %s", event.dir, event.to)
	case "added", "removed", "refreshed":
		return fmt.Sprintf("%s %s [%s]", event.kind, event.dir, strings.Join(event.names, ","))
	default:
		return fmt.Sprintf("%s %s", event.kind, event.dir)
	}
}

// recorder is an Observer that keeps every delivery in order.
type recorder struct {
	mutex  sync.Mutex
	events []recordedEvent
	hook   func(recordedEvent)
}

func (rec *recorder) add(event recordedEvent) {
	rec.mutex.Lock()
	rec.events = append(rec.events, event)
	hook := rec.hook
	rec.mutex.Unlock()
	if hook != nil {
		hook(event)
	}
}

func refNames(refs []ItemRef) []string {
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		names = append(names, ref.Item.Name)
	}
	return names
}

func (rec *recorder) ItemsAdded(dir location.Location, items []ItemRef) {
	rec.add(recordedEvent{kind: "added", dir: dir, names: refNames(items), refs: items})
}

func (rec *recorder) ItemsRemoved(dir location.Location, items []ItemRef) {
	rec.add(recordedEvent{kind: "removed", dir: dir, names: refNames(items), refs: items})
}

func (rec *recorder) ItemsRefreshed(dir location.Location, items []Refresh) {
	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item.New.Name)
	}
	rec.add(recordedEvent{kind: "refreshed", dir: dir, names: names, rows: items})
}

func (rec *recorder) Completed(dir location.Location) {
	rec.add(recordedEvent{kind: "completed", dir: dir})
}

func (rec *recorder) Canceled(dir location.Location) {
	rec.add(recordedEvent{kind: "canceled", dir: dir})
}

func (rec *recorder) Failed(dir location.Location, err error) {
	rec.add(recordedEvent{kind: "failed", dir: dir, err: err})
}

func (rec *recorder) Redirected(from, to location.Location) {
	rec.add(recordedEvent{kind: "redirected", dir: from, to: to})
}

func (rec *recorder) snapshot() []recordedEvent {
	rec.mutex.Lock()
	defer rec.mutex.Unlock()
	return append([]recordedEvent(nil), rec.events...)
}

// wait blocks until at least n events arrived and returns them.
func (rec *recorder) wait(t *testing.T, n int) []recordedEvent {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		events := rec.snapshot()
		if len(events) >= n {
			return events
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d events, got %d: %v", n, len(events), events)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// settle waits briefly and fails if more than n events arrived.
func (rec *recorder) settle(t *testing.T, n int) []recordedEvent {
	t.Helper()
	time.Sleep(100 * time.Millisecond)
	events := rec.snapshot()
	if len(events) != n {
		t.Fatalf("expected exactly %d events, got %d: %v", n, len(events), events)
	}
	return events
}

func eventStrings(events []recordedEvent) []string {
	lines := make([]string, 0, len(events))
	for _, event := range events {
		lines = append(lines, event.String())
	}
	return lines
}

func expectEvents(t *testing.T, events []recordedEvent, expected ...string) {
	t.Helper()
	got := eventStrings(events)
	if len(got) != len(expected) {
		t.Fatalf("expected events %v, got %v", expected, got)
	}
	for index := range expected {
		if got[index] != expected[index] {
			t.Fatalf("event %d: expected %q, got %q (all: %v)", index, expected[index], got[index], got)
		}
	}
}

func waitUntil(t *testing.T, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", description)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func file(name string, size int64) fileitem.Item {
	return fileitem.Item{Name: name, Kind: fileitem.KindFile, Size: size}
}

func folder(name string) fileitem.Item {
	return fileitem.Item{Name: name, Kind: fileitem.KindDir}
}

// testLocation builds a local location under a root that does not exist on
// disk, so canonical paths equal the plain paths.
func testLocation(path string) location.Location {
	return location.MustParse("/dirlister-test" + path)
}

func testPath(path string) string {
	return testLocation(path).LocalPath()
}

type testHarness struct {
	cache  *Cache
	source *fakeSource
	bridge *fakeBridge
}

func newHarness(t *testing.T, options Options) *testHarness {
	t.Helper()
	source := newFakeSource()
	bridge := newFakeBridge()
	if options.Sources == nil {
		options.Sources = Sources{location.SchemeFile: source, "mem": source}
	}
	if options.Watch == nil {
		options.Watch = bridge
	}
	if options.Debounce == 0 {
		options.Debounce = 30 * time.Millisecond
	}
	cache := New(options)
	t.Cleanup(func() {
		_ = cache.Close()
	})
	return &testHarness{cache: cache, source: source, bridge: bridge}
}

func (harness *testHarness) lister(options ...ListerOption) (*Lister, *recorder) {
	rec := &recorder{}
	return harness.cache.NewLister(rec, options...), rec
}

// listed opens loc and waits until the listing completes.
func (harness *testHarness) listed(t *testing.T, loc location.Location, options ...ListerOption) (*Lister, *recorder) {
	t.Helper()
	lister, rec := harness.lister(options...)
	if _, err := lister.Open(loc, true, false); err != nil {
		t.Fatalf("open %s: %v", loc, err)
	}
	waitUntil(t, "listing of "+loc.String(), func() bool {
		for _, event := range rec.snapshot() {
			if event.kind == "completed" && event.dir == loc {
				return true
			}
		}
		return false
	})
	return lister, rec
}

package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherDispatchesWriteEvent(t *testing.T) {
	watcher, err := New()
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer watcher.Close()

	file, err := os.CreateTemp("", "dirlister-watcher-*")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	path := file.Name()
	if err := file.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Remove(path)
	})

	events := make(chan Event, 1)
	handle, err := watcher.Watch(path, func(event Event) {
		select {
		case events <- event:
		default:
		}
	})
	if err != nil {
		t.Fatalf("watch path: %v", err)
	}
	defer handle.Close()

	if err := os.WriteFile(path, []byte("update"), 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	event, ok := waitForEvent(events)
	if !ok {
		t.Fatal("timed out waiting for write event")
	}
	if event.Path != path {
		t.Fatalf("expected path %q, got %q", path, event.Path)
	}
}

func TestWatcherDispatchesRemoveEvent(t *testing.T) {
	watcher, err := New()
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer watcher.Close()

	file, err := os.CreateTemp("", "dirlister-watcher-remove-*")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	path := file.Name()
	if err := file.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}

	events := make(chan Event, 1)
	handle, err := watcher.Watch(path, func(event Event) {
		select {
		case events <- event:
		default:
		}
	})
	if err != nil {
		t.Fatalf("watch path: %v", err)
	}
	defer handle.Close()

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove file: %v", err)
	}

	event, ok := waitForEvent(events)
	if !ok {
		t.Fatal("timed out waiting for remove event")
	}
	if event.Path != path {
		t.Fatalf("expected path %q, got %q", path, event.Path)
	}
}

func waitForEvent(events <-chan Event) (Event, bool) {
	select {
	case event := <-events:
		return event, true
	case <-time.After(2 * time.Second):
		return Event{}, false
	}
}

func TestDirectoryWatchSeesChildren(t *testing.T) {
	watcher, err := NewWithOptions(Options{Debounce: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer watcher.Close()

	dir := t.TempDir()
	events := make(chan Event, 4)
	handle, err := watcher.Watch(dir, func(event Event) {
		select {
		case events <- event:
		default:
		}
	})
	if err != nil {
		t.Fatalf("watch dir: %v", err)
	}
	defer handle.Close()

	child := filepath.Join(dir, "child.txt")
	if err := os.WriteFile(child, []byte("x"), 0600); err != nil {
		t.Fatalf("write child: %v", err)
	}
	event, ok := waitForEvent(events)
	if !ok {
		t.Fatal("timed out waiting for child event")
	}
	if event.Path != child {
		t.Fatalf("expected path %q, got %q", child, event.Path)
	}
	if metrics := watcher.Metrics(); metrics.ActiveWatches != 1 || metrics.EventsDelivered == 0 {
		t.Fatalf("unexpected metrics %+v", metrics)
	}
}

func TestWatchLimitAndRelease(t *testing.T) {
	watcher, err := NewWithOptions(Options{MaxWatches: 1})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer watcher.Close()

	first, second := t.TempDir(), t.TempDir()
	noop := func(Event) {}
	handle, err := watcher.Watch(first, noop)
	if err != nil {
		t.Fatalf("watch first: %v", err)
	}
	shared, err := watcher.Watch(first, noop)
	if err != nil {
		t.Fatalf("second callback on the same path must not count: %v", err)
	}
	if _, err := watcher.Watch(second, noop); !errors.Is(err, ErrMaxWatchesExceeded) {
		t.Fatalf("expected ErrMaxWatchesExceeded, got %v", err)
	}

	if err := handle.Close(); err != nil {
		t.Fatalf("close handle: %v", err)
	}
	if active := watcher.Metrics().ActiveWatches; active != 1 {
		t.Fatalf("expected watch to stay while a callback remains, got %d", active)
	}
	if err := shared.Close(); err != nil {
		t.Fatalf("close shared: %v", err)
	}
	if active := watcher.Metrics().ActiveWatches; active != 0 {
		t.Fatalf("expected no active watches, got %d", active)
	}
	handle, err = watcher.Watch(second, noop)
	if err != nil {
		t.Fatalf("watch after release: %v", err)
	}
	_ = handle.Close()
}

func TestWatchAfterCloseFails(t *testing.T) {
	watcher, err := New()
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := watcher.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := watcher.Watch(t.TempDir(), func(Event) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

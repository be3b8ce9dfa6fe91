package watcher

import (
	"errors"
	"path/filepath"
	"sync"

	"dirlister/internal/dircache"
	"dirlister/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Bridge subscribes directories on a Watch and translates their events into
// the dirty, created and deleted notifications the directory cache expects.
type Bridge struct {
	watch   Watch
	logger  *logging.Logger
	mutex   sync.Mutex
	handles map[string]Handle
}

// NewBridge creates a Bridge over watch.
func NewBridge(watch Watch, logger *logging.Logger) *Bridge {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Bridge{
		watch:   watch,
		logger:  logger.Component("watcher"),
		handles: make(map[string]Handle),
	}
}

// Subscribe starts delivering events for path and its direct children to
// sink. Subscribing a path twice replaces the earlier sink.
func (bridge *Bridge) Subscribe(path string, sink dircache.WatchSink) error {
	if bridge == nil || bridge.watch == nil {
		return errors.New("watch bridge is not configured")
	}
	if sink == nil {
		return errors.New("sink is required")
	}
	path = filepath.Clean(path)
	handle, err := bridge.watch.Watch(path, func(event Event) {
		Dispatch(event, sink)
	})
	if err != nil {
		return err
	}

	bridge.mutex.Lock()
	previous := bridge.handles[path]
	bridge.handles[path] = handle
	bridge.mutex.Unlock()

	if previous != nil {
		if err := previous.Close(); err != nil {
			bridge.logger.Warn("replaced watch close failed", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
		}
	}
	return nil
}

// Unsubscribe stops delivering events for path. Unknown paths are ignored.
func (bridge *Bridge) Unsubscribe(path string) error {
	if bridge == nil {
		return nil
	}
	path = filepath.Clean(path)
	bridge.mutex.Lock()
	handle, ok := bridge.handles[path]
	delete(bridge.handles, path)
	bridge.mutex.Unlock()
	if !ok {
		return nil
	}
	return handle.Close()
}

// Close releases every subscription.
func (bridge *Bridge) Close() error {
	if bridge == nil {
		return nil
	}
	bridge.mutex.Lock()
	handles := bridge.handles
	bridge.handles = make(map[string]Handle)
	bridge.mutex.Unlock()

	var closeErr error
	for _, handle := range handles {
		closeErr = errors.Join(closeErr, handle.Close())
	}
	return closeErr
}

// Dispatch forwards one event to sink. Renames count as deletions of the old
// name; the new name arrives as its own create event.
func Dispatch(event Event, sink dircache.WatchSink) {
	switch {
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		sink.FileDeleted(event.Path)
	case event.Op.Has(fsnotify.Create):
		sink.FileCreated(event.Path)
	case event.Op.Has(fsnotify.Write), event.Op.Has(fsnotify.Chmod):
		sink.FileDirty(event.Path)
	}
}

var _ dircache.WatchBridge = (*Bridge)(nil)

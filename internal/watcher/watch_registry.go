package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

type callbackEntry struct {
	id       uint64
	callback func(Event)
	isDir    bool
}

type watchHandle struct {
	watcher *Watcher
	path    string
	id      uint64
	once    sync.Once
}

func (handle *watchHandle) Close() error {
	if handle == nil || handle.watcher == nil {
		return nil
	}
	var err error
	handle.once.Do(func() {
		err = handle.watcher.removeCallback(handle.path, handle.id)
	})
	return err
}

// Watch registers a callback for filesystem events on a path. A directory
// watch also receives events for its direct children.
func (watcher *Watcher) Watch(path string, callback func(Event)) (Handle, error) {
	if watcher == nil {
		return nil, errors.New("watcher is nil")
	}
	if path == "" {
		return nil, errors.New("path is required")
	}
	if callback == nil {
		return nil, errors.New("callback is required")
	}
	path = filepath.Clean(path)

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil, ErrClosed
	}

	needsAdd := watcher.callbacks[path] == nil
	if needsAdd && watcher.activeWatches >= watcher.maxWatches {
		watcher.mutex.Unlock()
		return nil, ErrMaxWatchesExceeded
	}
	watcher.nextID++
	entry := callbackEntry{callback: callback, id: watcher.nextID, isDir: info.IsDir()}
	watcher.callbacks[path] = append(watcher.callbacks[path], entry)
	if needsAdd {
		watcher.activeWatches++
	}
	activeCount := watcher.activeWatches
	backend := watcher.watcher
	watcher.mutex.Unlock()

	if needsAdd {
		if err := backend.Add(path); err != nil {
			watcher.dropCallback(path, entry.id)
			watcher.logWarn("watch add failed", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
			return nil, err
		}
		watcher.logDebug("watch added", path, activeCount)
	}

	return &watchHandle{watcher: watcher, path: path, id: entry.id}, nil
}

func (watcher *Watcher) removeCallback(path string, id uint64) error {
	if watcher == nil {
		return nil
	}
	shouldRemove, activeCount := watcher.dropCallback(path, id)
	if !shouldRemove {
		return nil
	}
	backend := watcher.backend()
	if backend == nil {
		return nil
	}
	if err := backend.Remove(path); err != nil {
		// The kernel drops watches on deleted paths by itself.
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, fsnotify.ErrNonExistentWatch) {
			watcher.logDebug("watch already gone", path, activeCount)
			return nil
		}
		watcher.logWarn("watch remove failed", map[string]string{
			"path":  path,
			"error": err.Error(),
		})
		return err
	}
	watcher.logDebug("watch removed", path, activeCount)
	return nil
}

// dropCallback forgets one registration and reports whether it was the last
// one for path.
func (watcher *Watcher) dropCallback(path string, id uint64) (bool, int) {
	watcher.mutex.Lock()
	defer watcher.mutex.Unlock()
	callbacks := watcher.callbacks[path]
	if len(callbacks) == 0 {
		return false, watcher.activeWatches
	}
	for index, candidate := range callbacks {
		if candidate.id == id {
			callbacks = append(callbacks[:index], callbacks[index+1:]...)
			break
		}
	}
	if len(callbacks) > 0 {
		watcher.callbacks[path] = callbacks
		return false, watcher.activeWatches
	}
	delete(watcher.callbacks, path)
	if watcher.activeWatches > 0 {
		watcher.activeWatches--
	}
	return !watcher.closed, watcher.activeWatches
}

func hasDirWatch(entries []callbackEntry) bool {
	for _, entry := range entries {
		if entry.isDir {
			return true
		}
	}
	return false
}

func (watcher *Watcher) hasCallbacksLocked(path string) bool {
	if len(watcher.callbacks[path]) > 0 {
		return true
	}
	parent := filepath.Dir(path)
	return parent != path && hasDirWatch(watcher.callbacks[parent])
}

// callbacksForPathLocked collects the callbacks registered on path itself
// and the directory callbacks of its parent.
func (watcher *Watcher) callbacksForPathLocked(path string) []func(Event) {
	var callbacks []func(Event)
	for _, entry := range watcher.callbacks[path] {
		callbacks = append(callbacks, entry.callback)
	}
	parent := filepath.Dir(path)
	if parent == path {
		return callbacks
	}
	for _, entry := range watcher.callbacks[parent] {
		if entry.isDir {
			callbacks = append(callbacks, entry.callback)
		}
	}
	return callbacks
}

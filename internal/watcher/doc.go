// Package watcher provides the fsnotify-backed filesystem watching used to keep
// directory listings fresh.
//
// The Watcher API is safe for concurrent use and delivers best-effort events:
// callers should assume events can be coalesced or dropped under load and use
// callbacks to trigger higher-level refreshes rather than rely on exact ordering.
// Bridge adapts a Watcher to the subscribe/unsubscribe contract of the
// directory cache.
package watcher

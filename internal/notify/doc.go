// Package notify carries directory change notices between processes.
//
// BusAnnouncer publishes a cache's announcements on a local event bus. A Peer
// forwards the announcements that originated locally to a Relay over a
// websocket and applies the notices other processes sent back to its own
// cache. Every event carries the origin id of the process that produced it so
// a process never reacts to its own echo.
package notify

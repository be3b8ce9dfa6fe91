package watcher

import (
	"sync"
	"time"

	"dirlister/internal/logging"
	"dirlister/internal/metrics"

	"github.com/fsnotify/fsnotify"
)

// Event represents a single filesystem change.
type Event struct {
	Path      string
	Op        fsnotify.Op
	Timestamp time.Time
}

// Handle releases watcher resources for a registration.
type Handle interface {
	Close() error
}

// Watch registers a callback for filesystem events on a path.
type Watch interface {
	Watch(path string, callback func(Event)) (Handle, error)
}

// Options controls watcher behavior.
type Options struct {
	Logger          *logging.Logger
	Metrics         *metrics.Registry
	Debounce        time.Duration
	MaxWatches      int
	CleanupInterval time.Duration
	ErrorHandler    func(error)
}

// Metrics is a snapshot of watcher counters.
type Metrics struct {
	ActiveWatches   int
	EventsDelivered uint64
	EventsDropped   uint64
	Errors          uint64
	RestartAttempts int
}

// Watcher is the concrete fsnotify-backed implementation.
type Watcher struct {
	watcher         *fsnotify.Watcher
	mutex           sync.Mutex
	callbacks       map[string][]callbackEntry
	debouncer       *debouncer
	events          chan fsnotify.Event
	errors          chan error
	done            chan struct{}
	closed          bool
	logger          *logging.Logger
	metrics         *metrics.Registry
	nextID          uint64
	activeWatches   int
	maxWatches      int
	cleanupInterval time.Duration
	errorHandler    func(error)

	restartMutex    sync.Mutex
	restartTimer    *time.Timer
	restartAttempts int

	eventsDelivered uint64
	eventsDropped   uint64
	errorCount      uint64
}

package notify

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"dirlister/internal/event"
	"dirlister/internal/logging"

	"github.com/gorilla/websocket"
)

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
	wsWriteTimeout    = 10 * time.Second
	wsReadLimit       = 1 << 20
)

// Relay is the hub peers connect to. Every event a peer sends is published
// on the relay's bus and written to every other connected peer.
type Relay struct {
	bus    *event.Bus[event.DirEvent]
	logger *logging.Logger

	mutex sync.Mutex
	peers map[string]int
}

func NewRelay(bus *event.Bus[event.DirEvent], logger *logging.Logger) *Relay {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Relay{
		bus:    bus,
		logger: logger.Component("relay"),
		peers:  make(map[string]int),
	}
}

// Peers reports how many connections are attached.
func (relay *Relay) Peers() int {
	relay.mutex.Lock()
	defer relay.mutex.Unlock()
	total := 0
	for _, count := range relay.peers {
		total += count
	}
	return total
}

func (relay *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	origin := query.Get("origin")
	if origin == "" {
		http.Error(w, "origin is required", http.StatusBadRequest)
		return
	}
	var since time.Time
	if raw := query.Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			http.Error(w, "invalid since "+strconv.Quote(raw), http.StatusBadRequest)
			return
		}
		since = parsed
	}
	if relay.bus == nil {
		http.Error(w, "relay bus unavailable", http.StatusServiceUnavailable)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
		CheckOrigin: func(*http.Request) bool {
			return true
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		relay.logger.Warn("websocket upgrade failed", map[string]string{
			"origin":      origin,
			"remote_addr": r.RemoteAddr,
			"error":       err.Error(),
		})
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	foreign := func(dirEvent event.DirEvent) bool {
		return dirEvent.Origin != origin
	}
	output, cancel := relay.bus.SubscribeFiltered(foreign)
	defer cancel()
	relay.track(origin, 1)
	defer relay.track(origin, -1)

	// The backlog is taken after subscribing so nothing falls in between.
	var backlog []event.DirEvent
	if !since.IsZero() {
		for _, dirEvent := range relay.bus.Since(since) {
			if foreign(dirEvent) {
				backlog = append(backlog, dirEvent)
			}
		}
		relay.logger.Debug("replaying missed events", map[string]string{
			"origin": origin,
			"since":  since.Format(time.RFC3339Nano),
			"count":  strconv.Itoa(len(backlog)),
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		// A closed bus or a failed write also ends the read loop.
		defer conn.Close()
		replayed := make(map[replayKey]struct{}, len(backlog))
		for _, dirEvent := range backlog {
			if err := writeEvent(conn, dirEvent); err != nil {
				return
			}
			replayed[keyOf(dirEvent)] = struct{}{}
		}
		for dirEvent := range output {
			if _, seen := replayed[keyOf(dirEvent)]; seen {
				continue
			}
			if err := writeEvent(conn, dirEvent); err != nil {
				return
			}
		}
	}()

	for {
		var dirEvent event.DirEvent
		if err := conn.ReadJSON(&dirEvent); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				relay.logger.Debug("peer disconnected", map[string]string{
					"origin": origin,
					"error":  err.Error(),
				})
			}
			break
		}
		if dirEvent.EventType == "" {
			continue
		}
		if dirEvent.Origin == "" {
			dirEvent.Origin = origin
		}
		relay.bus.Publish(dirEvent)
	}
	cancel()
	<-writerDone
}

func (relay *Relay) track(origin string, delta int) {
	relay.mutex.Lock()
	relay.peers[origin] += delta
	if relay.peers[origin] <= 0 {
		delete(relay.peers, origin)
	}
	count := relay.peers[origin]
	relay.mutex.Unlock()
	relay.logger.Debug("peer count changed", map[string]string{
		"origin": origin,
		"count":  strconv.Itoa(count),
	})
}

// replayKey identifies an event that may reach a peer both from the backlog
// and from the live subscription.
type replayKey struct {
	origin    string
	eventType string
	dir       string
	at        int64
}

func keyOf(dirEvent event.DirEvent) replayKey {
	return replayKey{
		origin:    dirEvent.Origin,
		eventType: dirEvent.EventType,
		dir:       dirEvent.Dir,
		at:        dirEvent.OccurredAt.UnixNano(),
	}
}

package notify

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"dirlister/internal/event"
	"dirlister/internal/logging"

	"github.com/gorilla/websocket"
)

const (
	defaultRetryDelay    = 500 * time.Millisecond
	defaultMaxRetryDelay = 30 * time.Second
)

type wsDialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// PeerOptions configures a Peer.
type PeerOptions struct {
	// URL is the relay websocket endpoint, for example ws://host:7070/relay.
	URL    string
	Origin string
	// Bus carries this process's own announcements. Events whose origin is
	// Origin are forwarded to the relay.
	Bus           *event.Bus[event.DirEvent]
	Target        Target
	Logger        *logging.Logger
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	Dialer        *websocket.Dialer
}

// Peer keeps one websocket session to a relay alive and moves events both
// ways until its context ends.
type Peer struct {
	endpoint      *url.URL
	origin        string
	bus           *event.Bus[event.DirEvent]
	target        Target
	logger        *logging.Logger
	dialer        wsDialer
	retryDelay    time.Duration
	maxRetryDelay time.Duration

	readyOnce sync.Once
	ready     chan struct{}

	// lastSeen is the newest inbound event time. It is written by the read
	// loop and read by Run only after that loop has ended.
	lastSeen time.Time
}

func NewPeer(options PeerOptions) (*Peer, error) {
	if options.Origin == "" {
		return nil, errors.New("origin is required")
	}
	if options.Target == nil {
		return nil, errors.New("target is required")
	}
	endpoint, err := url.Parse(options.URL)
	if err != nil {
		return nil, err
	}
	if endpoint.Scheme != "ws" && endpoint.Scheme != "wss" {
		return nil, errors.New("relay url must use ws or wss")
	}
	query := endpoint.Query()
	query.Set("origin", options.Origin)
	endpoint.RawQuery = query.Encode()

	logger := options.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	retryDelay := options.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	maxRetryDelay := options.MaxRetryDelay
	if maxRetryDelay < retryDelay {
		maxRetryDelay = defaultMaxRetryDelay
	}
	var dialer wsDialer = websocket.DefaultDialer
	if options.Dialer != nil {
		dialer = options.Dialer
	}
	return &Peer{
		endpoint:      endpoint,
		origin:        options.Origin,
		bus:           options.Bus,
		target:        options.Target,
		logger:        logger.Component("peer").With(map[string]string{"origin": options.Origin}),
		dialer:        dialer,
		retryDelay:    retryDelay,
		maxRetryDelay: maxRetryDelay,
		ready:         make(chan struct{}),
	}, nil
}

// Ready is closed once the first session is established.
func (peer *Peer) Ready() <-chan struct{} {
	return peer.ready
}

// Run connects, reconnecting with exponential backoff, until ctx is done.
func (peer *Peer) Run(ctx context.Context) error {
	delay := peer.retryDelay
	for {
		conn, _, err := peer.dialer.DialContext(ctx, peer.dialURL(), nil)
		if err == nil {
			delay = peer.retryDelay
			peer.session(ctx, conn)
		} else if ctx.Err() == nil {
			peer.logger.Warn("relay dial failed", map[string]string{
				"url":   peer.endpoint.String(),
				"error": err.Error(),
				"retry": delay.String(),
			})
		}
		if ctx.Err() != nil {
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		delay *= 2
		if delay > peer.maxRetryDelay {
			delay = peer.maxRetryDelay
		}
	}
}

// dialURL asks the relay to replay what was missed while disconnected once
// at least one event has been received.
func (peer *Peer) dialURL() string {
	if peer.lastSeen.IsZero() {
		return peer.endpoint.String()
	}
	endpoint := *peer.endpoint
	query := endpoint.Query()
	query.Set("since", peer.lastSeen.UTC().Format(time.RFC3339Nano))
	endpoint.RawQuery = query.Encode()
	return endpoint.String()
}

func (peer *Peer) session(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadLimit(wsReadLimit)

	var outbound <-chan event.DirEvent
	if peer.bus != nil {
		events, cancel := peer.bus.SubscribeFiltered(func(dirEvent event.DirEvent) bool {
			return dirEvent.Origin == peer.origin
		})
		defer cancel()
		outbound = events
	}
	peer.logger.Info("relay connected", map[string]string{"url": peer.endpoint.String()})
	peer.readyOnce.Do(func() {
		close(peer.ready)
	})

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		peer.readLoop(conn)
	}()

	for {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = conn.Close()
			<-readerDone
			return
		case <-readerDone:
			peer.logger.Warn("relay connection lost", map[string]string{"url": peer.endpoint.String()})
			return
		case dirEvent, ok := <-outbound:
			if !ok || writeEvent(conn, dirEvent) != nil {
				_ = conn.Close()
				<-readerDone
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, dirEvent event.DirEvent) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(dirEvent)
}

func (peer *Peer) readLoop(conn *websocket.Conn) {
	for {
		var dirEvent event.DirEvent
		if err := conn.ReadJSON(&dirEvent); err != nil {
			return
		}
		if dirEvent.Origin == peer.origin {
			continue
		}
		if dirEvent.OccurredAt.After(peer.lastSeen) {
			peer.lastSeen = dirEvent.OccurredAt
		}
		if err := Apply(peer.target, dirEvent); err != nil {
			peer.logger.Warn("inbound event rejected", map[string]string{
				"type":   dirEvent.EventType,
				"source": dirEvent.Origin,
				"error":  err.Error(),
			})
		}
	}
}

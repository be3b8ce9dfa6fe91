// Package event provides a generic in-process publish/subscribe bus and the
// directory change events carried on it.
package event

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dirlister/internal/logging"
	"dirlister/internal/metrics"
)

const defaultSubscriberBufferSize = 128
const defaultDropWarningThreshold = 0.01
const defaultDropWarningInterval = 30 * time.Second

// BusOptions configures a Bus. Full subscribers lose events rather than
// block publishers. HistorySize keeps that many recent events for Recent and
// Since; zero keeps none.
type BusOptions struct {
	Name                 string
	SubscriberBufferSize int
	DropWarningThreshold float64
	DropWarningInterval  time.Duration
	HistorySize          int
	Registry             *metrics.Registry
	Logger               *logging.Logger
}

type Bus[T any] struct {
	mu           sync.Mutex
	subscribers  map[uint64]subscription[T]
	nextSubID    uint64
	closed       bool
	closeOnce    sync.Once
	options      BusOptions
	registry     *metrics.Registry
	logger       *logging.Logger
	published    atomic.Int64
	dropped      atomic.Int64
	lastWarning  atomic.Int64
	history      []T
	historyNext  int
	historyCount int
}

type typedEvent interface {
	Type() string
}

func NewBus[T any](ctx context.Context, opts BusOptions) *Bus[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.SubscriberBufferSize <= 0 {
		opts.SubscriberBufferSize = defaultSubscriberBufferSize
	}
	if opts.DropWarningThreshold <= 0 {
		opts.DropWarningThreshold = defaultDropWarningThreshold
	}
	if opts.DropWarningInterval <= 0 {
		opts.DropWarningInterval = defaultDropWarningInterval
	}
	bus := &Bus[T]{
		subscribers: make(map[uint64]subscription[T]),
		options:     opts,
		registry:    opts.Registry,
	}
	if opts.HistorySize > 0 {
		bus.history = make([]T, opts.HistorySize)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	bus.logger = logger.Component("event").With(map[string]string{"bus": bus.busName()})
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			bus.Close()
		}()
	}
	return bus
}

func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	return b.SubscribeFiltered(nil)
}

func (b *Bus[T]) SubscribeFiltered(filter func(T) bool) (<-chan T, func()) {
	if b == nil {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan T, b.options.SubscriberBufferSize)
	id := atomic.AddUint64(&b.nextSubID, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subscribers[id] = subscription[T]{id: id, ch: ch, filter: filter}
	filtered, unfiltered := b.countSubscribersLocked()
	b.mu.Unlock()

	b.setSubscriberCounts(filtered, unfiltered)

	cancel := func() {
		b.removeSubscriber(id)
	}

	return ch, cancel
}

// MatchTypes builds a subscriber filter that passes events of the given
// types. Empty names are ignored; with no names left it returns nil, which
// passes everything.
func MatchTypes[T any](eventTypes ...string) func(T) bool {
	typeSet := make(map[string]struct{}, len(eventTypes))
	for _, eventType := range eventTypes {
		if eventType = strings.TrimSpace(eventType); eventType != "" {
			typeSet[eventType] = struct{}{}
		}
	}
	if len(typeSet) == 0 {
		return nil
	}
	return func(event T) bool {
		typed, ok := any(event).(typedEvent)
		if !ok {
			return false
		}
		_, matched := typeSet[typed.Type()]
		return matched
	}
}

func (b *Bus[T]) Publish(event T) {
	if b == nil {
		return
	}
	if isNil(event) {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.appendHistoryLocked(event)
	if len(b.subscribers) == 0 {
		b.mu.Unlock()
		eventType := b.eventType(event)
		b.incPublished(eventType)
		b.debugEvent(eventType)
		return
	}
	subscribers := make([]subscription[T], 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subscribers = append(subscribers, sub)
	}
	b.mu.Unlock()

	eventType := b.eventType(event)
	b.incPublished(eventType)
	b.debugEvent(eventType)

	for _, sub := range subscribers {
		if !b.filterAllows(sub, event) {
			continue
		}
		b.sendToSubscriber(sub, event, eventType)
	}
}

func (b *Bus[T]) Close() {
	if b == nil {
		return
	}
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		subscribers := b.subscribers
		b.subscribers = make(map[uint64]subscription[T])
		b.mu.Unlock()

		for _, sub := range subscribers {
			close(sub.ch)
		}
		b.setSubscriberCounts(0, 0)
	})
}

// Recent returns up to limit of the most recent events, oldest first. A
// limit of zero or less returns the whole history.
func (b *Bus[T]) Recent(limit int) []T {
	return b.historySnapshot(limit)
}

// Since returns the remembered events that occurred after t, oldest first.
// Only events that carry a timestamp are considered.
func (b *Bus[T]) Since(t time.Time) []T {
	var events []T
	for _, event := range b.historySnapshot(0) {
		stamped, ok := any(event).(Event)
		if ok && stamped.Timestamp().After(t) {
			events = append(events, event)
		}
	}
	return events
}

type subscription[T any] struct {
	id     uint64
	ch     chan T
	filter func(T) bool
}

func (b *Bus[T]) sendToSubscriber(sub subscription[T], event T, eventType string) {
	delivered := b.safeSend(sub, func() bool {
		select {
		case sub.ch <- event:
			return true
		default:
			return false
		}
	})
	if !delivered {
		b.incDropped(eventType)
	}
}

func (b *Bus[T]) safeSend(sub subscription[T], send func() bool) (delivered bool) {
	defer func() {
		if recover() != nil {
			b.removeSubscriber(sub.id)
			delivered = false
		}
	}()
	return send()
}

func (b *Bus[T]) removeSubscriber(id uint64) {
	if b == nil {
		return
	}
	var ch chan T
	var filtered int
	var unfiltered int
	removed := false
	b.mu.Lock()
	if existing, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		ch = existing.ch
		removed = true
	}
	if removed {
		filtered, unfiltered = b.countSubscribersLocked()
	}
	b.mu.Unlock()

	if removed && ch != nil {
		close(ch)
	}
	if removed {
		b.setSubscriberCounts(filtered, unfiltered)
	}
}

func (b *Bus[T]) filterAllows(sub subscription[T], event T) (allowed bool) {
	if sub.filter == nil {
		return true
	}
	defer func() {
		if recover() != nil {
			b.logger.Error("subscriber filter panicked", nil)
			b.removeSubscriber(sub.id)
			allowed = false
		}
	}()
	return sub.filter(event)
}

func (b *Bus[T]) countSubscribersLocked() (filtered int, unfiltered int) {
	for _, sub := range b.subscribers {
		if sub.filter == nil {
			unfiltered++
		} else {
			filtered++
		}
	}
	return filtered, unfiltered
}

func (b *Bus[T]) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

func (b *Bus[T]) busName() string {
	if b.options.Name == "" {
		return "event_bus"
	}
	return b.options.Name
}

func (b *Bus[T]) eventType(event T) string {
	typed, ok := any(event).(typedEvent)
	if !ok {
		return "unknown"
	}
	value := typed.Type()
	if value == "" {
		return "unknown"
	}
	return value
}

func (b *Bus[T]) incPublished(eventType string) {
	if b == nil {
		return
	}
	b.published.Add(1)
	b.registry.BusPublished(b.busName(), eventType)
}

func (b *Bus[T]) incDropped(eventType string) {
	if b == nil {
		return
	}
	b.dropped.Add(1)
	b.registry.BusDropped(b.busName(), eventType)
	b.maybeWarnDropRate()
}

func (b *Bus[T]) setSubscriberCounts(filtered, unfiltered int) {
	b.registry.SetBusSubscribers(b.busName(), filtered, unfiltered)
}

func (b *Bus[T]) appendHistoryLocked(event T) {
	if len(b.history) == 0 {
		return
	}
	b.history[b.historyNext] = event
	if b.historyCount < len(b.history) {
		b.historyCount++
	}
	b.historyNext = (b.historyNext + 1) % len(b.history)
}

func (b *Bus[T]) historySnapshot(count int) []T {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.history) == 0 || b.historyCount == 0 {
		return nil
	}
	total := b.historyCount
	if count <= 0 || count > total {
		count = total
	}
	start := 0
	if total == len(b.history) {
		start = (b.historyNext - count + len(b.history)) % len(b.history)
	} else {
		start = total - count
	}

	events := make([]T, 0, count)
	for i := 0; i < count; i++ {
		index := (start + i) % len(b.history)
		events = append(events, b.history[index])
	}
	return events
}

func (b *Bus[T]) maybeWarnDropRate() {
	if b == nil {
		return
	}
	threshold := b.options.DropWarningThreshold
	if threshold <= 0 {
		return
	}
	published := b.published.Load()
	if published == 0 {
		return
	}
	dropped := b.dropped.Load()
	if dropped == 0 {
		return
	}
	rate := float64(dropped) / float64(published)
	if rate < threshold {
		return
	}
	interval := b.options.DropWarningInterval
	if interval <= 0 {
		interval = defaultDropWarningInterval
	}
	now := time.Now()
	lastNanos := b.lastWarning.Load()
	if lastNanos > 0 {
		last := time.Unix(0, lastNanos)
		if now.Sub(last) < interval {
			return
		}
	}
	if !b.lastWarning.CompareAndSwap(lastNanos, now.UnixNano()) {
		return
	}
	b.logger.Warn("event drop rate above threshold", map[string]string{
		"rate":      fmt.Sprintf("%.2f%%", rate*100),
		"dropped":   strconv.FormatInt(dropped, 10),
		"published": strconv.FormatInt(published, 10),
	})
}

// Stats reports how many events were published and dropped.
func (b *Bus[T]) Stats() (published, dropped int64) {
	if b == nil {
		return 0, 0
	}
	return b.published.Load(), b.dropped.Load()
}

func (b *Bus[T]) debugEvent(eventType string) {
	if !debugEventsEnabled {
		return
	}
	b.logger.Debug("event published", map[string]string{"type": eventType})
}

var debugEventsEnabled = isEventDebugEnabled()

func isEventDebugEnabled() bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv("DIRLISTER_EVENT_DEBUG")))
	switch value {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func isNil[T any](value T) bool {
	kind := reflect.ValueOf(value)
	if !kind.IsValid() {
		return true
	}
	switch kind.Kind() {
	case reflect.Chan, reflect.Func, reflect.Map, reflect.Pointer, reflect.Interface, reflect.Slice:
		return kind.IsNil()
	default:
		return false
	}
}

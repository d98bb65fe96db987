package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultHistorySize is the number of recent events to retain for replay.
	DefaultHistorySize = 1000

	// DefaultChannelBuffer is the buffer size for subscriber channels.
	DefaultChannelBuffer = 100
)

// SubscriptionID is a unique identifier for event subscriptions.
type SubscriptionID string

// Subscription represents a single event subscription.
type Subscription struct {
	ID        SubscriptionID
	EventType EventType
	Handler   func(Event)
	Channel   chan Event
	done      chan struct{}
}

// Bus is an in-process pub/sub hub for orchestration events.
// Publishing never blocks: a subscriber whose buffer is full misses the event.
type Bus struct {
	// Core state
	subscriptions   map[SubscriptionID]*Subscription
	subscriptionsMu sync.RWMutex
	subCounter      atomic.Uint64

	// Event type to subscription mapping for fast lookup
	typedSubs   map[EventType]map[SubscriptionID]*Subscription
	typedSubsMu sync.RWMutex

	// Wildcard subscribers (receive all events)
	wildcardSubs   map[SubscriptionID]*Subscription
	wildcardSubsMu sync.RWMutex

	// Event history for replay
	history     []Event
	historyMu   sync.RWMutex
	historySize int

	buffer    int
	published atomic.Int64
	dropped   atomic.Int64

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithHistorySize sets how many events are kept for replay.
func WithHistorySize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.historySize = n
		}
	}
}

// WithBuffer sets each subscriber's channel buffer.
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// NewBus creates a bus.
func NewBus(opts ...Option) *Bus {
	ctx, cancel := context.WithCancel(context.Background())

	b := &Bus{
		subscriptions: make(map[SubscriptionID]*Subscription),
		typedSubs:     make(map[EventType]map[SubscriptionID]*Subscription),
		wildcardSubs:  make(map[SubscriptionID]*Subscription),
		historySize:   DefaultHistorySize,
		buffer:        DefaultChannelBuffer,
		ctx:           ctx,
		cancel:        cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.history = make([]Event, 0, b.historySize)
	return b
}

// Subscribe registers a handler for a specific event type.
// Use EventType("") to subscribe to all events (wildcard).
// Handlers for one subscription run sequentially on their own goroutine.
func (b *Bus) Subscribe(eventType EventType, handler func(Event)) SubscriptionID {
	if b.closed.Load() {
		return ""
	}

	id := SubscriptionID(fmt.Sprintf("sub_%d", b.subCounter.Add(1)))

	sub := &Subscription{
		ID:        id,
		EventType: eventType,
		Handler:   handler,
		Channel:   make(chan Event, b.buffer),
		done:      make(chan struct{}),
	}

	b.subscriptionsMu.Lock()
	b.subscriptions[id] = sub
	b.subscriptionsMu.Unlock()

	if eventType == "" {
		b.wildcardSubsMu.Lock()
		b.wildcardSubs[id] = sub
		b.wildcardSubsMu.Unlock()
	} else {
		b.typedSubsMu.Lock()
		if b.typedSubs[eventType] == nil {
			b.typedSubs[eventType] = make(map[SubscriptionID]*Subscription)
		}
		b.typedSubs[eventType][id] = sub
		b.typedSubsMu.Unlock()
	}

	b.wg.Add(1)
	go b.handleSubscription(sub)

	return id
}

// SubscribeAll registers a wildcard handler.
func (b *Bus) SubscribeAll(handler func(Event)) SubscriptionID {
	return b.Subscribe("", handler)
}

// handleSubscription processes events for a single subscription.
func (b *Bus) handleSubscription(sub *Subscription) {
	defer b.wg.Done()

	for {
		select {
		case event := <-sub.Channel:
			b.dispatch(sub, event)
		case <-sub.done:
			return
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *Bus) dispatch(sub *Subscription, event Event) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().
				Str("subscription", string(sub.ID)).
				Str("event", string(event.Type)).
				Interface("panic", p).
				Msg("event handler panicked")
		}
	}()
	sub.Handler(event)
}

// Unsubscribe removes a subscription by ID.
func (b *Bus) Unsubscribe(id SubscriptionID) error {
	if b.closed.Load() {
		return fmt.Errorf("bus is closed")
	}

	b.subscriptionsMu.Lock()
	sub, exists := b.subscriptions[id]
	if !exists {
		b.subscriptionsMu.Unlock()
		return fmt.Errorf("subscription %s not found", id)
	}
	delete(b.subscriptions, id)
	b.subscriptionsMu.Unlock()

	if sub.EventType == "" {
		b.wildcardSubsMu.Lock()
		delete(b.wildcardSubs, id)
		b.wildcardSubsMu.Unlock()
	} else {
		b.typedSubsMu.Lock()
		if subs, ok := b.typedSubs[sub.EventType]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.typedSubs, sub.EventType)
			}
		}
		b.typedSubsMu.Unlock()
	}

	close(sub.done)
	return nil
}

// Publish sends an event to all matching subscribers without blocking.
// A nil bus accepts and discards events.
func (b *Bus) Publish(event Event) error {
	if b == nil {
		return nil
	}
	if b.closed.Load() {
		return fmt.Errorf("bus is closed")
	}
	b.published.Add(1)

	b.addToHistory(event)

	b.wildcardSubsMu.RLock()
	for _, sub := range b.wildcardSubs {
		b.offer(sub, event)
	}
	b.wildcardSubsMu.RUnlock()

	b.typedSubsMu.RLock()
	for _, sub := range b.typedSubs[event.Type] {
		b.offer(sub, event)
	}
	b.typedSubsMu.RUnlock()

	return nil
}

func (b *Bus) offer(sub *Subscription, event Event) {
	select {
	case sub.Channel <- event:
	default:
		b.dropped.Add(1)
		log.Debug().Str("subscription", string(sub.ID)).Str("event", string(event.Type)).Msg("subscriber buffer full, event dropped")
	}
}

func (b *Bus) addToHistory(event Event) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()

	b.history = append(b.history, event)
	if len(b.history) > b.historySize {
		b.history = b.history[len(b.history)-b.historySize:]
	}
}

// History returns up to the last n events of the given types, oldest first.
// n <= 0 returns everything retained.
func (b *Bus) History(n int, types ...EventType) []Event {
	b.historyMu.RLock()
	defer b.historyMu.RUnlock()

	var matched []Event
	for _, e := range b.history {
		if e.Matches(types) {
			matched = append(matched, e)
		}
	}
	if n > 0 && len(matched) > n {
		matched = matched[len(matched)-n:]
	}
	return append([]Event(nil), matched...)
}

// Stats reports publication counters.
type Stats struct {
	Published     int64 `json:"published"`
	Dropped       int64 `json:"dropped"`
	Subscriptions int   `json:"subscriptions"`
	History       int   `json:"history"`
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() Stats {
	b.historyMu.RLock()
	history := len(b.history)
	b.historyMu.RUnlock()
	return Stats{
		Published:     b.published.Load(),
		Dropped:       b.dropped.Load(),
		Subscriptions: b.SubscriptionsCount(),
		History:       history,
	}
}

// SubscriptionsCount returns the total number of active subscriptions.
func (b *Bus) SubscriptionsCount() int {
	b.subscriptionsMu.RLock()
	defer b.subscriptionsMu.RUnlock()
	return len(b.subscriptions)
}

// TypedSubscriptionsCount returns the number of subscriptions for a specific event type.
func (b *Bus) TypedSubscriptionsCount(eventType EventType) int {
	b.typedSubsMu.RLock()
	defer b.typedSubsMu.RUnlock()
	return len(b.typedSubs[eventType])
}

// WildcardSubscriptionsCount returns the number of wildcard subscriptions.
func (b *Bus) WildcardSubscriptionsCount() int {
	b.wildcardSubsMu.RLock()
	defer b.wildcardSubsMu.RUnlock()
	return len(b.wildcardSubs)
}

// Close shuts down the bus and all subscriptions.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("bus already closed")
	}

	b.cancel()
	b.wg.Wait()

	b.subscriptionsMu.Lock()
	b.subscriptions = make(map[SubscriptionID]*Subscription)
	b.subscriptionsMu.Unlock()

	b.typedSubsMu.Lock()
	b.typedSubs = make(map[EventType]map[SubscriptionID]*Subscription)
	b.typedSubsMu.Unlock()

	b.wildcardSubsMu.Lock()
	b.wildcardSubs = make(map[SubscriptionID]*Subscription)
	b.wildcardSubsMu.Unlock()

	return nil
}

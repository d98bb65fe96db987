package bus

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNewBus(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	if bus.historySize != DefaultHistorySize {
		t.Errorf("Expected history size %d, got %d", DefaultHistorySize, bus.historySize)
	}
	if bus.buffer != DefaultChannelBuffer {
		t.Errorf("Expected buffer %d, got %d", DefaultChannelBuffer, bus.buffer)
	}
}

func TestNewBusWithOptions(t *testing.T) {
	bus := NewBus(WithHistorySize(500), WithBuffer(8))
	defer bus.Close()

	if bus.historySize != 500 {
		t.Errorf("Expected history size 500, got %d", bus.historySize)
	}
	if bus.buffer != 8 {
		t.Errorf("Expected buffer 8, got %d", bus.buffer)
	}
}

func TestSubscribeAndPublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	done := make(chan Event, 1)
	id := bus.Subscribe(EventRouted, func(e Event) { done <- e })
	if id == "" {
		t.Fatal("Subscribe returned empty ID")
	}

	event := NewEvent(EventRouted)
	event.Agent = "finance"
	if err := bus.Publish(event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case got := <-done:
		if got.Agent != "finance" {
			t.Errorf("Expected agent finance, got %q", got.Agent)
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for event")
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var calls atomic.Int32
	id := bus.Subscribe(EventRouted, func(e Event) { calls.Add(1) })

	bus.Publish(NewEvent(EventRouted))
	waitFor(t, func() bool { return calls.Load() == 1 })

	if err := bus.Unsubscribe(id); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	bus.Publish(NewEvent(EventRouted))
	time.Sleep(50 * time.Millisecond)

	if calls.Load() != 1 {
		t.Errorf("Expected 1 call, got %d", calls.Load())
	}
}

func TestTypedAndWildcardSubscriptions(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var typed, wildcard atomic.Int32
	bus.Subscribe(EventToolExecuted, func(e Event) { typed.Add(1) })
	bus.SubscribeAll(func(e Event) { wildcard.Add(1) })

	bus.Publish(NewEvent(EventToolExecuted))
	bus.Publish(NewEvent(EventRouted))

	waitFor(t, func() bool { return wildcard.Load() == 2 })
	if typed.Load() != 1 {
		t.Errorf("Typed subscriber expected 1 call, got %d", typed.Load())
	}
}

func TestHistory(t *testing.T) {
	bus := NewBus(WithHistorySize(5))
	defer bus.Close()

	for i := 0; i < 10; i++ {
		event := NewEvent(EventRouted)
		if i%2 == 0 {
			event.Type = EventToolExecuted
		}
		event.Count = i
		bus.Publish(event)
	}

	all := bus.History(0)
	if len(all) != 5 {
		t.Fatalf("Expected 5 events in history (max capacity), got %d", len(all))
	}
	if all[0].Count != 5 || all[4].Count != 9 {
		t.Errorf("Expected oldest-first events 5..9, got %d..%d", all[0].Count, all[4].Count)
	}

	last := bus.History(2)
	if len(last) != 2 || last[1].Count != 9 {
		t.Errorf("Expected the two newest events, got %+v", last)
	}

	tools := bus.History(0, EventToolExecuted)
	if len(tools) != 2 {
		t.Errorf("Expected 2 tool events, got %d", len(tools))
	}
}

func TestMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var wg sync.WaitGroup
	counters := [3]*atomic.Int32{{}, {}, {}}
	for i := 0; i < 3; i++ {
		wg.Add(1)
		idx := i
		bus.Subscribe(EventRouted, func(e Event) {
			counters[idx].Add(1)
			wg.Done()
		})
	}

	bus.Publish(NewEvent(EventRouted))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		for i, c := range counters {
			if c.Load() != 1 {
				t.Errorf("Subscriber %d expected 1 call, got %d", i, c.Load())
			}
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for all subscribers")
	}
}

func TestConcurrentPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var received atomic.Int64
	for i := 0; i < 10; i++ {
		bus.Subscribe(EventRouted, func(e Event) { received.Add(1) })
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(NewEvent(EventRouted))
		}()
	}
	wg.Wait()

	// Every delivery is either handled or counted as dropped.
	waitFor(t, func() bool { return received.Load()+bus.Stats().Dropped == 1000 })
	if bus.Stats().Published != 100 {
		t.Errorf("Expected 100 published, got %d", bus.Stats().Published)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := NewBus(WithBuffer(1))
	defer bus.Close()

	release := make(chan struct{})
	bus.Subscribe(EventRouted, func(e Event) { <-release })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			bus.Publish(NewEvent(EventRouted))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	close(release)

	if bus.Stats().Dropped == 0 {
		t.Error("Expected dropped events for the slow subscriber")
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var calls atomic.Int32
	bus.Subscribe(EventRouted, func(e Event) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
	})

	bus.Publish(NewEvent(EventRouted))
	bus.Publish(NewEvent(EventRouted))
	waitFor(t, func() bool { return calls.Load() == 2 })
}

func TestPublishAfterClose(t *testing.T) {
	bus := NewBus()
	bus.Close()

	if err := bus.Publish(NewEvent(EventRouted)); err == nil {
		t.Error("Expected error when publishing to closed bus")
	}
	if err := bus.Close(); err == nil {
		t.Error("Expected error when closing twice")
	}
}

func TestNilBusPublish(t *testing.T) {
	var bus *Bus
	if err := bus.Publish(NewEvent(EventRouted)); err != nil {
		t.Errorf("Expected nil bus to discard events, got %v", err)
	}
}

func TestUnsubscribeNonExistent(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	if err := bus.Unsubscribe(SubscriptionID("nonexistent")); err == nil {
		t.Error("Expected error when unsubscribing non-existent ID")
	}
}

func TestSubscriptionCounts(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	if bus.SubscriptionsCount() != 0 {
		t.Errorf("Expected 0 subscriptions, got %d", bus.SubscriptionsCount())
	}

	id1 := bus.Subscribe(EventRouted, func(e Event) {})
	id2 := bus.Subscribe(EventHandoff, func(e Event) {})
	bus.SubscribeAll(func(e Event) {})

	if bus.SubscriptionsCount() != 3 {
		t.Errorf("Expected 3 subscriptions, got %d", bus.SubscriptionsCount())
	}
	if bus.WildcardSubscriptionsCount() != 1 {
		t.Errorf("Expected 1 wildcard subscription, got %d", bus.WildcardSubscriptionsCount())
	}
	if bus.TypedSubscriptionsCount(EventRouted) != 1 {
		t.Errorf("Expected 1 typed subscription for routed, got %d", bus.TypedSubscriptionsCount(EventRouted))
	}

	bus.Unsubscribe(id1)
	bus.Unsubscribe(id2)

	if bus.SubscriptionsCount() != 1 {
		t.Errorf("Expected 1 subscription after unsubscribe, got %d", bus.SubscriptionsCount())
	}
	if bus.TypedSubscriptionsCount(EventHandoff) != 0 {
		t.Errorf("Expected 0 typed subscriptions for handoff, got %d", bus.TypedSubscriptionsCount(EventHandoff))
	}
}

func TestNewEvent(t *testing.T) {
	event := NewEvent(EventRouted)

	if event.ID == "" {
		t.Error("NewEvent should generate an ID")
	}
	if event.Type != EventRouted {
		t.Errorf("Expected type %s, got %s", EventRouted, event.Type)
	}
	if event.Timestamp.IsZero() {
		t.Error("NewEvent should set a timestamp")
	}
	if NewEvent(EventRouted).ID == event.ID {
		t.Error("Event IDs should be unique")
	}
}

func TestEventMatches(t *testing.T) {
	e := NewEvent(EventHandoff)
	if !e.Matches(nil) {
		t.Error("No filter should match everything")
	}
	if !e.Matches([]EventType{EventRouted, EventHandoff}) {
		t.Error("Expected handoff to match its own type")
	}
	if e.Matches([]EventType{EventRouted}) {
		t.Error("Expected handoff not to match routed")
	}
}

// ============================================================================
// OBSERVER
// ============================================================================

func dialObserver(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial observer: %v", err)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return e
}

func TestObserverReplaysAndStreams(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	past := NewEvent(EventRouted)
	past.Agent = "home"
	bus.Publish(past)

	obs := NewObserver(bus, DefaultObserverConfig())
	defer obs.Close()
	srv := httptest.NewServer(obs)
	defer srv.Close()

	conn := dialObserver(t, srv, "")
	defer conn.Close()

	if got := readEvent(t, conn); got.ID != past.ID {
		t.Errorf("Expected replayed event %s, got %s", past.ID, got.ID)
	}

	waitFor(t, func() bool { return obs.ClientCount() == 1 })
	live := NewEvent(EventHandoff)
	bus.Publish(live)
	if got := readEvent(t, conn); got.ID != live.ID {
		t.Errorf("Expected live event %s, got %s", live.ID, got.ID)
	}
}

func TestObserverTypeFilter(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	obs := NewObserver(bus, DefaultObserverConfig())
	defer obs.Close()
	srv := httptest.NewServer(obs)
	defer srv.Close()

	conn := dialObserver(t, srv, "replay=false&types=tool_executed")
	defer conn.Close()
	waitFor(t, func() bool { return obs.ClientCount() == 1 })

	bus.Publish(NewEvent(EventRouted))
	tool := NewEvent(EventToolExecuted)
	tool.Tool = "get_weather"
	bus.Publish(tool)

	got := readEvent(t, conn)
	if got.Type != EventToolExecuted || got.Tool != "get_weather" {
		t.Errorf("Expected only the tool event, got %+v", got)
	}
}

func BenchmarkPublish(b *testing.B) {
	bus := NewBus()
	defer bus.Close()

	bus.Subscribe(EventRouted, func(e Event) {})
	event := NewEvent(EventRouted)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bus.Publish(event)
	}
}

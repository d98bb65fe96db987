package metrics

import (
	"sync"
	"time"

	"github.com/normanking/concierge/internal/bus"
)

// Collector subscribes to the event bus and aggregates session statistics.
// Quality scores published by background scoring are forwarded to the
// recorder's collectors.
type Collector struct {
	bus          *bus.Bus
	recorder     *Recorder
	session      *SessionStats
	recentEvents []bus.Event
	mu           sync.RWMutex
	maxEvents    int
	subs         []bus.SubscriptionID
	stopped      bool
}

// SessionStats holds metrics since the process started.
type SessionStats struct {
	StartTime       time.Time      `json:"start_time"`
	RequestCount    int            `json:"request_count"`
	SuccessCount    int            `json:"success_count"`
	FailureCount    int            `json:"failure_count"`
	ToolCalls       int            `json:"tool_calls"`
	ToolFailures    int            `json:"tool_failures"`
	Fallbacks       int            `json:"fallbacks"`
	Handoffs        int            `json:"handoffs"`
	MemoriesStored  int            `json:"memories_stored"`
	FeedbackSignals int            `json:"feedback_signals"`
	TotalLatencyMs  int64          `json:"total_latency_ms"`
	ActiveRequests  int            `json:"active_requests"`
	AgentRequests   map[string]int `json:"agent_requests"`
	LastEvent       string         `json:"last_event"`
	LastEventTime   time.Time      `json:"last_event_time"`
	QualitySum      float64        `json:"quality_sum"`
	QualityCount    int            `json:"quality_count"`
}

// AvgLatency returns the mean request latency.
func (s *SessionStats) AvgLatency() time.Duration {
	if s.RequestCount == 0 {
		return 0
	}
	return time.Duration(s.TotalLatencyMs/int64(s.RequestCount)) * time.Millisecond
}

// SuccessRate returns the share of successful requests as a percentage.
func (s *SessionStats) SuccessRate() float64 {
	if s.RequestCount == 0 {
		return 100
	}
	return float64(s.SuccessCount) / float64(s.RequestCount) * 100
}

// AvgQuality returns the mean quality score seen this session.
func (s *SessionStats) AvgQuality() float64 {
	if s.QualityCount == 0 {
		return 0
	}
	return s.QualitySum / float64(s.QualityCount)
}

// NewCollector creates a collector. recorder may be nil.
func NewCollector(eventBus *bus.Bus, recorder *Recorder) *Collector {
	return &Collector{
		bus:      eventBus,
		recorder: recorder,
		session: &SessionStats{
			StartTime:     time.Now(),
			AgentRequests: make(map[string]int),
		},
		maxEvents: 50,
	}
}

// Start begins listening to the event bus.
func (c *Collector) Start() {
	if c.bus == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || len(c.subs) > 0 {
		return
	}
	for _, t := range []bus.EventType{
		bus.EventRequestReceived,
		bus.EventResponseCompleted,
		bus.EventRequestFailed,
		bus.EventToolExecuted,
		bus.EventModelFallback,
		bus.EventHandoff,
		bus.EventQualityScored,
		bus.EventFeedbackApplied,
		bus.EventMemoriesStored,
	} {
		c.subs = append(c.subs, c.bus.Subscribe(t, c.handleEvent))
	}
}

// Stop stops listening.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.stopped = true

	for _, id := range c.subs {
		_ = c.bus.Unsubscribe(id)
	}
	c.subs = nil
}

// GetSessionStats returns a copy of the session stats.
func (c *Collector) GetSessionStats() *SessionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := *c.session
	stats.AgentRequests = make(map[string]int, len(c.session.AgentRequests))
	for k, v := range c.session.AgentRequests {
		stats.AgentRequests[k] = v
	}
	return &stats
}

// GetRecentEvents returns up to n of the most recent events, oldest first.
func (c *Collector) GetRecentEvents(n int) []bus.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n > len(c.recentEvents) {
		n = len(c.recentEvents)
	}
	events := make([]bus.Event, n)
	copy(events, c.recentEvents[len(c.recentEvents)-n:])
	return events
}

// handleEvent is the central event handler that dispatches to specific handlers.
func (c *Collector) handleEvent(e bus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recentEvents = append(c.recentEvents, e)
	if len(c.recentEvents) > c.maxEvents {
		c.recentEvents = c.recentEvents[1:]
	}
	c.session.LastEvent = string(e.Type)
	c.session.LastEventTime = e.Timestamp

	s := c.session
	switch e.Type {
	case bus.EventRequestReceived:
		s.ActiveRequests++

	case bus.EventResponseCompleted, bus.EventRequestFailed:
		if s.ActiveRequests > 0 {
			s.ActiveRequests--
		}
		s.RequestCount++
		s.TotalLatencyMs += e.DurationMs
		if e.Type == bus.EventResponseCompleted {
			s.SuccessCount++
			s.AgentRequests[e.Agent]++
		} else {
			s.FailureCount++
		}

	case bus.EventToolExecuted:
		s.ToolCalls++
		if !e.Success {
			s.ToolFailures++
		}

	case bus.EventModelFallback:
		s.Fallbacks++

	case bus.EventHandoff:
		s.Handoffs++

	case bus.EventQualityScored:
		s.QualitySum += e.Score
		s.QualityCount++
		if c.recorder != nil {
			c.recorder.ObserveQuality(e.Agent, e.Score, e.Cacheable)
		}

	case bus.EventFeedbackApplied:
		s.FeedbackSignals++

	case bus.EventMemoriesStored:
		s.MemoriesStored += e.Count
	}
}

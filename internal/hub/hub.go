// Package hub fans out session events to real-time subscribers.
//
// Each session id is a topic. Publishers never block: a subscriber whose
// buffer is full misses the event.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/spatialvoice/internal/observe"
)

// Event types broadcast on a session topic.
const (
	TypeTranscription  = "transcription"
	TypeAssistantDelta = "assistant_delta"
	TypeAssistantDone  = "assistant_done"
	TypeToolCall       = "tool_call"
	TypeError          = "error"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 256

// Event is one outbound message. Field presence depends on Type.
type Event struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Tool      string          `json:"tool,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// Subscription receives the events of one session.
type Subscription struct {
	ch      chan Event
	session string
	hub     *Hub
	once    sync.Once
}

// Events returns the receive channel. It is closed by [Subscription.Close].
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// Hub routes events to subscribers by session id.
type Hub struct {
	mu      sync.RWMutex
	topics  map[string]map[*Subscription]struct{}
	buffer  int
	now     func() time.Time
	metrics *observe.Metrics
}

// Option configures a [Hub].
type Option func(*Hub)

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// WithMetrics counts dropped events on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// New creates an empty hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		topics: make(map[string]map[*Subscription]struct{}),
		buffer: DefaultBuffer,
		now:    time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Subscribe registers a subscriber on sessionID.
func (h *Hub) Subscribe(sessionID string) *Subscription {
	s := &Subscription{
		ch:      make(chan Event, h.buffer),
		session: sessionID,
		hub:     h,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[sessionID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.topics[sessionID] = subs
	}
	subs[s] = struct{}{}
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.topics[s.session]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.topics, s.session)
		}
	}
	close(s.ch)
}

// Publish stamps ev with the current time when its Timestamp is empty and
// delivers it to every subscriber of sessionID. It returns the number of
// subscribers that received it.
func (h *Hub) Publish(sessionID string, ev Event) int {
	if ev.Timestamp == "" {
		ev.Timestamp = h.now().UTC().Format(time.RFC3339Nano)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for s := range h.topics[sessionID] {
		select {
		case s.ch <- ev:
			delivered++
		default:
			slog.Warn("hub: subscriber too slow, dropping event", "session_id", sessionID, "type", ev.Type)
			if h.metrics != nil {
				h.metrics.EventsDropped.Add(context.Background(), 1)
			}
		}
	}
	return delivered
}

// Subscribers returns the number of subscribers of sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[sessionID])
}

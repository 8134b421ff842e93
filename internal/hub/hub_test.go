package hub_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/MrWong99/spatialvoice/internal/hub"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
}

func TestPublish_DeliversToSessionSubscribersOnly(t *testing.T) {
	h := hub.New(hub.WithClock(fixedClock))
	a1 := h.Subscribe("a")
	a2 := h.Subscribe("a")
	b := h.Subscribe("b")
	defer a1.Close()
	defer a2.Close()
	defer b.Close()

	if n := h.Publish("a", hub.Event{Type: hub.TypeTranscription, Text: "hello"}); n != 2 {
		t.Fatalf("delivered = %d, want 2", n)
	}

	for _, s := range []*hub.Subscription{a1, a2} {
		ev := <-s.Events()
		if ev.Type != hub.TypeTranscription || ev.Text != "hello" {
			t.Errorf("event = %+v", ev)
		}
		if ev.Timestamp != "2026-03-01T09:30:00Z" {
			t.Errorf("timestamp = %q", ev.Timestamp)
		}
	}
	select {
	case ev := <-b.Events():
		t.Errorf("session b received %+v", ev)
	default:
	}
}

func TestPublish_NoSubscribers(t *testing.T) {
	h := hub.New()
	if n := h.Publish("nobody", hub.Event{Type: hub.TypeAssistantDone}); n != 0 {
		t.Errorf("delivered = %d, want 0", n)
	}
}

func TestPublish_SlowSubscriberDrops(t *testing.T) {
	h := hub.New(hub.WithBuffer(2))
	s := h.Subscribe("a")
	defer s.Close()

	for range 5 {
		h.Publish("a", hub.Event{Type: hub.TypeAssistantDelta, Text: "x"})
	}
	if got := len(s.Events()); got != 2 {
		t.Errorf("queued = %d, want 2", got)
	}
}

func TestSubscription_Close(t *testing.T) {
	h := hub.New()
	s := h.Subscribe("a")
	if h.Subscribers("a") != 1 {
		t.Fatalf("Subscribers = %d", h.Subscribers("a"))
	}
	s.Close()
	s.Close()

	if h.Subscribers("a") != 0 {
		t.Errorf("Subscribers after close = %d", h.Subscribers("a"))
	}
	if _, ok := <-s.Events(); ok {
		t.Error("events channel should be closed")
	}
	if n := h.Publish("a", hub.Event{Type: hub.TypeAssistantDone}); n != 0 {
		t.Errorf("delivered to closed subscription")
	}
}

func TestEvent_JSONShape(t *testing.T) {
	tests := []struct {
		name string
		ev   hub.Event
		want string
	}{
		{
			name: "transcription",
			ev:   hub.Event{Type: hub.TypeTranscription, Text: "hi", Timestamp: "t"},
			want: `{"type":"transcription","text":"hi","timestamp":"t"}`,
		},
		{
			name: "done",
			ev:   hub.Event{Type: hub.TypeAssistantDone, Timestamp: "t"},
			want: `{"type":"assistant_done","timestamp":"t"}`,
		},
		{
			name: "tool call",
			ev:   hub.Event{Type: hub.TypeToolCall, Tool: "open_url", Input: json.RawMessage(`{"url":"u"}`), Timestamp: "t"},
			want: `{"type":"tool_call","tool":"open_url","input":{"url":"u"},"timestamp":"t"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(tt.ev)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(b) != tt.want {
				t.Errorf("json = %s, want %s", b, tt.want)
			}
		})
	}
}

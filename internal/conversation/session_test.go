package conversation_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/spatialvoice/internal/conversation"
	"github.com/MrWong99/spatialvoice/internal/history"
	"github.com/MrWong99/spatialvoice/pkg/provider/llm"
	llmmock "github.com/MrWong99/spatialvoice/pkg/provider/llm/mock"
)

// failingStore always errors.
type failingStore struct{}

func (failingStore) Load(context.Context, string) ([]llm.Message, error) {
	return nil, errors.New("boom")
}
func (failingStore) Save(context.Context, string, []llm.Message) error { return errors.New("boom") }
func (failingStore) Ping(context.Context) error                        { return errors.New("boom") }
func (failingStore) Close() error                                      { return nil }

// ── Chat ─────────────────────────────────────────────────────────────────────

func TestChatFunc_DeltasAndHistory(t *testing.T) {
	p := &llmmock.Provider{Events: []llm.Event{llm.TextDelta("Hi"), llm.TextDelta(" there")}}
	store := history.NewMemory()
	s := conversation.NewSession("s1", p, store, conversation.WithModel("claude-test"))

	var deltas []string
	reply, err := s.ChatFunc(context.Background(), "hello", func(d string) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatalf("ChatFunc: %v", err)
	}
	if reply != "Hi there" {
		t.Errorf("reply = %q, want %q", reply, "Hi there")
	}
	if len(deltas) != 2 || deltas[0] != "Hi" || deltas[1] != " there" {
		t.Errorf("deltas = %q, want [Hi, \" there\"]", deltas)
	}

	h := s.History(context.Background())
	want := []llm.Message{
		{Role: llm.RoleUser, Content: "hello"},
		{Role: llm.RoleAssistant, Content: "Hi there"},
	}
	if len(h) != 2 || h[0] != want[0] || h[1] != want[1] {
		t.Errorf("history = %+v, want %+v", h, want)
	}

	persisted, _ := store.Load(context.Background(), "s1")
	if len(persisted) != 2 {
		t.Errorf("persisted len = %d, want 2", len(persisted))
	}
}

func TestChat_RequestShape(t *testing.T) {
	p := &llmmock.Provider{Events: []llm.Event{llm.TextDelta("ok")}}
	s := conversation.NewSession("s1", p, nil, conversation.WithModel("m"))

	if _, err := s.ChatFunc(context.Background(), "hello", nil); err != nil {
		t.Fatalf("ChatFunc: %v", err)
	}
	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("stream calls = %d, want 1", len(calls))
	}
	req := calls[0].Req
	if req.Model != "m" || req.MaxTokens != conversation.DefaultMaxTokens {
		t.Errorf("model/max_tokens = %q/%d", req.Model, req.MaxTokens)
	}
	if req.System != conversation.SystemPrompt {
		t.Error("system prompt not sent")
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "hello" {
		t.Errorf("messages = %+v", req.Messages)
	}
	if len(req.Tools) != 3 {
		t.Errorf("tools = %d, want 3", len(req.Tools))
	}
}

func TestChat_EventsThenResult(t *testing.T) {
	p := &llmmock.Provider{Events: []llm.Event{
		llm.TextDelta("Drafting"),
		{Kind: llm.EventToolCall, ToolCall: &llm.ToolCall{
			ID: "t1", Name: conversation.ToolComposeEmail,
			Input: json.RawMessage(`{"to":"a@b.c","subject":"s","body":"b"}`),
		}},
	}}
	s := conversation.NewSession("s1", p, nil)

	events, results := s.Chat(context.Background(), "email a@b.c")
	var kinds []llm.EventKind
	for ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	res := <-results
	if res.Err != nil {
		t.Fatalf("Result.Err: %v", res.Err)
	}
	if len(kinds) != 2 || kinds[0] != llm.EventTextDelta || kinds[1] != llm.EventToolCall {
		t.Errorf("kinds = %v", kinds)
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].Name != conversation.ToolComposeEmail {
		t.Errorf("tool calls = %+v", res.ToolCalls)
	}
	if _, ok := <-results; ok {
		t.Error("results channel should be closed after one Result")
	}
}

func TestChat_InvalidToolCallDropped(t *testing.T) {
	p := &llmmock.Provider{Events: []llm.Event{
		{Kind: llm.EventToolCall, ToolCall: &llm.ToolCall{Name: conversation.ToolOpenURL, Input: json.RawMessage(`{}`)}},
		{Kind: llm.EventToolCall, ToolCall: &llm.ToolCall{Name: "launch_rocket", Input: json.RawMessage(`{}`)}},
	}}
	s := conversation.NewSession("s1", p, nil)

	events, results := s.Chat(context.Background(), "go")
	n := 0
	for range events {
		n++
	}
	res := <-results
	if n != 0 || len(res.ToolCalls) != 0 {
		t.Errorf("forwarded %d events / %d calls, want 0", n, len(res.ToolCalls))
	}
}

func TestChat_ProviderErrorRollsBack(t *testing.T) {
	p := &llmmock.Provider{Events: []llm.Event{llm.TextDelta("partial")}, Err: errors.New("status 500")}
	s := conversation.NewSession("s1", p, nil)

	_, err := s.ChatFunc(context.Background(), "hello", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if h := s.History(context.Background()); len(h) != 0 {
		t.Errorf("history after failed turn = %+v, want empty", h)
	}
}

func TestChat_EmptyText(t *testing.T) {
	s := conversation.NewSession("s1", &llmmock.Provider{}, nil)
	if _, err := s.ChatFunc(context.Background(), "   ", nil); !errors.Is(err, conversation.ErrEmptyText) {
		t.Errorf("err = %v, want ErrEmptyText", err)
	}
}

func TestChat_ContextCancelWhileConsumerBlocked(t *testing.T) {
	p := &llmmock.Provider{Events: []llm.Event{llm.TextDelta("a"), llm.TextDelta("b")}}
	s := conversation.NewSession("s1", p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	_, results := s.Chat(ctx, "hello")
	// Never read events; cancel instead.
	cancel()

	select {
	case res := <-results:
		if !errors.Is(res.Err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", res.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not end after cancel")
	}
}

func TestChat_HistoryCapped(t *testing.T) {
	p := &llmmock.Provider{Events: []llm.Event{llm.TextDelta("ok")}}
	s := conversation.NewSession("s1", p, nil)

	for i := range 40 {
		if _, err := s.ChatFunc(context.Background(), fmt.Sprintf("msg %d", i), nil); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
		if n := len(s.History(context.Background())); n > conversation.MaxHistory {
			t.Fatalf("history len %d exceeds %d", n, conversation.MaxHistory)
		}
	}
	h := s.History(context.Background())
	if len(h) != conversation.MaxHistory {
		t.Fatalf("history len = %d, want %d", len(h), conversation.MaxHistory)
	}
	if last := h[len(h)-2]; last.Content != "msg 39" {
		t.Errorf("newest user message = %q, want %q", last.Content, "msg 39")
	}
}

func TestChat_HistoryLimitOption(t *testing.T) {
	p := &llmmock.Provider{Events: []llm.Event{llm.TextDelta("ok")}}
	s := conversation.NewSession("s1", p, nil, conversation.WithHistoryLimit(4))

	for i := range 5 {
		if _, err := s.ChatFunc(context.Background(), fmt.Sprintf("msg %d", i), nil); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}
	h := s.History(context.Background())
	if len(h) != 4 {
		t.Fatalf("history len = %d, want 4", len(h))
	}
	if h[0].Content != "msg 3" || h[2].Content != "msg 4" {
		t.Errorf("history = %+v, want the last two turns", h)
	}
}

func TestChat_LoadsPersistedHistory(t *testing.T) {
	ctx := context.Background()
	store := history.NewMemory()
	_ = store.Save(ctx, "s1", []llm.Message{
		{Role: llm.RoleUser, Content: "earlier"},
		{Role: llm.RoleAssistant, Content: "reply"},
	})
	p := &llmmock.Provider{Events: []llm.Event{llm.TextDelta("ok")}}
	s := conversation.NewSession("s1", p, store)

	if _, err := s.ChatFunc(ctx, "now", nil); err != nil {
		t.Fatalf("ChatFunc: %v", err)
	}
	if got := len(p.Calls()[0].Req.Messages); got != 3 {
		t.Errorf("request messages = %d, want 3", got)
	}
}

func TestChat_StoreFailuresDoNotFailTurn(t *testing.T) {
	p := &llmmock.Provider{Events: []llm.Event{llm.TextDelta("ok")}}
	s := conversation.NewSession("s1", p, failingStore{})

	reply, err := s.ChatFunc(context.Background(), "hello", nil)
	if err != nil || reply != "ok" {
		t.Errorf("reply, err = %q, %v", reply, err)
	}
}

func TestChat_ConcurrentTurnsSerialised(t *testing.T) {
	p := &llmmock.Provider{Events: []llm.Event{llm.TextDelta("ok")}}
	s := conversation.NewSession("s1", p, nil)

	const n = 10
	var wg sync.WaitGroup
	for i := range n {
		wg.Go(func() {
			if _, err := s.ChatFunc(context.Background(), fmt.Sprintf("m%d", i), nil); err != nil {
				t.Errorf("turn %d: %v", i, err)
			}
		})
	}
	wg.Wait()

	h := s.History(context.Background())
	if len(h) != 2*n {
		t.Fatalf("history len = %d, want %d (lost update)", len(h), 2*n)
	}
	for i := 0; i < len(h); i += 2 {
		if h[i].Role != llm.RoleUser || h[i+1].Role != llm.RoleAssistant {
			t.Errorf("turns interleaved at %d: %+v %+v", i, h[i], h[i+1])
		}
	}
}

// ── Reset ────────────────────────────────────────────────────────────────────

func TestReset(t *testing.T) {
	ctx := context.Background()
	store := history.NewMemory()
	p := &llmmock.Provider{Events: []llm.Event{llm.TextDelta("ok")}}
	s := conversation.NewSession("s1", p, store)

	if _, err := s.ChatFunc(ctx, "hello", nil); err != nil {
		t.Fatalf("ChatFunc: %v", err)
	}
	s.Reset(ctx)

	if h := s.History(ctx); len(h) != 0 {
		t.Errorf("history after reset = %+v", h)
	}
	if persisted, _ := store.Load(ctx, "s1"); len(persisted) != 0 {
		t.Errorf("persisted after reset = %+v", persisted)
	}
}

func TestHistory_ReturnsCopy(t *testing.T) {
	p := &llmmock.Provider{Events: []llm.Event{llm.TextDelta("ok")}}
	s := conversation.NewSession("s1", p, nil)
	_, _ = s.ChatFunc(context.Background(), "hello", nil)

	h := s.History(context.Background())
	h[0].Content = "mutated"
	if s.History(context.Background())[0].Content != "hello" {
		t.Error("History exposes internal slice")
	}
}

// Package conversation implements the per-session conversational actor and
// the bounded registry that owns one actor per session id.
//
// A [Session] holds the chat history of one session and runs one LLM turn at
// a time: concurrent [Session.Chat] calls for the same session are
// serialised. Turn output is delivered as an ordered event channel so the
// caller controls backpressure and cancellation.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/spatialvoice/internal/history"
	"github.com/MrWong99/spatialvoice/pkg/provider/llm"
)

// MaxHistory is the default number of messages retained after each turn.
const MaxHistory = 50

// DefaultMaxTokens caps the length of one assistant reply.
const DefaultMaxTokens = 2048

// ErrEmptyText is returned by Chat when text is blank.
var ErrEmptyText = errors.New("conversation: empty text")

// Result is the outcome of one turn.
type Result struct {
	// Text is the full accumulated assistant reply.
	Text string

	// ToolCalls are the validated tool invocations requested by the model,
	// with schema defaults applied.
	ToolCalls []llm.ToolCall

	// Err is non-nil when the turn failed. History is left as it was before
	// the turn.
	Err error
}

// Session is the conversational actor of one session id.
type Session struct {
	id        string
	provider  llm.Provider
	store     history.Store
	model     string
	maxTokens int
	limit     int
	log       *slog.Logger

	// mu serialises turns and history access.
	mu      sync.Mutex
	loaded  bool
	history []llm.Message
}

// SessionOption configures a [Session].
type SessionOption func(*Session)

// WithModel sets the model name sent with each request.
func WithModel(model string) SessionOption {
	return func(s *Session) { s.model = model }
}

// WithMaxTokens overrides [DefaultMaxTokens].
func WithMaxTokens(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// WithHistoryLimit overrides [MaxHistory].
func WithHistoryLimit(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

// NewSession creates a session. store may be nil, in which case history
// lives only in memory.
func NewSession(id string, provider llm.Provider, store history.Store, opts ...SessionOption) *Session {
	s := &Session{
		id:        id,
		provider:  provider,
		store:     store,
		maxTokens: DefaultMaxTokens,
		limit:     MaxHistory,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("session_id", id)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Chat runs one turn for text.
//
// Stream events are forwarded on the returned event channel in arrival order;
// the channel is unbuffered, so a slow reader slows the stream. When the turn
// ends the event channel is closed and exactly one [Result] is sent on the
// result channel, which is then closed. Cancelling ctx aborts the turn.
//
// Turns for the same session are serialised: a second Chat waits until the
// first has delivered its result.
func (s *Session) Chat(ctx context.Context, text string) (<-chan llm.Event, <-chan Result) {
	return s.chat(ctx, text, nil)
}

// chat runs Chat and calls done, if set, once the turn has finished.
func (s *Session) chat(ctx context.Context, text string, done func()) (<-chan llm.Event, <-chan Result) {
	events := make(chan llm.Event)
	results := make(chan Result, 1)

	go func() {
		res := s.turn(ctx, text, events)
		if done != nil {
			done()
		}
		close(events)
		results <- res
		close(results)
	}()

	return events, results
}

// ChatFunc runs one turn and invokes onDelta synchronously for every text
// fragment, in order. It returns the full reply.
func (s *Session) ChatFunc(ctx context.Context, text string, onDelta func(string)) (string, error) {
	events, results := s.Chat(ctx, text)
	for ev := range events {
		if ev.Kind == llm.EventTextDelta && onDelta != nil {
			onDelta(ev.Text)
		}
	}
	res := <-results
	return res.Text, res.Err
}

func (s *Session) turn(ctx context.Context, text string, out chan<- llm.Event) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Err: ErrEmptyText}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureLoaded(ctx)

	prev := len(s.history)
	s.history = append(s.history, llm.Message{Role: llm.RoleUser, Content: text})

	req := llm.Request{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		System:    SystemPrompt,
		Messages:  append([]llm.Message(nil), s.history...),
		Tools:     Tools(),
	}

	var (
		reply strings.Builder
		calls []llm.ToolCall
	)
	events, errs := s.provider.Stream(ctx, req)
	for ev := range events {
		switch ev.Kind {
		case llm.EventTextDelta:
			reply.WriteString(ev.Text)
		case llm.EventToolCall:
			if ev.ToolCall == nil {
				continue
			}
			input, err := NormalizeToolInput(*ev.ToolCall)
			if err != nil {
				s.log.Warn("conversation: dropping invalid tool call", "tool", ev.ToolCall.Name, "err", err)
				continue
			}
			call := *ev.ToolCall
			call.Input = encodeInput(input)
			calls = append(calls, call)
			ev.ToolCall = &call
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			s.history = s.history[:prev]
			drain(events, errs)
			return Result{Err: fmt.Errorf("conversation: deliver event: %w", ctx.Err())}
		}
	}
	if err := <-errs; err != nil {
		s.history = s.history[:prev]
		return Result{Err: fmt.Errorf("conversation: stream: %w", err)}
	}

	s.history = append(s.history, llm.Message{Role: llm.RoleAssistant, Content: reply.String()})
	if len(s.history) > s.limit {
		s.history = append([]llm.Message(nil), s.history[len(s.history)-s.limit:]...)
	}
	s.persist(ctx)

	return Result{Text: reply.String(), ToolCalls: calls}
}

// Reset clears the history and persists the empty state.
func (s *Session) Reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = []llm.Message{}
	s.loaded = true
	s.persist(ctx)
}

// History returns a copy of the current history.
func (s *Session) History(ctx context.Context) []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded(ctx)
	return append([]llm.Message{}, s.history...)
}

// ensureLoaded must be called with mu held.
func (s *Session) ensureLoaded(ctx context.Context) {
	if s.loaded {
		return
	}
	s.loaded = true
	s.history = []llm.Message{}
	if s.store == nil {
		return
	}
	msgs, err := s.store.Load(ctx, s.id)
	if err != nil {
		s.log.Warn("conversation: load history failed, starting empty", "err", err)
		return
	}
	if len(msgs) > s.limit {
		msgs = msgs[len(msgs)-s.limit:]
	}
	s.history = msgs
}

// persist must be called with mu held. Failures are logged only.
func (s *Session) persist(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(context.WithoutCancel(ctx), s.id, s.history); err != nil {
		s.log.Warn("conversation: save history failed", "err", err)
	}
}

// drain consumes a provider stream after the caller stopped reading so the
// provider goroutine can exit.
func drain(events <-chan llm.Event, errs <-chan error) {
	for range events {
	}
	<-errs
}

// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that callers send correct Requests and
// to feed controlled event streams without a live LLM backend.
// All fields are safe to set before calling Stream; mutating them during a
// concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    Events: []llm.Event{llm.TextDelta("Hi"), llm.TextDelta(" there")},
//	}
//	events, errs := p.Stream(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/spatialvoice/pkg/provider/llm"
)

// StreamCall records a single invocation of Stream.
type StreamCall struct {
	// Ctx is the context passed to Stream.
	Ctx context.Context
	// Req is the Request passed to Stream.
	Req llm.Request
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Events is the sequence emitted by Stream, in order.
	Events []llm.Event

	// Err, if non-nil, is delivered on the error channel after all Events.
	Err error

	// StreamFunc, if set, replaces the scripted behaviour entirely.
	StreamFunc func(ctx context.Context, req llm.Request) (<-chan llm.Event, <-chan error)

	// StreamCalls records every invocation of Stream in order.
	StreamCalls []StreamCall
}

// Stream implements llm.Provider. It records the call and replays Events,
// stopping early when ctx is cancelled.
func (p *Provider) Stream(ctx context.Context, req llm.Request) (<-chan llm.Event, <-chan error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	fn := p.StreamFunc
	scripted := append([]llm.Event(nil), p.Events...)
	streamErr := p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}

	events := make(chan llm.Event)
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		defer close(events)
		for _, ev := range scripted {
			select {
			case events <- ev:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if streamErr != nil {
			errs <- streamErr
		}
	}()
	return events, errs
}

// Calls returns a snapshot of recorded Stream invocations.
func (p *Provider) Calls() []StreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]StreamCall(nil), p.StreamCalls...)
}

// Reset clears all recorded calls. Scripted responses are left untouched.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
}

var _ llm.Provider = (*Provider)(nil)

package resilience

import (
	"context"

	"github.com/MrWong99/spatialvoice/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across multiple
// LLM backends. Each backend has its own circuit breaker; when the primary fails
// or its breaker is open, the next healthy fallback is tried.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// opened is a stream whose first item has already been read.
type opened struct {
	first  llm.Event
	events <-chan llm.Event
	errs   <-chan error
}

// Stream opens the stream on the first healthy provider. A provider counts as
// failed when its stream ends with an error before the first event; once an
// event has been received the stream is committed and later errors are
// forwarded to the caller unchanged.
func (f *LLMFallback) Stream(ctx context.Context, req llm.Request) (<-chan llm.Event, <-chan error) {
	out := make(chan llm.Event)
	outErrs := make(chan error, 1)

	go func() {
		defer close(outErrs)
		defer close(out)

		var empty bool
		st, err := ExecuteWithResult(f.group, func(p llm.Provider) (opened, error) {
			events, errs := p.Stream(ctx, req)
			ev, ok := <-events
			if !ok {
				if err := <-errs; err != nil {
					return opened{}, err
				}
				empty = true
				return opened{}, nil
			}
			return opened{first: ev, events: events, errs: errs}, nil
		})
		if err != nil {
			outErrs <- err
			return
		}
		if empty {
			return
		}

		forward := func(ev llm.Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if !forward(st.first) {
			drain(st.events, st.errs)
			outErrs <- ctx.Err()
			return
		}
		for ev := range st.events {
			if !forward(ev) {
				drain(st.events, st.errs)
				outErrs <- ctx.Err()
				return
			}
		}
		if err := <-st.errs; err != nil {
			outErrs <- err
		}
	}()

	return out, outErrs
}

func drain(events <-chan llm.Event, errs <-chan error) {
	for range events {
	}
	<-errs
}

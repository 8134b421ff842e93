// Package llm defines the Provider interface for streaming Large Language
// Model backends.
//
// A provider sends one request per conversational turn and delivers the
// response as an ordered stream of [Event] values on a channel. The caller
// consumes events as they arrive, so cancellation and backpressure are under
// its control: a slow consumer slows the reader, and cancelling ctx aborts
// the exchange.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Provider is the abstraction over any streaming LLM backend.
type Provider interface {
	// Stream sends req and returns an event channel and an error channel.
	//
	// Events are delivered in arrival order. The event channel is closed when
	// the stream ends for any reason; a clean close is the "done" signal. The
	// error channel then yields at most one error and is closed. Callers should
	// range over events and afterwards receive once from errs.
	//
	// A non-success initial response, a transport failure mid-stream, and a
	// read-inactivity timeout are all reported on errs. Neither channel is
	// ever nil.
	Stream(ctx context.Context, req Request) (<-chan Event, <-chan error)
}

// Collect drains a stream and returns the concatenated text deltas. It is a
// convenience for callers that do not need incremental output.
func Collect(events <-chan Event, errs <-chan error) (string, []ToolCall, error) {
	var (
		text  []byte
		calls []ToolCall
	)
	for ev := range events {
		switch ev.Kind {
		case EventTextDelta:
			text = append(text, ev.Text...)
		case EventToolCall:
			if ev.ToolCall != nil {
				calls = append(calls, *ev.ToolCall)
			}
		}
	}
	if err := <-errs; err != nil {
		return string(text), calls, err
	}
	return string(text), calls, nil
}

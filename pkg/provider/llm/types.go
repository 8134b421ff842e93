package llm

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Message roles stored in conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a conversation history. Messages are immutable once
// appended to a history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does.
	Description string

	// InputSchema is the JSON Schema of the tool's input object.
	InputSchema *jsonschema.Schema
}

// Parameters renders InputSchema as a generic JSON object, the shape most
// SDKs accept for function parameters.
func (d ToolDefinition) Parameters() (map[string]any, error) {
	if d.InputSchema == nil {
		return map[string]any{"type": "object"}, nil
	}
	raw, err := json.Marshal(d.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal schema for %q: %w", d.Name, err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("llm: decode schema for %q: %w", d.Name, err)
	}
	return out, nil
}

// Request carries everything one streaming turn needs.
type Request struct {
	// Model overrides the provider's configured model when non-empty.
	Model string

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int

	// System is the system prompt, sent separately from Messages.
	System string

	// Messages is the ordered conversation history, ending with the user turn.
	Messages []Message

	// Tools is the set of tools offered to the model.
	Tools []ToolDefinition
}

// EventKind discriminates [Event] values.
type EventKind int

const (
	// EventTextDelta carries an incremental fragment of the reply text.
	EventTextDelta EventKind = iota + 1

	// EventToolCall carries a fully assembled tool invocation.
	EventToolCall
)

// String returns the wire name of the kind.
func (k EventKind) String() string {
	switch k {
	case EventTextDelta:
		return "text_delta"
	case EventToolCall:
		return "tool_call"
	default:
		return "unknown"
	}
}

// Event is one decoded item of a response stream.
type Event struct {
	Kind EventKind

	// Text is set for EventTextDelta.
	Text string

	// ToolCall is set for EventToolCall.
	ToolCall *ToolCall
}

// ToolCall is a tool invocation requested by the model. Tool calls are
// surfaced to subscribers; they are not executed.
type ToolCall struct {
	// ID is the provider-assigned call identifier.
	ID string `json:"id"`

	// Name is the tool name.
	Name string `json:"name"`

	// Input is the JSON object of arguments. Never nil; "{}" when the model
	// sent no arguments.
	Input json.RawMessage `json:"input"`
}

// TextDelta is a convenience constructor for an EventTextDelta event.
func TextDelta(s string) Event { return Event{Kind: EventTextDelta, Text: s} }

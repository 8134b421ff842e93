// Package anyllm provides a universal LLM provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports Ollama, Gemini, Mistral, Groq, DeepSeek, llama.cpp and more.
//
// Usage:
//
//	p, err := anyllm.New("ollama", "llama3.2")
//	p, err := anyllm.NewGemini("gemini-2.0-flash", anyllmlib.WithAPIKey("..."))
package anyllm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/spatialvoice/pkg/provider/llm"
)

// Supported lists the backend names accepted by [New].
var Supported = []string{"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// Compile-time assertion that Provider implements llm.Provider.
var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a new Provider backed by the given LLM provider name (one of
// [Supported]). opts are any-llm-go configuration options such as
// anyllmlib.WithAPIKey and anyllmlib.WithBaseURL. Without an API key option
// the backend falls back to its environment variable (e.g. GEMINI_API_KEY).
func New(providerName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Provider{backend: backend, model: model}, nil
}

// NewGemini creates a Provider backed by Google Gemini.
func NewGemini(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("gemini", model, opts...)
}

// NewOllama creates a Provider backed by Ollama (local inference).
// Without options, it connects to http://localhost:11434.
func NewOllama(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("ollama", model, opts...)
}

// NewLlamaCpp creates a Provider backed by a running llama.cpp server.
func NewLlamaCpp(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("llamacpp", model, opts...)
}

// createBackend creates the underlying any-llm-go provider for the given provider name.
func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: %s", providerName, strings.Join(Supported, ", "))
	}
}

// Stream implements llm.Provider.
func (p *Provider) Stream(ctx context.Context, req llm.Request) (<-chan llm.Event, <-chan error) {
	events := make(chan llm.Event)
	errs := make(chan error, 1)

	go func() {
		if err := p.stream(ctx, req, events); err != nil {
			errs <- err
		}
		close(events)
		close(errs)
	}()

	return events, errs
}

func (p *Provider) stream(ctx context.Context, req llm.Request, events chan<- llm.Event) error {
	params, err := p.buildParams(req)
	if err != nil {
		return fmt.Errorf("anyllm: build params: %w", err)
	}

	backendChunks, backendErrs := p.backend.CompletionStream(ctx, params)

	send := func(ev llm.Event) error {
		select {
		case events <- ev:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("anyllm: deliver event: %w", ctx.Err())
		}
	}

	// Accumulated tool calls keyed by position.
	var pending []*llm.ToolCall
	var args []strings.Builder
	flush := func() error {
		for i, tc := range pending {
			raw := args[i].String()
			if !json.Valid([]byte(raw)) {
				raw = "{}"
			}
			tc.Input = json.RawMessage(raw)
			if err := send(llm.Event{Kind: llm.EventToolCall, ToolCall: tc}); err != nil {
				return err
			}
		}
		pending, args = nil, nil
		return nil
	}

	for chunk := range backendChunks {
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			if err := send(llm.TextDelta(delta.Content)); err != nil {
				return err
			}
		}

		for i, tc := range delta.ToolCalls {
			for len(pending) <= i {
				pending = append(pending, &llm.ToolCall{})
				args = append(args, strings.Builder{})
			}
			if tc.ID != "" {
				pending[i].ID = tc.ID
			}
			if tc.Function.Name != "" {
				pending[i].Name = tc.Function.Name
			}
			args[i].WriteString(tc.Function.Arguments)
		}

		if choice.FinishReason != "" {
			if err := flush(); err != nil {
				return err
			}
		}
	}

	if err := <-backendErrs; err != nil {
		return fmt.Errorf("anyllm: stream: %w", err)
	}
	return flush()
}

// buildParams converts an llm.Request into anyllm CompletionParams.
func (p *Provider) buildParams(req llm.Request) (anyllmlib.CompletionParams, error) {
	var messages []anyllmlib.Message

	if req.System != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.System,
		})
	}

	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m))
	}

	model := p.model
	if req.Model != "" {
		model = req.Model
	}
	params := anyllmlib.CompletionParams{
		Model:    model,
		Messages: messages,
	}

	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}

	for _, td := range req.Tools {
		schema, err := td.Parameters()
		if err != nil {
			return anyllmlib.CompletionParams{}, err
		}
		params.Tools = append(params.Tools, anyllmlib.Tool{
			Type: "function",
			Function: anyllmlib.Function{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  schema,
			},
		})
	}

	return params, nil
}

// convertMessage converts an llm.Message to anyllm.Message.
func convertMessage(m llm.Message) anyllmlib.Message {
	return anyllmlib.Message{
		Role:    m.Role,
		Content: m.Content,
	}
}

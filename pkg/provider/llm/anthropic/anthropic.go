// Package anthropic provides a streaming LLM provider for the Anthropic
// Messages API.
//
// The provider speaks the wire protocol directly: one POST to /v1/messages
// with stream enabled, answered by a Server-Sent-Events body. Only "data: "
// lines are decoded; blank lines, "event:" lines and payloads that are not
// valid JSON are skipped without aborting the stream, and the literal payload
// "[DONE]" ends it.
//
// Usage:
//
//	p, err := anthropic.New(apiKey, "claude-sonnet-4-20250514")
//	events, errs := p.Stream(ctx, req)
//	for ev := range events { ... }
//	if err := <-errs; err != nil { ... }
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/tidwall/gjson"

	"github.com/MrWong99/spatialvoice/pkg/provider/llm"
)

const (
	// DefaultBaseURL is the public Anthropic API root.
	DefaultBaseURL = "https://api.anthropic.com"

	// APIVersion is sent as the anthropic-version header.
	APIVersion = "2023-06-01"

	// DefaultMaxTokens caps each reply unless the request overrides it.
	DefaultMaxTokens = 2048

	// DefaultReadTimeout is the longest the stream may stay silent.
	DefaultReadTimeout = 60 * time.Second

	maxLineSize  = 1 << 20
	maxErrorBody = 64 << 10
)

// ErrIdleTimeout is the cause reported when no bytes arrive for longer than
// the read timeout.
var ErrIdleTimeout = errors.New("anthropic: stream idle timeout")

// StatusError is returned when the API answers the initial request with a
// status other than 200.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("anthropic: unexpected status %d: %s", e.Code, e.Body)
}

// StreamError is an "error" event sent by the API mid-stream.
type StreamError struct {
	Type    string
	Message string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("anthropic: stream error %s: %s", e.Type, e.Message)
}

// Compile-time assertion that Provider implements llm.Provider.
var _ llm.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API root (scheme and host, no trailing path).
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithMaxTokens sets the default max_tokens. Defaults to 2048.
func WithMaxTokens(n int) Option {
	return func(p *Provider) {
		p.maxTokens = n
	}
}

// WithReadTimeout sets the stream inactivity timeout. Defaults to 60 s.
func WithReadTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.readTimeout = d
	}
}

// WithHTTPClient replaces the HTTP client. The client should not set an
// overall Timeout; streams are bounded by the read timeout instead.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithLogger sets the logger used for dropped tool calls.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		p.log = l
	}
}

// Provider implements llm.Provider against the Anthropic Messages API.
type Provider struct {
	apiKey      string
	model       string
	baseURL     string
	maxTokens   int
	readTimeout time.Duration
	httpClient  *http.Client
	log         *slog.Logger
}

// New creates a Provider. apiKey and model must be non-empty.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("anthropic: model must not be empty")
	}
	p := &Provider{
		apiKey:      apiKey,
		model:       model,
		baseURL:     DefaultBaseURL,
		maxTokens:   DefaultMaxTokens,
		readTimeout: DefaultReadTimeout,
		httpClient:  &http.Client{},
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ── wire types ───────────────────────────────────────────────────────────────

type wireRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system"`
	Messages  []llm.Message `json:"messages"`
	Tools     []wireTool    `json:"tools"`
	Stream    bool          `json:"stream"`
}

type wireTool struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"input_schema"`
}

func (p *Provider) buildBody(req llm.Request) ([]byte, error) {
	body := wireRequest{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		System:    req.System,
		Messages:  req.Messages,
		Tools:     make([]wireTool, 0, len(req.Tools)),
		Stream:    true,
	}
	if req.Model != "" {
		body.Model = req.Model
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}
	if body.Messages == nil {
		body.Messages = []llm.Message{}
	}
	for _, t := range req.Tools {
		schema := t.InputSchema
		if schema == nil {
			schema = &jsonschema.Schema{Type: "object"}
		}
		body.Tools = append(body.Tools, wireTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return json.Marshal(body)
}

// ── streaming ────────────────────────────────────────────────────────────────

// Stream implements llm.Provider. The event channel is unbuffered: the next
// SSE line is not read until the previous event has been received.
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
	payload, err := p.buildBody(req)
	if err != nil {
		return fmt.Errorf("anthropic: encode request: %w", err)
	}

	reqCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	idle := time.AfterFunc(p.readTimeout, func() { cancel(ErrIdleTimeout) })
	defer idle.Stop()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", APIVersion)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return readErr(ctx, reqCtx, "http request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	emit := func(ev llm.Event) error {
		// Time spent waiting on the consumer is not inactivity.
		idle.Stop()
		select {
		case events <- ev:
		case <-ctx.Done():
			return fmt.Errorf("anthropic: deliver event: %w", ctx.Err())
		}
		idle.Reset(p.readTimeout)
		return nil
	}

	tools := make(map[int64]*toolBuilder)

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	for sc.Scan() {
		idle.Reset(p.readTimeout)

		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			return nil
		}
		if !gjson.Valid(data) {
			continue
		}

		ev := gjson.Parse(data)
		switch ev.Get("type").String() {
		case "content_block_start":
			block := ev.Get("content_block")
			if block.Get("type").String() == "tool_use" {
				tools[ev.Get("index").Int()] = &toolBuilder{
					id:   block.Get("id").String(),
					name: block.Get("name").String(),
				}
			}

		case "content_block_delta":
			delta := ev.Get("delta")
			switch delta.Get("type").String() {
			case "text_delta":
				if err := emit(llm.TextDelta(delta.Get("text").String())); err != nil {
					return err
				}
			case "input_json_delta":
				if tb := tools[ev.Get("index").Int()]; tb != nil {
					tb.input.WriteString(delta.Get("partial_json").String())
				}
			}

		case "content_block_stop":
			idx := ev.Get("index").Int()
			tb := tools[idx]
			if tb == nil {
				continue
			}
			delete(tools, idx)
			call, err := tb.build()
			if err != nil {
				p.log.Warn("anthropic: dropping malformed tool call", "tool", tb.name, "err", err)
				continue
			}
			if err := emit(llm.Event{Kind: llm.EventToolCall, ToolCall: call}); err != nil {
				return err
			}

		case "error":
			return &StreamError{
				Type:    ev.Get("error.type").String(),
				Message: ev.Get("error.message").String(),
			}
		}
	}
	if err := sc.Err(); err != nil {
		return readErr(ctx, reqCtx, "read stream", err)
	}
	return nil
}

// readErr attributes a transport error to caller cancellation or to the idle
// timer when either caused it.
func readErr(ctx, reqCtx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("anthropic: %s: %w", op, ctx.Err())
	}
	if errors.Is(context.Cause(reqCtx), ErrIdleTimeout) {
		return fmt.Errorf("anthropic: %s: %w", op, ErrIdleTimeout)
	}
	return fmt.Errorf("anthropic: %s: %w", op, err)
}

// toolBuilder accumulates one tool_use content block.
type toolBuilder struct {
	id    string
	name  string
	input strings.Builder
}

func (b *toolBuilder) build() (*llm.ToolCall, error) {
	raw := strings.TrimSpace(b.input.String())
	if raw == "" {
		raw = "{}"
	}
	if !gjson.Valid(raw) || !gjson.Parse(raw).IsObject() {
		return nil, fmt.Errorf("input is not a JSON object: %q", raw)
	}
	return &llm.ToolCall{ID: b.id, Name: b.name, Input: json.RawMessage(raw)}, nil
}

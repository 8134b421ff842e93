// Package pipeline wires audio chunks, transcription, command detection and
// chat turns together.
//
// Inbound work is handed to the job runner and returns immediately with a
// job id. Results reach clients only through hub events on the session topic:
//
//	flush → [noise gate] → transcribe → "transcription" → command? → chat
//	text  → chat → "assistant_delta"… / "tool_call"… → "assistant_done"
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/spatialvoice/internal/conversation"
	"github.com/MrWong99/spatialvoice/internal/hub"
	"github.com/MrWong99/spatialvoice/internal/jobs"
	"github.com/MrWong99/spatialvoice/internal/observe"
	"github.com/MrWong99/spatialvoice/pkg/audio"
	"github.com/MrWong99/spatialvoice/pkg/command"
	"github.com/MrWong99/spatialvoice/pkg/provider/llm"
	"github.com/MrWong99/spatialvoice/pkg/provider/stt"
)

// Job kinds.
const (
	KindTranscribe = "transcribe"
	KindChat       = "chat"
)

// Errors returned for invalid submissions.
var (
	ErrEmptyText  = errors.New("pipeline: empty text")
	ErrEmptyAudio = errors.New("pipeline: empty audio")
	ErrNoSession  = errors.New("pipeline: missing session id")
)

// Suppression selects where noise suppression happens.
type Suppression string

// Suppression modes. Only [SuppressionServer] and [SuppressionBoth] enable the
// server-side gate.
const (
	SuppressionOff    Suppression = "off"
	SuppressionClient Suppression = "client"
	SuppressionServer Suppression = "server"
	SuppressionBoth   Suppression = "both"
)

// ServerSide reports whether the server gates audio before transcription.
func (s Suppression) ServerSide() bool {
	return s == SuppressionServer || s == SuppressionBoth
}

// Valid reports whether s is one of the known modes.
func (s Suppression) Valid() bool {
	switch s {
	case SuppressionOff, SuppressionClient, SuppressionServer, SuppressionBoth:
		return true
	}
	return false
}

// Deps are the collaborators of a [Pipeline]. All fields are required except
// Metrics.
type Deps struct {
	STT      stt.Provider
	Registry *conversation.Registry
	Hub      *hub.Hub
	Jobs     *jobs.Runner
	Parser   *command.Parser
	Metrics  *observe.Metrics
}

// Pipeline orchestrates one process's sessions.
type Pipeline struct {
	stt      stt.Provider
	registry *conversation.Registry
	hub      *hub.Hub
	jobs     *jobs.Runner
	parser   *command.Parser
	metrics  *observe.Metrics

	gate        *audio.NoiseGate
	suppression atomic.Value // Suppression
	sampleRate  int
	sttName     string
	llmName     string
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithSuppression sets the noise suppression mode. Default: client.
func WithSuppression(s Suppression) Option {
	return func(p *Pipeline) { p.suppression.Store(s) }
}

// WithSampleRate sets the PCM sample rate of inbound audio. Default: 16000.
func WithSampleRate(hz int) Option {
	return func(p *Pipeline) {
		if hz > 0 {
			p.sampleRate = hz
		}
	}
}

// WithProviderNames labels provider metrics.
func WithProviderNames(sttName, llmName string) Option {
	return func(p *Pipeline) {
		p.sttName = sttName
		p.llmName = llmName
	}
}

// New creates a Pipeline.
func New(deps Deps, opts ...Option) (*Pipeline, error) {
	var errs []error
	if deps.STT == nil {
		errs = append(errs, errors.New("STT provider is required"))
	}
	if deps.Registry == nil {
		errs = append(errs, errors.New("session registry is required"))
	}
	if deps.Hub == nil {
		errs = append(errs, errors.New("hub is required"))
	}
	if deps.Jobs == nil {
		errs = append(errs, errors.New("job runner is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	p := &Pipeline{
		stt:        deps.STT,
		registry:   deps.Registry,
		hub:        deps.Hub,
		jobs:       deps.Jobs,
		parser:     deps.Parser,
		metrics:    deps.Metrics,
		gate:       audio.NewNoiseGate(),
		sampleRate: audio.DefaultSampleRate,
		sttName:    "stt",
		llmName:    "llm",
	}
	p.suppression.Store(SuppressionClient)
	if p.parser == nil {
		p.parser = command.NewParser()
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// NoiseSuppression returns the current noise suppression mode.
func (p *Pipeline) NoiseSuppression() Suppression {
	return p.suppression.Load().(Suppression)
}

// SetNoiseSuppression switches the noise suppression mode for chunks flushed
// from now on. Unknown modes are ignored.
func (p *Pipeline) SetNoiseSuppression(s Suppression) {
	if s.Valid() {
		p.suppression.Store(s)
	}
}

// HandleFlush queues transcription of one flushed chunk of PCM16LE mono audio
// and returns the job id. source labels the chunk in metrics ("ws", "http").
func (p *Pipeline) HandleFlush(sessionID string, pcm []byte, source string) (string, error) {
	if sessionID == "" {
		return "", ErrNoSession
	}
	if len(pcm) == 0 {
		return "", ErrEmptyAudio
	}
	if p.NoiseSuppression().ServerSide() {
		pcm = p.gate.Process(pcm, p.sampleRate)
	}
	if p.metrics != nil {
		p.metrics.AudioChunks.Add(context.Background(), 1, metric.WithAttributes(attribute.String("source", source)))
	}
	id, err := p.jobs.Submit(KindTranscribe, func(ctx context.Context) error {
		return p.transcribe(ctx, sessionID, pcm)
	})
	if err != nil {
		return "", fmt.Errorf("pipeline: submit transcription: %w", err)
	}
	return id, nil
}

// SubmitText queues a chat turn for sessionID and returns the job id.
func (p *Pipeline) SubmitText(sessionID, text string) (string, error) {
	if sessionID == "" {
		return "", ErrNoSession
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	id, err := p.jobs.Submit(KindChat, func(ctx context.Context) error {
		return p.chat(ctx, sessionID, text)
	})
	if err != nil {
		return "", fmt.Errorf("pipeline: submit chat: %w", err)
	}
	return id, nil
}

// Reset clears the conversation history of sessionID.
func (p *Pipeline) Reset(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrNoSession
	}
	p.registry.Reset(ctx, sessionID)
	return nil
}

// transcribe never fails the job: provider errors are logged and the chunk is
// treated as silence.
func (p *Pipeline) transcribe(ctx context.Context, sessionID string, pcm []byte) (err error) {
	ctx, span := observe.StartSessionSpan(ctx, "pipeline.transcribe", sessionID, attribute.Int("bytes", len(pcm)))
	defer func() { observe.EndSpan(span, err) }()
	log := observe.Logger(ctx)

	start := time.Now()
	text, err := p.stt.Transcribe(ctx, pcm, stt.FormatPCM, p.sampleRate)
	p.recordProvider(ctx, p.sttName, "stt", err)
	if p.metrics != nil {
		p.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		log.Warn("pipeline: transcription failed, treating as empty", "err", err)
		span.RecordError(err)
		return nil
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	p.hub.Publish(sessionID, hub.Event{Type: hub.TypeTranscription, Text: text})

	parsed, ok := p.parser.Parse(text)
	if !ok {
		return nil
	}
	log.Info("pipeline: command detected", "command", parsed.Command, "args", parsed.Args)
	if p.metrics != nil {
		p.metrics.RecordCommand(ctx, parsed.Command)
	}
	if _, err := p.SubmitText(sessionID, text); err != nil {
		log.Warn("pipeline: could not queue chat turn", "err", err)
	}
	return nil
}

func (p *Pipeline) chat(ctx context.Context, sessionID, text string) (err error) {
	attempt, _ := jobs.Attempt(ctx)
	ctx, span := observe.StartSessionSpan(ctx, "pipeline.chat", sessionID, attribute.Int("attempt", attempt))
	defer func() { observe.EndSpan(span, err) }()
	log := observe.Logger(ctx)

	start := time.Now()
	events, results := p.registry.Chat(ctx, sessionID, text)
	for ev := range events {
		switch ev.Kind {
		case llm.EventTextDelta:
			p.hub.Publish(sessionID, hub.Event{Type: hub.TypeAssistantDelta, Text: ev.Text})
		case llm.EventToolCall:
			p.hub.Publish(sessionID, hub.Event{Type: hub.TypeToolCall, Tool: ev.ToolCall.Name, Input: ev.ToolCall.Input})
			if p.metrics != nil {
				p.metrics.RecordToolCall(ctx, ev.ToolCall.Name, "ok")
			}
		}
	}
	res := <-results
	p.recordProvider(ctx, p.llmName, "llm", res.Err)

	if res.Err != nil {
		if errors.Is(res.Err, conversation.ErrEmptyText) {
			return jobs.Permanent(res.Err)
		}
		if jobs.FinalAttempt(ctx) {
			p.hub.Publish(sessionID, hub.Event{Type: hub.TypeError, Error: res.Err.Error()})
		}
		return res.Err
	}

	if p.metrics != nil {
		p.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	}
	p.hub.Publish(sessionID, hub.Event{Type: hub.TypeAssistantDone})
	log.Debug("pipeline: turn complete", "chars", len(res.Text), "tool_calls", len(res.ToolCalls))
	return nil
}

func (p *Pipeline) recordProvider(ctx context.Context, name, kind string, err error) {
	if p.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		p.metrics.RecordProviderError(ctx, name, kind)
	}
	p.metrics.RecordProviderRequest(ctx, name, kind, status)
}

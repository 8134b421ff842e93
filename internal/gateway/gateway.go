// Package gateway exposes the pipeline to clients over WebSocket and a small
// JSON REST surface.
//
// Routes:
//
//	GET  /ws/audio?session_id=          microphone audio in, chunked into transcriptions
//	GET  /ws/transcription?session_id=  {text} commands in, session events out
//	POST /api/command                   {text, session_id}  → queue a chat turn
//	POST /api/transcription             {audio, session_id} → queue a transcription
//	POST /api/reset                     {session_id}        → clear history
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/spatialvoice/internal/hub"
	"github.com/MrWong99/spatialvoice/internal/ingest"
	"github.com/MrWong99/spatialvoice/internal/observe"
)

// Defaults.
const (
	DefaultReadLimit    = 1 << 20
	DefaultBodyLimit    = 16 << 20
	DefaultWriteTimeout = 10 * time.Second
)

// Pipeline is the work surface the gateway drives.
type Pipeline interface {
	HandleFlush(sessionID string, pcm []byte, source string) (string, error)
	SubmitText(sessionID, text string) (string, error)
	Reset(ctx context.Context, sessionID string) error
}

// Server serves the client-facing routes. Create with [New] and mount with
// [Server.Register].
type Server struct {
	pipeline Pipeline
	hub      *hub.Hub
	metrics  *observe.Metrics
	log      *slog.Logger

	chunkBytes   int
	readLimit    int64
	bodyLimit    int64
	writeTimeout time.Duration
	origins      atomic.Pointer[[]string]

	mu    sync.Mutex
	conns map[string]int // open connections per session

	// handlers counts running WebSocket handlers. http.Server.Shutdown does
	// not wait for hijacked connections.
	handlers sync.WaitGroup
}

// Option configures a [Server].
type Option func(*Server)

// WithChunkBytes sets the audio flush threshold in bytes.
// Default: 3 s of 16 kHz PCM16 (96000).
func WithChunkBytes(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.chunkBytes = n
		}
	}
}

// WithAllowedOrigins sets the origin patterns accepted on WebSocket upgrades.
func WithAllowedOrigins(patterns []string) Option {
	return func(s *Server) { s.SetAllowedOrigins(patterns) }
}

// WithReadLimit caps the size of one inbound WebSocket message.
func WithReadLimit(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.readLimit = n
		}
	}
}

// WithBodyLimit caps REST request bodies.
func WithBodyLimit(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.bodyLimit = n
		}
	}
}

// WithMetrics records audio bytes and connection gauges on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New creates a Server.
func New(p Pipeline, h *hub.Hub, opts ...Option) *Server {
	s := &Server{
		pipeline:     p,
		hub:          h,
		log:          slog.Default(),
		chunkBytes:   ingest.Threshold(3, 16000, 2),
		readLimit:    DefaultReadLimit,
		bodyLimit:    DefaultBodyLimit,
		writeTimeout: DefaultWriteTimeout,
		conns:        make(map[string]int),
	}
	s.SetAllowedOrigins(nil)
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetAllowedOrigins replaces the origin patterns for new upgrades.
func (s *Server) SetAllowedOrigins(patterns []string) {
	cp := append([]string(nil), patterns...)
	s.origins.Store(&cp)
}

// Register adds the gateway routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/audio", s.handleAudio)
	mux.HandleFunc("GET /ws/transcription", s.handleTranscription)
	mux.HandleFunc("POST /api/command", s.handleCommand)
	mux.HandleFunc("POST /api/transcription", s.handleSubmitAudio)
	mux.HandleFunc("POST /api/reset", s.handleReset)
}

// track counts a connection open (delta 1) or closed (delta -1) on the
// connection and session gauges.
func (s *Server) track(ctx context.Context, sessionID, channel string, delta int) {
	s.mu.Lock()
	before := s.conns[sessionID]
	after := before + delta
	if after <= 0 {
		delete(s.conns, sessionID)
	} else {
		s.conns[sessionID] = after
	}
	s.mu.Unlock()

	if s.metrics == nil {
		return
	}
	s.metrics.ActiveConnections.Add(ctx, int64(delta), metric.WithAttributes(attribute.String("channel", channel)))
	switch {
	case before == 0 && after > 0:
		s.metrics.ActiveSessions.Add(ctx, 1)
	case before > 0 && after <= 0:
		s.metrics.ActiveSessions.Add(ctx, -1)
	}
}

// Wait blocks until every WebSocket handler has returned, including the
// residual audio flush of closing connections, or ctx ends. Call it after
// http.Server.Shutdown so no new handlers start.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("gateway: wait for connections: %w", ctx.Err())
	}
}

// Connections returns the number of open WebSocket connections of sessionID.
func (s *Server) Connections(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[sessionID]
}

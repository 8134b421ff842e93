package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/spatialvoice/internal/hub"
	"github.com/MrWong99/spatialvoice/internal/ingest"
)

// handleAudio accumulates PCM frames of one connection and queues a
// transcription whenever a chunk is full. The residual is flushed when the
// connection ends.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id required")
		return
	}
	s.handlers.Add(1)
	defer s.handlers.Done()

	conn, err := s.accept(w, r)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	log := s.log.With("session_id", sessionID, "channel", "audio")
	s.track(ctx, sessionID, "audio", 1)
	defer s.track(context.WithoutCancel(ctx), sessionID, "audio", -1)
	log.Debug("gateway: audio connected")

	buf := ingest.NewBuffer(s.chunkBytes)
	defer func() {
		if rest := buf.Drain(); rest != nil {
			s.flush(sessionID, rest, "ws")
		}
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			logClose(log, err)
			return
		}
		pcm, ok := ingest.DecodeFrame(typ == websocket.MessageBinary, data)
		if !ok {
			continue
		}
		if s.metrics != nil {
			s.metrics.AudioBytes.Add(ctx, int64(len(pcm)), metric.WithAttributes(attribute.String("source", "ws")))
		}
		if chunk := buf.Append(pcm); chunk != nil {
			s.flush(sessionID, chunk, "ws")
		}
	}
}

func (s *Server) flush(sessionID string, pcm []byte, source string) {
	id, err := s.pipeline.HandleFlush(sessionID, pcm, source)
	if err != nil {
		s.log.Warn("gateway: could not queue transcription", "session_id", sessionID, "bytes", len(pcm), "err", err)
		return
	}
	s.log.Debug("gateway: transcription queued", "session_id", sessionID, "bytes", len(pcm), "job_id", id)
}

// handleTranscription streams the session's events to the client and
// forwards {text} messages as chat turns. Messages without a non-blank text
// string are ignored.
func (s *Server) handleTranscription(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id required")
		return
	}
	s.handlers.Add(1)
	defer s.handlers.Done()

	conn, err := s.accept(w, r)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := s.log.With("session_id", sessionID, "channel", "transcription")
	s.track(ctx, sessionID, "transcription", 1)
	defer s.track(context.WithoutCancel(ctx), sessionID, "transcription", -1)

	sub := s.hub.Subscribe(sessionID)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		s.forward(ctx, conn, sub)
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			logClose(log, err)
			break
		}
		if typ != websocket.MessageText {
			continue
		}
		text := gjson.GetBytes(data, "text")
		if text.Type != gjson.String || strings.TrimSpace(text.Str) == "" {
			continue
		}
		if _, err := s.pipeline.SubmitText(sessionID, text.Str); err != nil {
			log.Warn("gateway: could not queue chat turn", "err", err)
		}
	}
	cancel()
	<-done
	conn.Close(websocket.StatusNormalClosure, "")
}

// forward writes hub events to conn until ctx ends, the subscription closes
// or a write fails.
func (s *Server) forward(ctx context.Context, conn *websocket.Conn, sub *hub.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				s.log.Debug("gateway: event write failed", "type", ev.Type, "err", err)
				return
			}
		}
	}
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: *s.origins.Load(),
	})
	if err != nil {
		s.log.Warn("gateway: websocket upgrade failed", "path", r.URL.Path, "err", err)
		return nil, err
	}
	conn.SetReadLimit(s.readLimit)
	return conn, nil
}

func logClose(log *slog.Logger, err error) {
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
		log.Debug("gateway: connection closed", "status", status)
		return
	}
	log.Debug("gateway: connection ended", "err", err)
}

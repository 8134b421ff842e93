package gateway

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/spatialvoice/internal/jobs"
)

type commandRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

type audioRequest struct {
	Audio     string `json:"audio"`
	SessionID string `json:"session_id"`
}

type queuedResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	JobID     string `json:"job_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleCommand queues a chat turn. A missing session_id gets a fresh one,
// returned in the response so the client can subscribe to it.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusUnprocessableEntity, "text required")
		return
	}
	sessionID := sessionOrNew(req.SessionID)

	jobID, err := s.pipeline.SubmitText(sessionID, req.Text)
	if err != nil {
		s.submitFailed(w, sessionID, err)
		return
	}
	writeJSON(w, http.StatusAccepted, queuedResponse{Status: "queued", SessionID: sessionID, JobID: jobID})
}

// handleSubmitAudio queues a transcription of base64 PCM16LE mono audio.
func (s *Server) handleSubmitAudio(w http.ResponseWriter, r *http.Request) {
	var req audioRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Audio == "" {
		writeError(w, http.StatusUnprocessableEntity, "audio required")
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil || len(pcm) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "audio must be non-empty base64")
		return
	}
	sessionID := sessionOrNew(req.SessionID)
	if s.metrics != nil {
		s.metrics.AudioBytes.Add(r.Context(), int64(len(pcm)), metric.WithAttributes(attribute.String("source", "http")))
	}

	jobID, err := s.pipeline.HandleFlush(sessionID, pcm, "http")
	if err != nil {
		s.submitFailed(w, sessionID, err)
		return
	}
	writeJSON(w, http.StatusAccepted, queuedResponse{Status: "queued", SessionID: sessionID, JobID: jobID})
}

// handleReset clears a session's conversation history.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusUnprocessableEntity, "session_id required")
		return
	}
	if err := s.pipeline.Reset(r.Context(), req.SessionID); err != nil {
		s.log.Error("gateway: reset failed", "session_id", req.SessionID, "err", err)
		writeError(w, http.StatusInternalServerError, "reset failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "session_id": req.SessionID})
}

// decode reads a JSON body into v. On failure it writes a 400 and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, s.bodyLimit)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) submitFailed(w http.ResponseWriter, sessionID string, err error) {
	if errors.Is(err, jobs.ErrClosed) {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	s.log.Error("gateway: could not queue job", "session_id", sessionID, "err", err)
	writeError(w, http.StatusInternalServerError, "could not queue job")
}

func sessionOrNew(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

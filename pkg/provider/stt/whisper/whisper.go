// Package whisper provides an STT provider for a self-hosted Whisper ASR
// server such as whisper-asr-webservice or a whisper.cpp HTTP front end.
//
// Each call uploads one WAV file as multipart/form-data under the form field
// "audio_file" and reads the "text" field of the JSON response. Servers that
// answer with plain text, or with JSON lacking a "text" field, have their raw
// response body returned instead.
//
// Usage:
//
//	p, err := whisper.New("http://localhost:9000/asr")
//	text, err := p.Transcribe(ctx, pcm, stt.FormatPCM, 16000)
package whisper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/MrWong99/spatialvoice/pkg/provider/stt"
)

// DefaultEndpoint is the ASR URL used when none is configured.
const DefaultEndpoint = "http://localhost:9000/asr"

const (
	formField   = "audio_file"
	formFile    = "audio.wav"
	contentType = "audio/wav"

	// maxErrorBody caps how much of a failed response is logged.
	maxErrorBody = 4 << 10
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithHTTPClient replaces the default HTTP client (30 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithLogger sets the logger used for non-success responses.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		p.log = l
	}
}

// Provider implements stt.Provider against a local Whisper ASR server.
type Provider struct {
	endpoint   string
	httpClient *http.Client
	log        *slog.Logger
}

// New creates a Provider that posts audio to endpoint. An empty endpoint
// selects [DefaultEndpoint].
func New(endpoint string, opts ...Option) (*Provider, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, errors.New("whisper: endpoint must be an http(s) URL")
	}
	p := &Provider{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe uploads audio as a WAV file and returns the recognised text.
// Non-200 responses are logged and reported as empty text.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, format stt.Format, sampleRate int) (string, error) {
	wav := stt.WAV(audio, format, sampleRate)

	body, ctype, err := multipartBody(wav)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", ctype)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		p.log.Error("whisper: transcription failed",
			"status", resp.StatusCode,
			"body", string(errBody),
		)
		return "", nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisper: read response body: %w", err)
	}

	if text := gjson.GetBytes(data, "text"); text.Exists() {
		return text.String(), nil
	}
	return string(data), nil
}

// multipartBody builds the form with the WAV file under [formField].
func multipartBody(wav []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, formField, formFile))
	h.Set("Content-Type", contentType)
	fw, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, "", fmt.Errorf("whisper: write wav data: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

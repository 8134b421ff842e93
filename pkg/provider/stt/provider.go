// Package stt defines the Provider interface for batch Speech-to-Text backends.
//
// A provider receives one flushed audio chunk at a time and returns the text
// recognised in it. Backends differ only in transport: a hosted Whisper API, a
// self-hosted ASR server, or Deepgram's pre-recorded REST endpoint. The active
// backend is chosen once at startup from configuration.
//
// Empty text is a valid result and means "nothing to report". Backends log and
// return empty text for non-success HTTP responses; only transport-level
// failures are returned as errors.
//
// Implementations must be safe for concurrent use. Several flushes from the
// same session may be transcribed at the same time.
package stt

import (
	"context"

	"github.com/MrWong99/spatialvoice/pkg/audio"
)

// Format describes the encoding of the audio passed to Transcribe.
type Format int

const (
	// FormatPCM is raw signed 16-bit little-endian mono PCM.
	FormatPCM Format = iota

	// FormatWAV is a complete RIFF/WAVE file.
	FormatWAV
)

// String returns the lower-case name of the format.
func (f Format) String() string {
	switch f {
	case FormatPCM:
		return "pcm"
	case FormatWAV:
		return "wav"
	default:
		return "unknown"
	}
}

// Provider is the abstraction over any batch STT backend.
type Provider interface {
	// Transcribe returns the text spoken in audio. sampleRate is only consulted
	// for FormatPCM input, which is wrapped in a WAV container before upload.
	Transcribe(ctx context.Context, audio []byte, format Format, sampleRate int) (string, error)
}

// WAV returns data as a WAV file. PCM input is wrapped with a mono 16-bit
// header at sampleRate; WAV input is returned unchanged.
func WAV(data []byte, format Format, sampleRate int) []byte {
	if format == FormatWAV {
		return data
	}
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	return audio.EncodeMonoWAV(data, sampleRate)
}

// Package ingest accumulates streamed microphone audio per connection and
// cuts it into fixed-size chunks for transcription.
package ingest

import (
	"encoding/base64"

	"github.com/tidwall/gjson"
)

// Threshold returns the flush size in bytes for chunks of chunkSeconds of
// audio at sampleRate with bytesPerSample bytes per sample.
func Threshold(chunkSeconds, sampleRate, bytesPerSample int) int {
	return chunkSeconds * sampleRate * bytesPerSample
}

// Buffer is an append-only byte accumulator for one audio connection.
//
// Append is called sequentially by the connection's read loop, so Buffer has
// no internal locking. Never share a Buffer between connections.
type Buffer struct {
	threshold int
	buf       []byte
}

// NewBuffer returns a Buffer that flushes once threshold bytes have
// accumulated. A non-positive threshold flushes on every non-empty append.
func NewBuffer(threshold int) *Buffer {
	if threshold < 1 {
		threshold = 1
	}
	return &Buffer{
		threshold: threshold,
		buf:       make([]byte, 0, threshold),
	}
}

// Append adds p to the buffer. When the accumulated size reaches the
// threshold, the whole buffer is returned and the Buffer is reset to empty;
// otherwise Append returns nil.
func (b *Buffer) Append(p []byte) []byte {
	b.buf = append(b.buf, p...)
	if len(b.buf) < b.threshold {
		return nil
	}
	out := b.buf
	b.buf = make([]byte, 0, b.threshold)
	return out
}

// Drain returns any residual bytes regardless of the threshold and resets
// the buffer. It returns nil when the buffer is empty. Call it on teardown so
// a short final chunk is not dropped.
func (b *Buffer) Drain() []byte {
	if len(b.buf) == 0 {
		return nil
	}
	out := b.buf
	b.buf = make([]byte, 0, b.threshold)
	return out
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int { return len(b.buf) }

// Threshold returns the flush size in bytes.
func (b *Buffer) Threshold() int { return b.threshold }

// DecodeFrame extracts PCM from one inbound message. Binary frames are raw
// PCM. Text frames must be a JSON object whose "audio" field is a non-empty
// base64 string. Anything else yields ok == false and is to be ignored.
func DecodeFrame(binary bool, payload []byte) (pcm []byte, ok bool) {
	if binary {
		return payload, len(payload) > 0
	}
	if !gjson.ValidBytes(payload) {
		return nil, false
	}
	field := gjson.GetBytes(payload, "audio")
	if field.Type != gjson.String || field.Str == "" {
		return nil, false
	}
	pcm, err := base64.StdEncoding.DecodeString(field.Str)
	if err != nil {
		return nil, false
	}
	return pcm, true
}

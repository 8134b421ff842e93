// Package audio holds the PCM helpers shared by the ingest path and the
// transcription providers: the RIFF/WAVE container used to hand raw PCM to
// speech backends, and a hysteresis noise gate for 16-bit mono audio.
//
// All functions operate on signed 16-bit little-endian PCM unless stated
// otherwise and are safe for concurrent use.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WAVHeaderSize is the length of the canonical PCM WAV header written by
// [EncodeWAV].
const WAVHeaderSize = 44

// Defaults for the microphone stream sent by clients.
const (
	DefaultSampleRate    = 16000
	DefaultChannels      = 1
	DefaultBitsPerSample = 16
)

var (
	// ErrNotWAV is returned by [ParseWAV] when the input does not start with a
	// RIFF/WAVE preamble.
	ErrNotWAV = errors.New("audio: not a RIFF/WAVE stream")

	// ErrNoDataChunk is returned by [ParseWAV] when no "data" chunk is found.
	ErrNoDataChunk = errors.New("audio: wav has no data chunk")
)

// Header describes the format fields of a PCM WAV file.
type Header struct {
	Format        uint16
	Channels      int
	SampleRate    int
	ByteRate      int
	BlockAlign    int
	BitsPerSample int

	// DataSize is the size declared by the data chunk header.
	DataSize int
}

// EncodeWAV wraps raw PCM in a minimal 44-byte RIFF/WAVE container. The
// header layout is fixed; speech backends reject anything else:
//
//	"RIFF" size+36 "WAVE" "fmt " 16 1 channels rate byteRate blockAlign bits "data" size
func EncodeWAV(pcm []byte, channels, sampleRate, bitsPerSample int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, WAVHeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(dataSize+36))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bitsPerSample))

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[WAVHeaderSize:], pcm)

	return buf
}

// EncodeMonoWAV is EncodeWAV for the default mono 16-bit stream at sampleRate.
func EncodeMonoWAV(pcm []byte, sampleRate int) []byte {
	return EncodeWAV(pcm, DefaultChannels, sampleRate, DefaultBitsPerSample)
}

// ParseWAV walks the RIFF chunk list of data and returns the format header
// and the payload of the first "data" chunk. Unknown chunks (LIST, fact, ...)
// are skipped. A data chunk whose declared size runs past the end of the
// input is truncated to what is available.
func ParseWAV(data []byte) (Header, []byte, error) {
	var h Header
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return h, nil, ErrNotWAV
	}

	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return h, nil, fmt.Errorf("audio: wav fmt chunk too short (%d bytes)", size)
			}
			f := data[body:]
			h.Format = binary.LittleEndian.Uint16(f[0:2])
			h.Channels = int(binary.LittleEndian.Uint16(f[2:4]))
			h.SampleRate = int(binary.LittleEndian.Uint32(f[4:8]))
			h.ByteRate = int(binary.LittleEndian.Uint32(f[8:12]))
			h.BlockAlign = int(binary.LittleEndian.Uint16(f[12:14]))
			h.BitsPerSample = int(binary.LittleEndian.Uint16(f[14:16]))
		case "data":
			h.DataSize = size
			end := min(body+size, len(data))
			return h, data[body:end], nil
		}

		// Chunks are word aligned.
		offset = body + size + size%2
	}
	return h, nil, ErrNoDataChunk
}

package ingest_test

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/MrWong99/spatialvoice/internal/ingest"
)

func TestThreshold(t *testing.T) {
	if got := ingest.Threshold(3, 16000, 2); got != 96000 {
		t.Errorf("Threshold(3, 16000, 2) = %d, want 96000", got)
	}
}

func TestBuffer_NoFlushBelowThreshold(t *testing.T) {
	b := ingest.NewBuffer(96000)
	for range 5 {
		if out := b.Append(make([]byte, 16000)); out != nil {
			t.Fatalf("unexpected flush of %d bytes at Len=%d", len(out), b.Len())
		}
	}
	if b.Len() != 80000 {
		t.Errorf("Len = %d, want 80000", b.Len())
	}
}

func TestBuffer_TwoHalvesFlushOnce(t *testing.T) {
	b := ingest.NewBuffer(ingest.Threshold(3, 16000, 2))

	first := bytes.Repeat([]byte{0x01}, 48000)
	second := bytes.Repeat([]byte{0x02}, 48000)

	if out := b.Append(first); out != nil {
		t.Fatal("flush after first 48000 bytes")
	}
	out := b.Append(second)
	if len(out) != 96000 {
		t.Fatalf("flush length = %d, want 96000", len(out))
	}
	if !bytes.Equal(out[:48000], first) || !bytes.Equal(out[48000:], second) {
		t.Error("flushed bytes are not the concatenation of both appends")
	}
	if b.Len() != 0 {
		t.Errorf("Len after flush = %d, want 0", b.Len())
	}
}

func TestBuffer_OversizedAppendFlushesWhole(t *testing.T) {
	b := ingest.NewBuffer(100)
	b.Append(make([]byte, 10))
	out := b.Append(make([]byte, 250))
	if len(out) != 260 {
		t.Errorf("flush length = %d, want 260", len(out))
	}
	if b.Len() >= b.Threshold() {
		t.Error("buffer should be below threshold right after a flush")
	}
}

func TestBuffer_OneFlushPerCrossing(t *testing.T) {
	b := ingest.NewBuffer(1000)
	flushes := 0
	total := 0
	for range 100 {
		if out := b.Append(make([]byte, 70)); out != nil {
			flushes++
			total += len(out)
		}
	}
	// 7000 bytes in 70-byte frames: each flush carries 1050 bytes (15 frames).
	if flushes != 6 {
		t.Errorf("flushes = %d, want 6", flushes)
	}
	if total+b.Len() != 7000 {
		t.Errorf("bytes lost: flushed %d + residual %d != 7000", total, b.Len())
	}
}

func TestBuffer_DrainResidual(t *testing.T) {
	b := ingest.NewBuffer(96000)
	residual := bytes.Repeat([]byte{0xAB}, 16000)
	b.Append(residual)

	got := b.Drain()
	if !bytes.Equal(got, residual) {
		t.Errorf("Drain returned %d bytes, want the 16000-byte residual unchanged", len(got))
	}
	if b.Drain() != nil {
		t.Error("second Drain should return nil")
	}
}

func TestBuffer_FlushedSliceNotReused(t *testing.T) {
	b := ingest.NewBuffer(4)
	out := b.Append([]byte{1, 2, 3, 4})
	b.Append([]byte{9, 9})
	if !bytes.Equal(out, []byte{1, 2, 3, 4}) {
		t.Errorf("flushed chunk was overwritten: %v", out)
	}
}

func TestDecodeFrame(t *testing.T) {
	pcm := []byte{0x10, 0x00, 0xf0, 0xff}
	b64 := base64.StdEncoding.EncodeToString(pcm)

	tests := []struct {
		name   string
		binary bool
		data   string
		want   []byte
		wantOK bool
	}{
		{name: "binary frame", binary: true, data: string(pcm), want: pcm, wantOK: true},
		{name: "empty binary frame", binary: true, data: "", wantOK: false},
		{name: "json envelope", data: `{"audio":"` + b64 + `"}`, want: pcm, wantOK: true},
		{name: "envelope with extra fields", data: `{"action":"receive","audio":"` + b64 + `"}`, want: pcm, wantOK: true},
		{name: "missing audio", data: `{"text":"hello"}`, wantOK: false},
		{name: "empty audio", data: `{"audio":""}`, wantOK: false},
		{name: "audio not a string", data: `{"audio":123}`, wantOK: false},
		{name: "invalid base64", data: `{"audio":"%%%"}`, wantOK: false},
		{name: "not json", data: `hello`, wantOK: false},
		{name: "json array", data: `["audio"]`, wantOK: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ingest.DecodeFrame(tc.binary, []byte(tc.data))
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && !bytes.Equal(got, tc.want) {
				t.Errorf("pcm = %v, want %v", got, tc.want)
			}
		})
	}
}

package audio_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/spatialvoice/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestStereoToMono(t *testing.T) {
	stereo := samplesToBytes([]int16{100, 300, -200, -400, 32767, 32767})
	got := bytesToSamples(audio.StereoToMono(stereo))
	want := []int16{200, -300, 32767}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestStereoToMono_PartialFrame(t *testing.T) {
	stereo := append(samplesToBytes([]int16{10, 20}), 1, 2, 3)
	if got := audio.StereoToMono(stereo); len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
}

func TestResampleMono16(t *testing.T) {
	tests := []struct {
		name        string
		in          []int16
		src, dst    int
		wantSamples int
	}{
		{"same rate", []int16{1, 2, 3, 4}, 16000, 16000, 4},
		{"downsample 48k to 16k", make([]int16, 480), 48000, 16000, 160},
		{"upsample 8k to 16k", make([]int16, 80), 8000, 16000, 160},
		{"zero src rate", []int16{1, 2}, 0, 16000, 2},
		{"zero dst rate", []int16{1, 2}, 16000, 0, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := audio.ResampleMono16(samplesToBytes(tt.in), tt.src, tt.dst)
			if n := len(got) / 2; n != tt.wantSamples {
				t.Errorf("samples = %d, want %d", n, tt.wantSamples)
			}
		})
	}
}

func TestResampleMono16_Interpolates(t *testing.T) {
	got := bytesToSamples(audio.ResampleMono16(samplesToBytes([]int16{0, 100}), 8000, 16000))
	want := []int16{0, 50, 100, 100}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestToMono16(t *testing.T) {
	stereo48k := samplesToBytes(make([]int16, 2*4800)) // 0.1 s
	h := audio.Header{Format: 1, Channels: 2, SampleRate: 48000, BitsPerSample: 16}

	got, err := audio.ToMono16(h, stereo48k, 16000)
	if err != nil {
		t.Fatalf("ToMono16: %v", err)
	}
	if len(got) != 1600*2 {
		t.Errorf("len = %d, want %d", len(got), 1600*2)
	}
}

func TestToMono16_Unsupported(t *testing.T) {
	tests := []struct {
		name string
		h    audio.Header
	}{
		{"8 bit", audio.Header{Format: 1, Channels: 1, SampleRate: 16000, BitsPerSample: 8}},
		{"float", audio.Header{Format: 3, Channels: 1, SampleRate: 16000, BitsPerSample: 16}},
		{"surround", audio.Header{Format: 1, Channels: 6, SampleRate: 16000, BitsPerSample: 16}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := audio.ToMono16(tt.h, []byte{0, 0}, 16000)
			if !errors.Is(err, audio.ErrUnsupportedFormat) {
				t.Errorf("err = %v, want ErrUnsupportedFormat", err)
			}
		})
	}
}

package audio

import (
	"errors"
	"fmt"
)

// ErrUnsupportedFormat is returned by [ToMono16] for input that is not 16-bit
// integer PCM with one or two channels.
var ErrUnsupportedFormat = errors.New("audio: unsupported pcm format")

// ToMono16 converts the PCM payload of a parsed WAV file to 16-bit mono at
// dstRate, the shape the ingest endpoints expect. Stereo is downmixed first,
// then the result is resampled.
func ToMono16(h Header, pcm []byte, dstRate int) ([]byte, error) {
	if h.BitsPerSample != 16 || (h.Format != 1 && h.Format != 0xFFFE) {
		return nil, fmt.Errorf("%w: format %d, %d bits", ErrUnsupportedFormat, h.Format, h.BitsPerSample)
	}
	switch h.Channels {
	case 1:
	case 2:
		pcm = StereoToMono(pcm)
	default:
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, h.Channels)
	}
	return ResampleMono16(pcm, h.SampleRate, dstRate), nil
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// A trailing partial frame is dropped.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + r) / 2
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. If either rate is not positive or they are equal, the input
// is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)
	sample := func(i int) int16 { return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8 }

	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := sample(idx)
		s1 := s0
		if idx+1 < srcSamples {
			s1 = sample(idx + 1)
		}
		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

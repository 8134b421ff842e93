package audio

import (
	"encoding/binary"
	"math"
)

// Noise gate parameters. Sample counts assume 16 kHz mono input.
const (
	// GateThresholdDB is the open threshold relative to full scale.
	GateThresholdDB = -40.0

	// GateAttackSamples is the length of an attack ramp (10 ms). It is not
	// applied by [NoiseGate.Process]; the gate opens instantly.
	GateAttackSamples = 160

	// GateReleaseSamples is the hang-over window (50 ms) during which the gate
	// keeps its state after the signal drops below the threshold.
	GateReleaseSamples = 800
)

// fullScale is the magnitude of the most negative int16 sample.
const fullScale = 32768.0

// NoiseGate is a binary mute/pass gate with a release hang-over. It is not an
// envelope follower: samples are either passed through unchanged or replaced
// by zero.
//
// The zero value is not usable; construct with [NewNoiseGate]. A NoiseGate
// holds no per-stream state between calls and is safe for concurrent use.
type NoiseGate struct {
	threshold float64
	release   int
}

// NewNoiseGate returns a gate using [GateThresholdDB] and [GateReleaseSamples].
func NewNoiseGate() *NoiseGate {
	return &NoiseGate{
		threshold: DBToLinear(GateThresholdDB),
		release:   GateReleaseSamples,
	}
}

// DBToLinear converts a dBFS value to a linear amplitude ratio.
func DBToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// Process gates pcm (signed 16-bit little-endian mono) and returns a new slice
// of identical length. sampleRate is accepted for interface stability; the
// window lengths are fixed in samples. Gate state starts closed on every call.
// A trailing odd byte is copied through unchanged.
func (g *NoiseGate) Process(pcm []byte, sampleRate int) []byte {
	_ = sampleRate
	out := make([]byte, len(pcm))
	if len(pcm) == 0 {
		return out
	}

	var (
		open    bool
		release int
	)
	n := len(pcm) / 2
	for i := range n {
		raw := binary.LittleEndian.Uint16(pcm[i*2:])
		sample := int16(raw)

		amplitude := math.Abs(float64(sample)) / fullScale
		switch {
		case amplitude > g.threshold:
			open = true
			release = g.release
		case release > 0:
			release--
		default:
			open = false
		}

		if open {
			binary.LittleEndian.PutUint16(out[i*2:], raw)
		}
	}
	if len(pcm)%2 == 1 {
		out[len(pcm)-1] = pcm[len(pcm)-1]
	}
	return out
}

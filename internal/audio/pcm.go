// Package audio holds the sample-level plumbing shared by the transports and
// the dialog engine: PCM conversion, framing, band energy, resampling and
// the telephony codecs.
package audio

import (
	"encoding/binary"
	"time"
)

// Rates used across the service.
const (
	AnalysisRate  = 16000 // segmenter and STT input
	TelephonyRate = 8000  // Twilio media streams
	OpusRate      = 48000
)

// FrameDuration is the analysis and playback block length.
const FrameDuration = 20 * time.Millisecond

// SamplesFor returns the number of samples covering d at rate.
func SamplesFor(rate int, d time.Duration) int {
	return int(int64(rate) * int64(d) / int64(time.Second))
}

// DurationOf returns the playing time of n samples at rate.
func DurationOf(rate, n int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// DecodePCM16 converts little-endian PCM16 bytes to samples. A trailing odd
// byte is ignored; callers that stream should use a PCMDecoder.
func DecodePCM16(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

// EncodePCM16 converts samples to little-endian PCM16 bytes.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// PCMDecoder turns an arbitrarily chunked PCM16LE byte stream into samples,
// carrying a dangling odd byte into the next chunk.
type PCMDecoder struct {
	carry    byte
	hasCarry bool
}

// Decode returns the complete samples available after appending b.
func (d *PCMDecoder) Decode(b []byte) []int16 {
	if len(b) == 0 {
		return nil
	}
	if d.hasCarry {
		joined := make([]byte, 0, len(b)+1)
		joined = append(joined, d.carry)
		joined = append(joined, b...)
		b = joined
		d.hasCarry = false
	}
	if len(b)%2 == 1 {
		d.carry = b[len(b)-1]
		d.hasCarry = true
		b = b[:len(b)-1]
	}
	return DecodePCM16(b)
}

// Reset drops any carried byte.
func (d *PCMDecoder) Reset() { d.hasCarry = false }

func clamp16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

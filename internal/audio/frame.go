package audio

import "time"

// Frame is one fixed-size analysis block of mono PCM.
type Frame struct {
	Seq    uint64
	Offset time.Duration // stream time of the first sample
	PCM    []int16
	Energy float64 // speech-band level on the 0..255 analyser scale
}

// End returns the stream time just past the last sample of the frame.
func (f Frame) End(rate int) time.Duration {
	return f.Offset + DurationOf(rate, len(f.PCM))
}

// Framer splits a continuous sample stream into fixed-size frames with
// monotonic sequence numbers and stream offsets.
type Framer struct {
	rate     int
	size     int
	seq      uint64
	consumed int64
	pending  []int16
}

// NewFramer returns a framer emitting frames of length d at rate.
func NewFramer(rate int, d time.Duration) *Framer {
	size := SamplesFor(rate, d)
	if size <= 0 {
		size = 1
	}
	return &Framer{rate: rate, size: size, pending: make([]int16, 0, size*4)}
}

// Rate is the sample rate the framer was built for.
func (f *Framer) Rate() int { return f.rate }

// Size is the number of samples per frame.
func (f *Framer) Size() int { return f.size }

// Push appends samples and returns every complete frame.
func (f *Framer) Push(samples []int16) []Frame {
	f.pending = append(f.pending, samples...)
	if len(f.pending) < f.size {
		return nil
	}
	frames := make([]Frame, 0, len(f.pending)/f.size)
	for len(f.pending) >= f.size {
		pcm := make([]int16, f.size)
		copy(pcm, f.pending[:f.size])
		frames = append(frames, Frame{
			Seq:    f.seq,
			Offset: DurationOf(f.rate, int(f.consumed)),
			PCM:    pcm,
		})
		f.seq++
		f.consumed += int64(f.size)
		n := copy(f.pending, f.pending[f.size:])
		f.pending = f.pending[:n]
	}
	return frames
}

// Now returns the stream time of the next sample to be framed.
func (f *Framer) Now() time.Duration {
	return DurationOf(f.rate, int(f.consumed)+len(f.pending))
}

package audio

import "math"

// Resampler converts a mono PCM stream between sample rates with linear
// interpolation. It carries its read position and the last input sample
// across calls, so chunk boundaries do not click.
type Resampler struct {
	from, to int
	step     float64
	pos      float64
	last     int16
	primed   bool
}

// NewResampler returns a resampler from one rate to another.
func NewResampler(from, to int) *Resampler {
	r := &Resampler{from: from, to: to}
	if from > 0 && to > 0 {
		r.step = float64(from) / float64(to)
	}
	return r
}

// From returns the input rate.
func (r *Resampler) From() int { return r.from }

// To returns the output rate.
func (r *Resampler) To() int { return r.to }

// Process resamples the next chunk of the stream.
func (r *Resampler) Process(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}
	if r.from == r.to || r.step == 0 {
		out := make([]int16, len(in))
		copy(out, in)
		return out
	}
	if !r.primed {
		r.last = in[0]
		r.primed = true
	}

	n := len(in)
	at := func(i int) float64 {
		if i < 0 {
			return float64(r.last)
		}
		return float64(in[i])
	}
	out := make([]int16, 0, int(float64(n)/r.step)+2)
	for r.pos <= float64(n-1) {
		i := int(math.Floor(r.pos))
		frac := r.pos - float64(i)
		v := at(i)
		if frac > 0 {
			v += (at(i+1) - v) * frac
		}
		out = append(out, clamp16(math.Round(v)))
		r.pos += r.step
	}
	// re-base so the last input sample becomes index -1 of the next chunk
	r.pos -= float64(n)
	r.last = in[n-1]
	return out
}

// Reset forgets stream state.
func (r *Resampler) Reset() {
	r.pos = 0
	r.last = 0
	r.primed = false
}

package audio

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// AnalyzerConfig mirrors the knobs of a browser AnalyserNode so thresholds
// tuned against a byte frequency spectrum carry over unchanged.
type AnalyzerConfig struct {
	SampleRate int
	FFTSize    int
	LowHz      float64
	HighHz     float64
	MinDB      float64
	MaxDB      float64
	Smoothing  float64 // 0..1, weight of the previous spectrum
}

// DefaultAnalyzerConfig covers the 300-3000 Hz speech band.
func DefaultAnalyzerConfig(rate int) AnalyzerConfig {
	return AnalyzerConfig{
		SampleRate: rate,
		FFTSize:    512,
		LowHz:      300,
		HighHz:     3000,
		MinDB:      -100,
		MaxDB:      -30,
		Smoothing:  0.3,
	}
}

// BandAnalyzer computes the average speech-band level of successive frames.
// It keeps the last FFTSize samples and a smoothed magnitude spectrum, so it
// is stateful and must be used from one goroutine.
type BandAnalyzer struct {
	cfg      AnalyzerConfig
	fft      *fourier.FFT
	window   []float64
	history  []float64
	scratch  []float64
	smoothed []float64
	lo, hi   int
}

// NewBandAnalyzer builds an analyzer. FFTSize is rounded up to a power of two.
func NewBandAnalyzer(cfg AnalyzerConfig) *BandAnalyzer {
	n := 1
	for n < cfg.FFTSize {
		n <<= 1
	}
	cfg.FFTSize = n
	if cfg.MaxDB <= cfg.MinDB {
		cfg.MaxDB = cfg.MinDB + 1
	}

	binHz := float64(cfg.SampleRate) / float64(n)
	lo := int(math.Ceil(cfg.LowHz / binHz))
	hi := int(math.Floor(cfg.HighHz / binHz))
	if hi > n/2 {
		hi = n / 2
	}
	if lo < 0 {
		lo = 0
	}
	if hi < lo {
		hi = lo
	}

	return &BandAnalyzer{
		cfg:      cfg,
		fft:      fourier.NewFFT(n),
		window:   blackman(n),
		history:  make([]float64, n),
		scratch:  make([]float64, n),
		smoothed: make([]float64, n/2+1),
		lo:       lo,
		hi:       hi,
	}
}

// Analyze sets f.Energy and returns it.
func (a *BandAnalyzer) Analyze(f *Frame) float64 {
	f.Energy = a.Level(f.PCM)
	return f.Energy
}

// Level feeds pcm and returns the average band level on the 0..255 scale.
func (a *BandAnalyzer) Level(pcm []int16) float64 {
	n := a.cfg.FFTSize
	if len(pcm) >= n {
		for i := 0; i < n; i++ {
			a.history[i] = float64(pcm[len(pcm)-n+i]) / 32768
		}
	} else {
		copy(a.history, a.history[len(pcm):])
		base := n - len(pcm)
		for i, s := range pcm {
			a.history[base+i] = float64(s) / 32768
		}
	}
	for i := range a.scratch {
		a.scratch[i] = a.history[i] * a.window[i]
	}

	coeffs := a.fft.Coefficients(nil, a.scratch)
	tau := a.cfg.Smoothing
	for k := range a.smoothed {
		mag := cmplxAbs(coeffs[k]) / float64(n)
		a.smoothed[k] = tau*a.smoothed[k] + (1-tau)*mag
	}
	span := a.cfg.MaxDB - a.cfg.MinDB
	var sum float64
	for k := a.lo; k <= a.hi; k++ {
		sum += toByte(a.smoothed[k], a.cfg.MinDB, span)
	}
	return sum / float64(a.hi-a.lo+1)
}

// Reset clears sample history and smoothing state.
func (a *BandAnalyzer) Reset() {
	for i := range a.history {
		a.history[i] = 0
	}
	for i := range a.smoothed {
		a.smoothed[i] = 0
	}
}

func toByte(mag, minDB, span float64) float64 {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	v := math.Floor(255 * (db - minDB) / span)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

func cmplxAbs(c complex128) float64 { return math.Hypot(real(c), imag(c)) }

func blackman(n int) []float64 {
	const alpha = 0.16
	a0 := 0.5 * (1 - alpha)
	a1 := 0.5
	a2 := 0.5 * alpha
	w := make([]float64, n)
	for i := range w {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}

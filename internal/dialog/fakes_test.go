package dialog

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chadiek/covercall/internal/audio"
	"github.com/chadiek/covercall/internal/emergency"
	"github.com/chadiek/covercall/internal/llm"
	"github.com/chadiek/covercall/internal/persona"
	"github.com/chadiek/covercall/internal/transcript"
)

var errUnavailable = errors.New("service unavailable")

type result struct {
	text string
	err  error
}

// fakeTranscriber replays results in order, repeating the last one.
type fakeTranscriber struct {
	mu          sync.Mutex
	results     []result
	calls       int
	inflight    int
	maxInflight int
	gate        chan struct{}
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, req transcript.Request) (string, error) {
	f.mu.Lock()
	f.calls++
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	r := result{text: "one large pepperoni"}
	if len(f.results) > 0 {
		r = f.results[0]
		if len(f.results) > 1 {
			f.results = f.results[1:]
		}
	}
	gate := f.gate
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return r.text, r.err
}

func (f *fakeTranscriber) stats() (calls, maxInflight int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.maxInflight
}

type fakeGenerator struct {
	mu      sync.Mutex
	results []result
	calls   int
	last    []llm.Message
}

func (f *fakeGenerator) Complete(ctx context.Context, msgs []llm.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = msgs
	r := result{text: `{"say":"Sure, what's the address?","data":{"name":"Jane"}}`}
	if len(f.results) > 0 {
		r = f.results[0]
		if len(f.results) > 1 {
			f.results = f.results[1:]
		}
	}
	return r.text, r.err
}

func (f *fakeGenerator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeSynth returns 40 ms of audio per request at 16 kHz.
type fakeSynth struct {
	mu    sync.Mutex
	fails int
	calls int
	texts []string
}

func (f *fakeSynth) SampleRate() int { return audio.AnalysisRate }

func (f *fakeSynth) Stream(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	f.mu.Lock()
	f.calls++
	f.texts = append(f.texts, text)
	fail := f.fails > 0
	if fail {
		f.fails--
	}
	f.mu.Unlock()

	pcmCh := make(chan []byte, 2)
	errCh := make(chan error, 1)
	if fail {
		close(pcmCh)
		errCh <- errUnavailable
		close(errCh)
		return pcmCh, errCh
	}
	pcmCh <- make([]byte, 640)
	pcmCh <- make([]byte, 640)
	close(pcmCh)
	close(errCh)
	return pcmCh, errCh
}

func (f *fakeSynth) spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeSpeaker struct {
	stages []State
	begins int
	bytes  int
}

func (f *fakeSpeaker) stage(s State)    { f.stages = append(f.stages, s) }
func (f *fakeSpeaker) begin(int)        { f.begins++ }
func (f *fakeSpeaker) chunk(pcm []byte) { f.bytes += len(pcm) }

type fakeOutput struct {
	mu     sync.Mutex
	blocks int
	err    error
}

func (o *fakeOutput) WriteBlock([]int16) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.blocks++
	return o.err
}

func (o *fakeOutput) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.blocks
}

type captureForwarder struct {
	mu   sync.Mutex
	recs []emergency.Record
}

func (c *captureForwarder) Forward(_ string, rec emergency.Record) {
	c.mu.Lock()
	c.recs = append(c.recs, rec)
	c.mu.Unlock()
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func testPersona() persona.Persona {
	return persona.Persona{
		Name:        "Test Pizza",
		Language:    "en",
		Greeting:    "Test Pizza, what can I get you?",
		NoInput:     "Still there? What would you like?",
		Fallbacks:   []string{"Sorry, one moment.", "Our system is slow today."},
		Instruction: "You take pizza orders.",
	}
}

func newTestOrchestrator(svc Services, fwd emergency.Forwarder) *Orchestrator {
	cfg := DefaultConfig()
	hist := &History{}
	return &Orchestrator{
		svc:       svc,
		persona:   testPersona(),
		language:  cfg.Language,
		threshold: cfg.ErrorThreshold,
		timeouts:  cfg.Timeouts,
		hist:      hist,
		agg:       emergency.NewAggregator("s", emergency.WithForwarder(fwd), emergency.WithLogger(quietLogger())),
		log:       quietLogger(),
		now:       time.Now,
	}
}

// voiced is a harmonic signal well above the default speech threshold.
func voiced(d time.Duration) []int16 {
	n := audio.SamplesFor(audio.AnalysisRate, d)
	out := make([]int16, n)
	for i := range out {
		var v float64
		for h := 1; h <= 14; h++ {
			v += math.Sin(2 * math.Pi * 200 * float64(h) * float64(i) / float64(audio.AnalysisRate))
		}
		out[i] = int16(v * 1500)
	}
	return out
}

func silence(d time.Duration) []int16 {
	return make([]int16, audio.SamplesFor(audio.AnalysisRate, d))
}

// feed sends pcm in 20 ms frames.
func feed(s *Session, pcm []int16) error {
	step := audio.SamplesFor(audio.AnalysisRate, audio.FrameDuration)
	for off := 0; off < len(pcm); off += step {
		if err := s.Feed(pcm[off:min(off+step, len(pcm))]); err != nil {
			return err
		}
	}
	return nil
}

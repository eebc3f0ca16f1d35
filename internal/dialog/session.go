package dialog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chadiek/covercall/internal/audio"
	"github.com/chadiek/covercall/internal/emergency"
	"github.com/chadiek/covercall/internal/metrics"
	"github.com/chadiek/covercall/internal/persona"
	"github.com/chadiek/covercall/internal/playback"
	"github.com/chadiek/covercall/internal/vad"
)

// Config holds the per-session tunables.
type Config struct {
	Language       string     `mapstructure:"language"`
	Segmenter      vad.Params `mapstructure:"segmenter"`
	MinAudioBytes  int        `mapstructure:"min_audio_bytes"`
	ErrorThreshold int        `mapstructure:"error_threshold"`
	NoInputWindows int        `mapstructure:"no_input_windows"`
	Timeouts       Timeouts   `mapstructure:"timeouts"`
	QueueSize      int        `mapstructure:"queue_size"`
}

func DefaultConfig() Config {
	return Config{
		Language:       "en",
		Segmenter:      vad.DefaultParams(),
		MinAudioBytes:  2500,
		ErrorThreshold: 3,
		NoInputWindows: 2,
		Timeouts: Timeouts{
			Transcribe: 15 * time.Second,
			Generate:   20 * time.Second,
			Synthesize: 12 * time.Second,
		},
		QueueSize: 256,
	}
}

// Validate checks the tunables.
func (c Config) Validate() error {
	if err := c.Segmenter.Validate(); err != nil {
		return err
	}
	if c.ErrorThreshold < 1 {
		return fmt.Errorf("dialog: error_threshold must be at least 1")
	}
	if c.Timeouts.Transcribe <= 0 || c.Timeouts.Generate <= 0 || c.Timeouts.Synthesize <= 0 {
		return fmt.Errorf("dialog: timeouts must be positive")
	}
	return nil
}

// Deps are the collaborators shared by sessions.
type Deps struct {
	Persona   persona.Persona
	Forwarder emergency.Forwarder
	Cache     *ClipCache
	Log       logrus.FieldLogger
	Metrics   *metrics.Metrics
	// OnState observes every state change, from the session goroutine.
	OnState func(State)
	// OnFailed is called once when a fatal error ends the session.
	OnFailed func(error)
}

type eventKind int

const (
	evAudio eventKind = iota
	evStage
	evBegin
	evChunk
	evDone
	evDrained
	evAmbient
	evFatal
	evClose
)

type event struct {
	kind    eventKind
	gen     uint64
	pcm     []int16
	data    []byte
	state   State
	rate    int
	outcome Outcome
	signal  emergency.Signal
	err     error
}

// View is a read-only snapshot of a session.
type View struct {
	ID        string           `json:"id"`
	State     State            `json:"state"`
	StartedAt time.Time        `json:"started_at"`
	History   []Turn           `json:"history"`
	Record    emergency.Record `json:"record"`
	Error     string           `json:"error,omitempty"`
}

// Session is one call. Every input becomes an event on a single queue that
// Run consumes, so the coordinator state is owned by one goroutine.
type Session struct {
	id       string
	cfg      Config
	persona  persona.Persona
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
	onState  func(State)
	onFailed func(error)

	framer   *audio.Framer
	analyzer *audio.BandAnalyzer
	seg      *vad.Segmenter
	player   *playback.Buffer
	orch     *Orchestrator
	hist     *History
	agg      *emergency.Aggregator

	events    chan event
	done      chan struct{}
	startedAt time.Time
	playGen   atomic.Uint64

	// owned by the Run goroutine
	state         State
	gen           uint64
	cancelRound   context.CancelFunc
	silentWindows int

	mu      sync.RWMutex
	view    State
	failure error
}

// New builds a session writing its replies to out at outRate. Caller audio
// is expected at audio.AnalysisRate.
func New(id string, cfg Config, svc Services, out playback.Output, outRate int, deps Deps) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := deps.Persona.Validate(); err != nil {
		return nil, err
	}
	seg, err := vad.New(cfg.Segmenter, audio.AnalysisRate)
	if err != nil {
		return nil, err
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	log := deps.Log.WithField("session_id", id)

	s := &Session{
		id:        id,
		cfg:       cfg,
		persona:   deps.Persona,
		log:       log,
		metrics:   deps.Metrics,
		onState:   deps.OnState,
		onFailed:  deps.OnFailed,
		framer:    audio.NewFramer(audio.AnalysisRate, audio.FrameDuration),
		analyzer:  audio.NewBandAnalyzer(audio.DefaultAnalyzerConfig(audio.AnalysisRate)),
		seg:       seg,
		hist:      &History{},
		events:    make(chan event, cfg.QueueSize),
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	s.agg = emergency.NewAggregator(id,
		emergency.WithForwarder(deps.Forwarder),
		emergency.WithLogger(log.WithField("component", "aggregator")),
	)
	s.player = playback.New(out, outRate,
		playback.WithOnDrained(func() {
			s.post(context.Background(), event{kind: evDrained, gen: s.playGen.Load()})
		}),
		playback.WithOnError(func(err error) {
			s.post(context.Background(), event{kind: evFatal, err: fmt.Errorf("playback: %w", err)})
		}),
		playback.WithLogger(log.WithField("component", "playback")),
	)
	s.orch = &Orchestrator{
		svc:       svc,
		persona:   deps.Persona,
		language:  cfg.Language,
		threshold: cfg.ErrorThreshold,
		timeouts:  cfg.Timeouts,
		hist:      s.hist,
		agg:       s.agg,
		cache:     deps.Cache,
		log:       log.WithField("component", "orchestrator"),
		metrics:   deps.Metrics,
		now:       time.Now,
	}
	return s, nil
}

func (s *Session) ID() string { return s.id }

// Done is closed when Run returns.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the last published state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}

// Err returns the fatal error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failure
}

// Record returns the current emergency record.
func (s *Session) Record() emergency.Record { return s.agg.Snapshot() }

// History returns the conversation so far.
func (s *Session) History() []Turn { return s.hist.Turns() }

func (s *Session) Snapshot() View {
	v := View{
		ID:        s.id,
		State:     s.State(),
		StartedAt: s.startedAt,
		History:   s.hist.Turns(),
		Record:    s.agg.Snapshot(),
	}
	if err := s.Err(); err != nil {
		v.Error = err.Error()
	}
	return v
}

// Feed queues caller audio at audio.AnalysisRate. Capture is continuous;
// the coordinator decides what is listened to.
func (s *Session) Feed(pcm []int16) error {
	if !s.post(context.Background(), event{kind: evAudio, pcm: pcm}) {
		return ErrSessionClosed
	}
	return nil
}

// NoteAmbient attaches an ambient classifier signal to the record.
func (s *Session) NoteAmbient(sig emergency.Signal) error {
	sig, err := sig.Normalize()
	if err != nil {
		return err
	}
	if !s.post(context.Background(), event{kind: evAmbient, signal: sig}) {
		return ErrSessionClosed
	}
	return nil
}

// Fail ends the session with a fatal transport or device error.
func (s *Session) Fail(err error) {
	s.post(context.Background(), event{kind: evFatal, err: err})
}

// Close ends the session.
func (s *Session) Close() {
	s.post(context.Background(), event{kind: evClose})
}

func (s *Session) post(ctx context.Context, ev event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Run greets the caller and processes events until the session is closed,
// fails, or ctx ends. It returns the fatal error, if any.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.player.Run(ctx)

	s.metrics.SessionStarted()
	s.log.Info("session started")
	s.greet(ctx)

	for {
		select {
		case <-ctx.Done():
			s.shutdown(Closed, nil)
			return nil
		case ev := <-s.events:
			if ev.kind == evFatal {
				s.shutdown(Failed, ev.err)
				return ev.err
			}
			if ev.kind == evClose {
				s.shutdown(Closed, nil)
				return nil
			}
			s.handle(ctx, ev)
		}
	}
}

func (s *Session) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evAudio:
		s.metrics.Audio("in", len(ev.pcm)*2)
		for _, f := range s.framer.Push(ev.pcm) {
			s.analyzer.Analyze(&f)
			if s.state != Listening {
				continue
			}
			for _, se := range s.seg.Process(f) {
				s.onSegment(ctx, se)
			}
		}
	case evStage:
		if ev.gen == s.gen && s.state.InFlight() {
			s.setState(ev.state)
		}
	case evBegin:
		if ev.gen != s.gen || s.cancelRound == nil {
			return
		}
		s.playGen.Store(ev.gen)
		s.player.Begin(ev.rate)
		s.setState(Speaking)
	case evChunk:
		if ev.gen == s.gen && s.state == Speaking {
			s.metrics.Audio("out", len(ev.data))
			s.player.Feed(ev.data)
		}
	case evDone:
		if ev.gen != s.gen {
			return
		}
		s.endRound()
		s.log.WithField("outcome", ev.outcome.String()).Debug("round finished")
		if s.state == Speaking {
			s.player.Finish()
			return
		}
		s.listen()
	case evDrained:
		if ev.gen == s.gen && s.state == Speaking && s.cancelRound == nil {
			s.setState(Idle)
			s.listen()
		}
	case evAmbient:
		if s.agg.NoteAmbient(ev.signal) {
			s.log.WithFields(logrus.Fields{
				"category":   ev.signal.Category,
				"confidence": ev.signal.Confidence,
			}).Info("ambient signal noted")
		}
	}
}

func (s *Session) onSegment(ctx context.Context, ev vad.Event) {
	switch ev.Kind {
	case vad.SpeechStarted:
		s.silentWindows = 0
		s.log.WithField("at", ev.At).Debug("speech started")
	case vad.Discarded:
		s.metrics.Discard("short")
		s.log.WithField("duration", ev.Utterance.Duration).Debug("short utterance discarded")
	case vad.SpeechEnded, vad.MaxDurationReached:
		if ev.Utterance == nil {
			s.noInput(ctx)
			return
		}
		s.silentWindows = 0
		if ev.Utterance.Size() < s.cfg.MinAudioBytes {
			s.metrics.Discard("small")
			s.log.WithField("bytes", ev.Utterance.Size()).Debug("utterance below minimum size")
			s.seg.Arm(ev.At)
			return
		}
		s.log.WithFields(logrus.Fields{
			"duration": ev.Utterance.Duration,
			"reason":   ev.Reason.String(),
		}).Info("utterance captured")
		s.handoff(ctx, ev.Utterance)
	}
}

// noInput counts empty listening windows and prompts the caller when
// enough have passed. The call stays open.
func (s *Session) noInput(ctx context.Context) {
	s.silentWindows++
	if s.cfg.NoInputWindows <= 0 || s.silentWindows < s.cfg.NoInputWindows || s.persona.NoInput == "" {
		return
	}
	s.silentWindows = 0
	s.log.Info("no input; prompting caller")
	s.hist.Append(Turn{Role: RolePersona, Text: s.persona.NoInput, At: time.Now()})
	s.seg.Disarm()
	s.setState(Idle)
	s.startRound(ctx, func(rctx context.Context, sp speaker) Outcome {
		return s.orch.Say(rctx, s.persona.NoInput, sp)
	})
}

func (s *Session) greet(ctx context.Context) {
	s.setState(Idle)
	if s.persona.Greeting == "" {
		s.listen()
		return
	}
	s.hist.Append(Turn{Role: RolePersona, Text: s.persona.Greeting, At: time.Now()})
	s.startRound(ctx, func(rctx context.Context, sp speaker) Outcome {
		return s.orch.Say(rctx, s.persona.Greeting, sp)
	})
}

func (s *Session) handoff(ctx context.Context, utt *vad.Utterance) {
	s.seg.Disarm()
	s.setState(Uploading)
	s.startRound(ctx, func(rctx context.Context, sp speaker) Outcome {
		return s.orch.Handle(rctx, utt, sp)
	})
}

// startRound runs fn under a new generation. Anything an older generation
// still reports is dropped.
func (s *Session) startRound(ctx context.Context, fn func(context.Context, speaker) Outcome) {
	s.endRound()
	s.gen++
	rctx, cancel := context.WithCancel(ctx)
	s.cancelRound = cancel
	r := round{s: s, gen: s.gen, ctx: rctx}
	go func() {
		out := fn(rctx, r)
		s.post(rctx, event{kind: evDone, gen: r.gen, outcome: out})
	}()
}

func (s *Session) endRound() {
	if s.cancelRound != nil {
		s.cancelRound()
		s.cancelRound = nil
	}
}

func (s *Session) listen() {
	s.setState(Listening)
	s.seg.Arm(s.framer.Now())
}

func (s *Session) shutdown(final State, err error) {
	s.endRound()
	s.gen++
	s.player.Reset()
	s.seg.Disarm()
	s.setState(final)
	s.mu.Lock()
	s.failure = err
	s.mu.Unlock()
	s.metrics.SessionEnded(final.String())
	entry := s.log.WithFields(logrus.Fields{
		"turns":        s.hist.Len(),
		"completeness": s.agg.Snapshot().Completeness.Overall,
	})
	if err != nil {
		entry.WithError(err).Error("session failed")
		if s.onFailed != nil {
			s.onFailed(err)
		}
		return
	}
	entry.Info("session closed")
}

func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	s.log.WithFields(logrus.Fields{"from": s.state.String(), "to": st.String()}).Debug("state")
	s.state = st
	s.mu.Lock()
	s.view = st
	s.mu.Unlock()
	if s.onState != nil {
		s.onState(st)
	}
}

// round binds a speaker to one generation.
type round struct {
	s   *Session
	gen uint64
	ctx context.Context
}

func (r round) stage(st State) {
	r.s.post(r.ctx, event{kind: evStage, gen: r.gen, state: st})
}

func (r round) begin(rate int) {
	r.s.post(r.ctx, event{kind: evBegin, gen: r.gen, rate: rate})
}

func (r round) chunk(pcm []byte) {
	r.s.post(r.ctx, event{kind: evChunk, gen: r.gen, data: pcm})
}

package dialog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chadiek/covercall/internal/emergency"
	"github.com/chadiek/covercall/internal/llm"
	"github.com/chadiek/covercall/internal/metrics"
	"github.com/chadiek/covercall/internal/persona"
	"github.com/chadiek/covercall/internal/transcript"
	"github.com/chadiek/covercall/internal/tts"
	"github.com/chadiek/covercall/internal/vad"
)

var (
	errEmptyReply = errors.New("generate: empty reply")
	errNoAudio    = errors.New("synthesize: no audio")
)

// Services are the external collaborators of a round trip.
type Services struct {
	Transcriber transcript.Transcriber
	Generator   llm.Client
	Synthesizer tts.Synthesizer
}

// Timeouts bound each provider call.
type Timeouts struct {
	Transcribe time.Duration `mapstructure:"transcribe"`
	Generate   time.Duration `mapstructure:"generate"`
	Synthesize time.Duration `mapstructure:"synthesize"`
}

// Outcome is how a round trip ended.
type Outcome int

const (
	Replied Outcome = iota
	FellBack
	Discarded
	Canceled
)

func (o Outcome) String() string {
	return [...]string{"replied", "fallback", "discarded", "canceled"}[o]
}

// speaker receives the progress and audio of one round.
type speaker interface {
	stage(State)
	begin(rate int)
	chunk(pcm []byte)
}

// Orchestrator sequences transcription, generation and synthesis for the
// utterances of one session. Rounds never overlap.
type Orchestrator struct {
	svc       Services
	persona   persona.Persona
	language  string
	threshold int
	timeouts  Timeouts
	hist      *History
	agg       *emergency.Aggregator
	cache     *ClipCache
	log       logrus.FieldLogger
	metrics   *metrics.Metrics
	now       func() time.Time

	mu        sync.Mutex
	errors    int
	fallbacks int
}

// ConsecutiveErrors returns the failure count carried into the next round.
func (o *Orchestrator) ConsecutiveErrors() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.errors
}

// Handle runs one utterance to completion. Failed attempts are retried from
// transcription until the error threshold is reached, then a fallback line
// is spoken instead.
func (o *Orchestrator) Handle(ctx context.Context, utt *vad.Utterance, sp speaker) Outcome {
	for {
		reply, caller, err := o.attempt(ctx, utt, sp)
		if ctx.Err() != nil {
			return Canceled
		}
		switch {
		case err == nil:
			return o.commit(ctx, caller, reply, sp)
		case errors.Is(err, transcript.ErrEmptyTranscript):
			o.metrics.Discard("empty")
			o.log.Debug("empty transcript discarded")
			return Discarded
		case errors.Is(err, transcript.ErrLanguageMismatch):
			o.metrics.Discard("language")
			o.log.Info("transcript in unexpected language discarded")
			return Discarded
		}
		if o.fail(err) {
			return o.fallback(ctx, sp)
		}
		sp.stage(Uploading)
	}
}

func (o *Orchestrator) attempt(ctx context.Context, utt *vad.Utterance, sp speaker) (persona.Reply, Turn, error) {
	tctx, cancel := context.WithTimeout(ctx, o.timeouts.Transcribe)
	start := time.Now()
	text, err := o.svc.Transcriber.Transcribe(tctx, transcript.Request{
		Audio:      utt.PCM,
		SampleRate: utt.SampleRate,
		Language:   o.language,
	})
	cancel()
	o.metrics.Stage("transcribe", time.Since(start), err)
	if err != nil {
		return persona.Reply{}, Turn{}, fmt.Errorf("transcribe: %w", err)
	}
	if text, err = transcript.Check(text, o.language); err != nil {
		return persona.Reply{}, Turn{}, err
	}
	o.log.WithField("text", text).Info("caller said")

	sp.stage(AwaitingReply)
	caller := Turn{Role: RoleCaller, Text: text, At: o.now()}
	gctx, cancel := context.WithTimeout(ctx, o.timeouts.Generate)
	start = time.Now()
	raw, err := o.svc.Generator.Complete(gctx, o.hist.Messages(o.persona.Instruction, caller))
	cancel()
	o.metrics.Stage("generate", time.Since(start), err)
	if err != nil {
		return persona.Reply{}, Turn{}, fmt.Errorf("generate: %w", err)
	}
	reply := persona.ParseReply(raw)
	if reply.Say == "" {
		return persona.Reply{}, Turn{}, errEmptyReply
	}
	return reply, caller, nil
}

// commit records both turns, merges the extracted fields and speaks.
func (o *Orchestrator) commit(ctx context.Context, caller Turn, reply persona.Reply, sp speaker) Outcome {
	o.hist.Append(caller, Turn{Role: RolePersona, Text: reply.Say, At: o.now()})
	o.metrics.Turn(reply.Kind.String())
	if reply.Kind == persona.PlainText {
		o.log.Warn("reply was not structured; speaking raw text")
	}
	if reply.Kind == persona.Structured && !reply.Fields.Empty() {
		o.agg.Merge(reply.Fields)
	}

	for {
		started, err := o.synthesize(ctx, reply.Say, sp)
		if ctx.Err() != nil {
			return Canceled
		}
		if err == nil {
			o.reset()
			return Replied
		}
		if started {
			// part of the reply is already queued; repeating it would be worse
			o.log.WithError(err).Warn("synthesis ended early")
			return Replied
		}
		if o.fail(err) {
			return o.fallback(ctx, sp)
		}
	}
}

// Say speaks a scripted line, from the clip cache when possible.
func (o *Orchestrator) Say(ctx context.Context, text string, sp speaker) Outcome {
	if clip, ok := o.cache.Get(text); ok {
		sp.begin(clip.Rate)
		sp.chunk(clip.PCM)
		return Replied
	}
	_, err := o.synthesize(ctx, text, sp)
	if ctx.Err() != nil {
		return Canceled
	}
	if err != nil {
		o.log.WithError(err).Error("scripted line not spoken")
	}
	return Replied
}

func (o *Orchestrator) fallback(ctx context.Context, sp speaker) Outcome {
	o.mu.Lock()
	text := o.persona.Fallback(o.fallbacks)
	o.fallbacks++
	o.mu.Unlock()

	o.metrics.Fallback()
	o.log.WithField("line", text).Warn("speaking fallback")
	o.hist.Append(Turn{Role: RolePersona, Text: text, At: o.now()})
	if o.Say(ctx, text, sp) == Canceled {
		return Canceled
	}
	return FellBack
}

func (o *Orchestrator) synthesize(ctx context.Context, text string, sp speaker) (bool, error) {
	sctx, cancel := context.WithTimeout(ctx, o.timeouts.Synthesize)
	defer cancel()
	start := time.Now()
	pcmCh, errCh := o.svc.Synthesizer.Stream(sctx, text)
	started := false
	for chunk := range pcmCh {
		if len(chunk) == 0 {
			continue
		}
		if !started {
			sp.begin(o.svc.Synthesizer.SampleRate())
			started = true
		}
		sp.chunk(chunk)
	}
	err := <-errCh
	if err == nil && !started {
		err = errNoAudio
	}
	o.metrics.Stage("synthesize", time.Since(start), err)
	if err != nil {
		return started, fmt.Errorf("synthesize: %w", err)
	}
	return started, nil
}

// fail counts a transient failure and reports whether the threshold was
// reached, in which case the counter starts over.
func (o *Orchestrator) fail(err error) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors++
	o.log.WithError(err).WithField("consecutive", o.errors).Warn("round trip failed")
	if o.errors >= o.threshold {
		o.errors = 0
		return true
	}
	return false
}

func (o *Orchestrator) reset() {
	o.mu.Lock()
	o.errors = 0
	o.mu.Unlock()
}

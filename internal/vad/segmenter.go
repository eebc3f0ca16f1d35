package vad

import (
	"time"

	"github.com/chadiek/covercall/internal/audio"
)

// EventKind identifies a segmenter output.
type EventKind int

const (
	SpeechStarted EventKind = iota + 1
	SpeechEnded
	MaxDurationReached
	Discarded
)

func (k EventKind) String() string {
	switch k {
	case SpeechStarted:
		return "speech-started"
	case SpeechEnded:
		return "speech-ended"
	case MaxDurationReached:
		return "max-duration-reached"
	case Discarded:
		return "discarded"
	}
	return "unknown"
}

// Reason says which rule closed a segment.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonSilence
	ReasonEarlyCutoff
	ReasonMaxListening
)

func (r Reason) String() string {
	switch r {
	case ReasonSilence:
		return "silence"
	case ReasonEarlyCutoff:
		return "early-cutoff"
	case ReasonMaxListening:
		return "max-listening"
	}
	return "none"
}

// Utterance is one bounded segment of captured speech.
type Utterance struct {
	Start      time.Duration // stream time of the first confirmed speech frame
	Duration   time.Duration // speech span, trailing silence excluded
	PCM        []int16       // includes pre-roll and trailing silence
	SampleRate int
}

// Size is the audio size in bytes as PCM16.
func (u *Utterance) Size() int { return len(u.PCM) * 2 }

// Bytes returns the audio as PCM16LE.
func (u *Utterance) Bytes() []byte { return audio.EncodePCM16(u.PCM) }

// Event is emitted by Process. SpeechEnded and MaxDurationReached carrying an
// utterance leave the segmenter disarmed; every other event keeps it armed.
type Event struct {
	Kind      EventKind
	Reason    Reason
	At        time.Duration
	Utterance *Utterance
}

type phase int

const (
	phaseDisarmed phase = iota
	phaseWaiting
	phaseSpeaking
)

// deadline is a cancelable point in stream time.
type deadline struct {
	at  time.Duration
	set bool
}

func (d *deadline) schedule(at time.Duration) { d.at, d.set = at, true }
func (d *deadline) cancel()                   { d.set = false }
func (d deadline) due(now time.Duration) bool { return d.set && now >= d.at }

// Segmenter is a per-session speech/silence state machine. It runs on stream
// time taken from frame offsets and never blocks. Not safe for concurrent use.
type Segmenter struct {
	p    Params
	rate int

	phase                  phase
	speechRun, silenceRun  int
	runStart               time.Duration
	speechStart, speechEnd time.Duration
	paused                 bool
	pauseStart             time.Duration

	silenceConfirm deadline
	earlyCutoff    deadline
	maxListening   deadline

	preroll    [][]int16
	prerollCap int
	buf        []int16
}

// New validates p and returns a disarmed segmenter for frames at rate.
func New(p Params, rate int) (*Segmenter, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	frames := int(p.PreRoll / audio.FrameDuration)
	return &Segmenter{p: p, rate: rate, prerollCap: frames + p.SpeechFrames}, nil
}

// Params returns the active tunables.
func (s *Segmenter) Params() Params { return s.p }

// Armed reports whether the segmenter is capturing.
func (s *Segmenter) Armed() bool { return s.phase != phaseDisarmed }

// InSpeech reports whether speech has been confirmed in the current segment.
func (s *Segmenter) InSpeech() bool { return s.phase == phaseSpeaking }

// Arm starts a capture window at stream time at.
func (s *Segmenter) Arm(at time.Duration) {
	s.reset()
	s.phase = phaseWaiting
	s.maxListening.schedule(at + s.p.MaxListening)
}

// Disarm stops capture and cancels every pending deadline.
func (s *Segmenter) Disarm() {
	s.reset()
	s.phase = phaseDisarmed
}

func (s *Segmenter) reset() {
	s.speechRun, s.silenceRun = 0, 0
	s.paused = false
	s.silenceConfirm.cancel()
	s.earlyCutoff.cancel()
	s.maxListening.cancel()
	s.preroll = s.preroll[:0]
	s.buf = nil
}

// Process classifies one frame and returns any resulting events.
func (s *Segmenter) Process(f audio.Frame) []Event {
	if s.phase == phaseDisarmed {
		return nil
	}
	end := f.End(s.rate)
	loud := f.Energy >= s.p.Threshold
	if loud {
		if s.speechRun == 0 {
			s.runStart = f.Offset
		}
		s.speechRun++
		s.silenceRun = 0
	} else {
		s.silenceRun++
		s.speechRun = 0
	}

	var events []Event
	switch s.phase {
	case phaseWaiting:
		s.pushPreroll(f.PCM)
		if s.speechRun >= s.p.SpeechFrames {
			s.phase = phaseSpeaking
			s.speechStart = s.runStart
			s.speechEnd = end
			for _, pcm := range s.preroll {
				s.buf = append(s.buf, pcm...)
			}
			s.preroll = s.preroll[:0]
			s.earlyCutoff.schedule(s.speechStart + s.p.EarlyCutoff)
			events = append(events, Event{Kind: SpeechStarted, At: s.speechStart})
		}
	case phaseSpeaking:
		s.buf = append(s.buf, f.PCM...)
		if loud {
			s.speechEnd = end
			s.paused = false
			s.silenceConfirm.cancel()
			break
		}
		if !s.paused {
			s.paused = true
			s.pauseStart = f.Offset
		}
		// stage one: a natural pause plus enough quiet frames is a potential end
		if !s.silenceConfirm.set && end-s.pauseStart >= s.p.NaturalPause && s.silenceRun >= s.p.SilenceFrames {
			s.silenceConfirm.schedule(s.pauseStart + s.p.SilenceTimeout)
		}
	}

	switch {
	case s.phase == phaseSpeaking && s.silenceConfirm.due(end):
		return append(events, s.finish(ReasonSilence, end))
	case s.phase == phaseSpeaking && s.earlyCutoff.due(end):
		return append(events, s.finish(ReasonEarlyCutoff, end))
	case s.maxListening.due(end):
		if s.phase == phaseSpeaking {
			return append(events, s.finish(ReasonMaxListening, end))
		}
		s.Arm(end)
		return append(events, Event{Kind: MaxDurationReached, Reason: ReasonMaxListening, At: end})
	}
	return events
}

// finish closes the current segment. Short segments are discarded and
// capture restarts; otherwise the segmenter disarms and hands off.
func (s *Segmenter) finish(r Reason, at time.Duration) Event {
	u := &Utterance{
		Start:      s.speechStart,
		Duration:   s.speechEnd - s.speechStart,
		PCM:        s.buf,
		SampleRate: s.rate,
	}
	s.buf = nil
	if u.Duration < s.p.MinSpeech {
		s.Arm(at)
		return Event{Kind: Discarded, Reason: r, At: at, Utterance: u}
	}
	kind := SpeechEnded
	if r == ReasonMaxListening {
		kind = MaxDurationReached
	}
	s.Disarm()
	return Event{Kind: kind, Reason: r, At: at, Utterance: u}
}

func (s *Segmenter) pushPreroll(pcm []int16) {
	if len(s.preroll) >= s.prerollCap && len(s.preroll) > 0 {
		copy(s.preroll, s.preroll[1:])
		s.preroll = s.preroll[:len(s.preroll)-1]
	}
	s.preroll = append(s.preroll, pcm)
}

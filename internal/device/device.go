// Package device runs a session against the local microphone and speaker.
package device

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"

	"github.com/chadiek/covercall/internal/audio"
	"github.com/chadiek/covercall/internal/playback"
)

// SpeakerRate is the playback device rate.
const SpeakerRate = 24000

// Device owns the capture and playback devices.
type Device struct {
	mctx    *malgo.AllocatedContext
	mic     *malgo.Device
	cap     *capture
	otoCtx  *oto.Context
	speaker *speaker
	player  *oto.Player
	log     logrus.FieldLogger
}

// Open starts capture at audio.AnalysisRate and prepares playback at
// SpeakerRate.
func Open(log logrus.FieldLogger) (*Device, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	d := &Device{log: log.WithField("component", "device")}

	cfg := malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}
	mctx, err := malgo.InitContext(nil, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("device: audio context: %w", err)
	}
	d.mctx = mctx

	d.cap = newCapture(64)
	dc := malgo.DefaultDeviceConfig(malgo.Capture)
	dc.Capture.Format = malgo.FormatS16
	dc.Capture.Channels = 1
	dc.SampleRate = uint32(audio.AnalysisRate)
	dc.PeriodSizeInMilliseconds = uint32(audio.FrameDuration.Milliseconds())
	mic, err := malgo.InitDevice(mctx.Context, dc, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) { d.cap.onData(input) },
	})
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("device: microphone: %w", err)
	}
	d.mic = mic

	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   SpeakerRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   SpeakerRate * 2 / 10,
	})
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("device: speaker: %w", err)
	}
	<-ready
	d.otoCtx = otoCtx
	d.speaker = newSpeaker()
	return d, nil
}

// Start begins capture and playback.
func (d *Device) Start() error {
	if err := d.mic.Start(); err != nil {
		return fmt.Errorf("device: start microphone: %w", err)
	}
	d.player = d.otoCtx.NewPlayer(d.speaker)
	d.player.Play()
	return nil
}

// Frames delivers captured audio at audio.AnalysisRate.
func (d *Device) Frames() <-chan []int16 { return d.cap.frames }

// Output is the playback sink for a session.
func (d *Device) Output() playback.Output { return d.speaker }

// Dropped counts capture buffers lost because the consumer was behind.
func (d *Device) Dropped() int64 { return d.cap.dropped.Load() }

func (d *Device) Close() {
	if d.mic != nil {
		_ = d.mic.Stop()
		d.mic.Uninit()
	}
	if d.speaker != nil {
		d.speaker.Close()
	}
	if d.player != nil {
		_ = d.player.Close()
	}
	if d.mctx != nil {
		_ = d.mctx.Uninit()
		d.mctx.Free()
	}
}

// capture converts device callbacks into sample slices without blocking
// the audio thread.
type capture struct {
	frames  chan []int16
	dec     audio.PCMDecoder
	dropped atomic.Int64
}

func newCapture(depth int) *capture {
	return &capture{frames: make(chan []int16, depth)}
}

func (c *capture) onData(input []byte) {
	pcm := c.dec.Decode(input)
	if len(pcm) == 0 {
		return
	}
	select {
	case c.frames <- pcm:
	default:
		c.dropped.Add(1)
	}
}

// speaker queues paced blocks for the oto player, which pulls them
// through Read.
type speaker struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
}

func newSpeaker() *speaker {
	s := &speaker{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *speaker) WriteBlock(pcm []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	s.buf = append(s.buf, audio.EncodePCM16(pcm)...)
	s.cond.Signal()
	return nil
}

// Read blocks until audio is queued. After Close it plays silence so the
// player drains.
func (s *speaker) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.buf) == 0 {
		clear(p)
		return len(p), nil
	}
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *speaker) Close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

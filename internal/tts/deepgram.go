package tts

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
	"github.com/sirupsen/logrus"
)

// Deepgram streams Aura linear16 audio over the speak websocket.
type Deepgram struct {
	apiKey     string
	model      string
	sampleRate int
	// IdleWindow ends a stream that produced audio but never confirmed the flush.
	IdleWindow time.Duration
	Deadline   time.Duration
	log        logrus.FieldLogger
}

func NewDeepgram(apiKey, model string, sampleRate int, log logrus.FieldLogger) *Deepgram {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Deepgram{
		apiKey:     apiKey,
		model:      model,
		sampleRate: sampleRate,
		IdleWindow: 400 * time.Millisecond,
		Deadline:   12 * time.Second,
		log:        log.WithField("component", "deepgram"),
	}
}

func (d *Deepgram) SampleRate() int { return d.sampleRate }

func (d *Deepgram) Stream(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		if d.apiKey == "" {
			close(pcmCh)
			errCh <- fmt.Errorf("deepgram: api key missing")
			return
		}
		if text == "" {
			close(pcmCh)
			return
		}
		if err := d.stream(ctx, text, pcmCh); err != nil {
			errCh <- err
		}
	}()
	return pcmCh, errCh
}

func (d *Deepgram) stream(ctx context.Context, text string, pcmCh chan []byte) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var lastRecv atomic.Int64
	// mu keeps callback sends from racing the close of pcmCh.
	var mu sync.Mutex
	closed := false
	defer func() {
		cancel()
		mu.Lock()
		closed = true
		close(pcmCh)
		mu.Unlock()
	}()
	flushed := make(chan struct{}, 1)

	cb := &speakCallback{
		onBinary: func(data []byte) error {
			if len(data) == 0 {
				return nil
			}
			lastRecv.Store(time.Now().UnixNano())
			b := make([]byte, len(data))
			copy(b, data)
			mu.Lock()
			defer mu.Unlock()
			if closed {
				return nil
			}
			select {
			case pcmCh <- b:
			case <-ctx.Done():
			}
			return nil
		},
		onFlushed: func() {
			select {
			case flushed <- struct{}{}:
			default:
			}
		},
		onError: func(e *msginterfaces.ErrorResponse) {
			d.log.WithField("description", e.Description).Warn("speak error")
		},
	}

	options := &clientinterfaces.WSSpeakOptions{
		Model:      d.model,
		Encoding:   "linear16",
		SampleRate: d.sampleRate,
	}
	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return fmt.Errorf("deepgram: create ws client: %w", err)
	}
	defer dg.Stop()

	if ok := dg.Connect(); !ok {
		return fmt.Errorf("deepgram: connect failed")
	}
	if err := dg.SpeakWithText(text); err != nil {
		return fmt.Errorf("deepgram: speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		d.log.WithError(err).Warn("flush failed")
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.NewTimer(d.Deadline)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-flushed:
			return nil
		case <-deadline.C:
			return fmt.Errorf("deepgram: no flush confirmation after %s", d.Deadline)
		case <-ticker.C:
			if last := lastRecv.Load(); last != 0 && time.Since(time.Unix(0, last)) > d.IdleWindow {
				return nil
			}
		}
	}
}

type speakCallback struct {
	onBinary  func([]byte) error
	onFlushed func()
	onError   func(*msginterfaces.ErrorResponse)
}

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }

func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error {
	if s.onFlushed != nil {
		s.onFlushed()
	}
	return nil
}

func (s *speakCallback) Error(e *msginterfaces.ErrorResponse) error {
	if s.onError != nil && e != nil {
		s.onError(e)
	}
	return nil
}

func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}

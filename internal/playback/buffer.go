// Package playback paces synthesized speech out to a transport in fixed
// blocks and reports when an utterance has fully drained.
package playback

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chadiek/covercall/internal/audio"
)

// Output receives fixed-size blocks of mono PCM at the buffer's output rate.
type Output interface {
	WriteBlock(samples []int16) error
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithBlock sets the block duration (default 20ms).
func WithBlock(d time.Duration) Option {
	return func(b *Buffer) { b.interval = d }
}

// WithOnDrained registers the callback fired once per utterance after its
// last block has been written.
func WithOnDrained(fn func()) Option {
	return func(b *Buffer) { b.onDrained = fn }
}

// WithOnError registers the callback fired when the output rejects a block.
func WithOnError(fn func(error)) Option {
	return func(b *Buffer) { b.onError = fn }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(b *Buffer) { b.log = l }
}

// Buffer accumulates streamed PCM16LE chunks of any size, resamples them to
// the output rate and emits one block per pacer tick.
type Buffer struct {
	out      Output
	rate     int
	interval time.Duration
	block    int

	onDrained func()
	onError   func(error)
	log       logrus.FieldLogger

	mu       sync.Mutex
	dec      audio.PCMDecoder
	rs       *audio.Resampler
	pending  []int16
	active   bool
	finished bool
	written  int
}

// New returns a buffer writing blocks at rate to out.
func New(out Output, rate int, opts ...Option) *Buffer {
	b := &Buffer{
		out:      out,
		rate:     rate,
		interval: audio.FrameDuration,
		log:      logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(b)
	}
	b.block = audio.SamplesFor(rate, b.interval)
	return b
}

// Rate is the output sample rate.
func (b *Buffer) Rate() int { return b.rate }

// Begin starts a new utterance whose chunks arrive at inputRate. Anything
// still queued from a previous utterance is dropped.
func (b *Buffer) Begin(inputRate int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dec.Reset()
	b.rs = audio.NewResampler(inputRate, b.rate)
	b.pending = b.pending[:0]
	b.active = true
	b.finished = false
	b.written = 0
}

// Feed queues a chunk of PCM16LE. Odd byte counts are carried over.
func (b *Buffer) Feed(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active || b.finished {
		return
	}
	samples := b.dec.Decode(chunk)
	if len(samples) == 0 {
		return
	}
	b.pending = append(b.pending, b.rs.Process(samples)...)
}

// Finish marks the end of the current utterance. The tail is padded to a
// full block and drain is reported after it is written.
func (b *Buffer) Finish() {
	b.mu.Lock()
	b.finished = true
	b.mu.Unlock()
}

// Reset drops queued audio without reporting drain.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.pending = b.pending[:0]
	b.dec.Reset()
	b.active = false
	b.finished = false
	b.mu.Unlock()
}

// Active reports whether an utterance is queued or playing.
func (b *Buffer) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Queued returns the playing time still buffered.
func (b *Buffer) Queued() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return audio.DurationOf(b.rate, len(b.pending))
}

// Flush performs one pacer tick: write at most one block, or report drain.
func (b *Buffer) Flush() {
	b.mu.Lock()
	if !b.active {
		b.mu.Unlock()
		return
	}
	var blk []int16
	var drained func()
	switch {
	case len(b.pending) >= b.block:
		blk = make([]int16, b.block)
		copy(blk, b.pending[:b.block])
		n := copy(b.pending, b.pending[b.block:])
		b.pending = b.pending[:n]
	case b.finished && len(b.pending) > 0:
		blk = make([]int16, b.block)
		copy(blk, b.pending)
		b.pending = b.pending[:0]
	case b.finished:
		b.active = false
		drained = b.onDrained
		b.log.WithField("blocks", b.written).Debug("playback drained")
	}
	if blk != nil {
		b.written++
	}
	b.mu.Unlock()

	if blk != nil {
		if err := b.out.WriteBlock(blk); err != nil {
			b.log.WithError(err).Error("playback output failed")
			if b.onError != nil {
				b.onError(err)
			}
		}
	}
	if drained != nil {
		drained()
	}
}

// Run ticks Flush every block interval until ctx is done.
func (b *Buffer) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Flush()
		}
	}
}

package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/chadiek/covercall/internal/emergency"
	"github.com/chadiek/covercall/internal/metrics"
)

type pending struct {
	rec emergency.Record
	seq uint64
}

// Worker forwards records in the background. Forward never blocks; when a
// session produces several records before the worker catches up, only the
// latest is sent.
type Worker struct {
	sender   Sender
	limiter  *rate.Limiter
	attempts int
	backoff  time.Duration
	drain    time.Duration
	now      func() time.Time
	log      logrus.FieldLogger
	metrics  *metrics.Metrics

	mu    sync.Mutex
	queue map[string]pending
	seq   uint64
	wake  chan struct{}
}

type WorkerOption func(*Worker)

// WithRate limits sends per second across all sessions.
func WithRate(perSecond float64, burst int) WorkerOption {
	return func(w *Worker) { w.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithRetry sets the attempts per record and the base backoff, doubled per attempt.
func WithRetry(attempts int, backoff time.Duration) WorkerOption {
	return func(w *Worker) { w.attempts, w.backoff = attempts, backoff }
}

func WithWorkerLogger(l logrus.FieldLogger) WorkerOption {
	return func(w *Worker) { w.log = l }
}

func WithMetrics(m *metrics.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

func NewWorker(sender Sender, opts ...WorkerOption) *Worker {
	w := &Worker{
		sender:   sender,
		limiter:  rate.NewLimiter(rate.Limit(20), 5),
		attempts: 3,
		backoff:  250 * time.Millisecond,
		drain:    3 * time.Second,
		now:      time.Now,
		log:      logrus.StandardLogger(),
		queue:    map[string]pending{},
		wake:     make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(w)
	}
	w.log = w.log.WithField("component", "dispatch")
	return w
}

// Forward implements emergency.Forwarder.
func (w *Worker) Forward(sessionID string, rec emergency.Record) {
	w.mu.Lock()
	w.seq++
	w.queue[sessionID] = pending{rec: rec, seq: w.seq}
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Pending reports how many sessions have an unsent record.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Run sends queued records until ctx ends, then makes one bounded attempt
// to flush what is left.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			dctx, cancel := context.WithTimeout(context.Background(), w.drain)
			w.flush(dctx)
			cancel()
			return nil
		case <-w.wake:
			w.flush(ctx)
		}
	}
}

func (w *Worker) flush(ctx context.Context) {
	for {
		w.mu.Lock()
		var (
			sid  string
			item pending
			ok   bool
		)
		for k, v := range w.queue {
			if !ok || v.seq < item.seq {
				sid, item, ok = k, v, true
			}
		}
		w.mu.Unlock()
		if !ok {
			return
		}
		if !w.send(ctx, sid, item) {
			return
		}
		w.mu.Lock()
		// a newer record that arrived meanwhile stays queued
		if cur, found := w.queue[sid]; found && cur.seq == item.seq {
			delete(w.queue, sid)
		}
		w.mu.Unlock()
	}
}

// send reports false when ctx ended before the record was settled.
func (w *Worker) send(ctx context.Context, sid string, item pending) bool {
	log := w.log.WithField("session_id", sid)
	backoff := w.backoff
	for attempt := 1; attempt <= w.attempts; attempt++ {
		if err := w.limiter.Wait(ctx); err != nil {
			return false
		}
		p := NewPayload(sid, item.rec, w.now())
		err := w.sender.Send(ctx, p)
		w.metrics.Forward(err)
		if err == nil {
			log.WithFields(logrus.Fields{
				"id":           p.ID,
				"completeness": item.rec.Completeness.Overall,
				"likely":       item.rec.LikelyEmergency,
			}).Info("record forwarded")
			return true
		}
		log.WithError(err).WithField("attempt", attempt).Warn("forward failed")
		if ctx.Err() != nil {
			return false
		}
		if w.superseded(sid, item.seq) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	log.Error("forward abandoned after retries")
	return true
}

func (w *Worker) superseded(sid string, seq uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	cur, ok := w.queue[sid]
	return ok && cur.seq != seq
}

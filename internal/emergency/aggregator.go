package emergency

import (
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Forwarder relays a record to the dispatch sink. Implementations must not
// block the caller.
type Forwarder interface {
	Forward(sessionID string, rec Record)
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithForwarder sets the dispatch forwarder.
func WithForwarder(f Forwarder) Option { return func(a *Aggregator) { a.fwd = f } }

// WithMinConfidence sets the ambient signal threshold.
func WithMinConfidence(c float64) Option { return func(a *Aggregator) { a.minConfidence = c } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(a *Aggregator) { a.now = now } }

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(a *Aggregator) { a.log = l } }

// Aggregator owns one session's Record. Merges come from the session's
// serialized round trips; the lock only protects concurrent snapshot reads.
type Aggregator struct {
	sessionID     string
	fwd           Forwarder
	minConfidence float64
	now           func() time.Time
	log           logrus.FieldLogger

	mu  sync.RWMutex
	rec Record
}

// NewAggregator returns an empty aggregator for a session.
func NewAggregator(sessionID string, opts ...Option) *Aggregator {
	a := &Aggregator{
		sessionID:     sessionID,
		minConfidence: DefaultMinConfidence,
		now:           time.Now,
		log:           logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Merge folds in one turn's fields. Only non-blank values are taken, so a
// populated field never becomes empty. It reports whether the record changed
// and, when it did and an identity field is known, forwards the result once.
func (a *Aggregator) Merge(in Fields) (Record, bool) {
	a.mu.Lock()
	changed := false
	for _, name := range FieldNames() {
		v := strings.TrimSpace(in.Get(name))
		if v == "" || v == a.rec.Get(name) {
			continue
		}
		a.rec.set(name, v)
		changed = true
	}
	if changed {
		a.rec.Completeness = score(a.rec.Fields)
		a.rec.LikelyEmergency = likely(a.rec.Fields)
		a.rec.LastUpdated = a.now().UTC()
	}
	snap := a.snapshotLocked()
	a.mu.Unlock()

	if !changed {
		return snap, false
	}
	a.log.WithFields(logrus.Fields{
		"overall":          snap.Completeness.Overall,
		"likely_emergency": snap.LikelyEmergency,
	}).Info("emergency record updated")

	if snap.HasIdentity() && a.fwd != nil {
		a.fwd.Forward(a.sessionID, snap)
	}
	return snap, true
}

// NoteAmbient attaches a classifier signal above the confidence threshold.
// Fields, scores and forwarding are unaffected.
func (a *Aggregator) NoteAmbient(s Signal) bool {
	if s.Confidence < a.minConfidence {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rec.Signals = append(a.rec.Signals, s)
	if len(a.rec.Signals) > maxSignals {
		a.rec.Signals = a.rec.Signals[len(a.rec.Signals)-maxSignals:]
	}
	return true
}

// Snapshot returns a copy of the current record.
func (a *Aggregator) Snapshot() Record {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshotLocked()
}

func (a *Aggregator) snapshotLocked() Record {
	r := a.rec
	if len(a.rec.Signals) > 0 {
		r.Signals = append([]Signal(nil), a.rec.Signals...)
	}
	return r
}

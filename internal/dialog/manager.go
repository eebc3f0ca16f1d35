package dialog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/chadiek/covercall/internal/playback"
)

// Manager creates sessions on first contact and forgets them when they end.
type Manager struct {
	cfg  Config
	svc  Services
	deps Deps
	log  logrus.FieldLogger

	// OnEnded is called with the final view of every session.
	OnEnded func(View)

	mu       sync.RWMutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

func NewManager(cfg Config, svc Services, deps Deps) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	return &Manager{
		cfg:      cfg,
		svc:      svc,
		deps:     deps,
		log:      deps.Log.WithField("component", "sessions"),
		sessions: map[string]*Session{},
	}, nil
}

// StartOptions customise one session.
type StartOptions struct {
	OnState  func(State)
	OnFailed func(error)
}

// Start creates and runs a session keyed by id. The session ends when ctx
// is done or it is closed.
func (m *Manager) Start(ctx context.Context, id string, out playback.Output, outRate int, opts StartOptions) (*Session, error) {
	deps := m.deps
	deps.OnState = opts.OnState
	deps.OnFailed = opts.OnFailed

	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("dialog: session %s already running", id)
	}
	s, err := New(id, m.cfg, m.svc, out, outRate, deps)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.sessions[id] = s
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		_ = s.Run(ctx)
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		if m.OnEnded != nil {
			m.OnEnded(s.Snapshot())
		}
	}()
	return s, nil
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns views of the live sessions ordered by start time.
func (m *Manager) List() []View {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()
	views := make([]View, 0, len(list))
	for _, s := range list {
		views = append(views, s.Snapshot())
	}
	sort.Slice(views, func(i, j int) bool { return views[i].StartedAt.Before(views[j].StartedAt) })
	return views
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown closes every session and waits for them to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.RUnlock()
	for _, s := range live {
		s.Close()
	}
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

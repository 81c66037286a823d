package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonbmost/acquisition-assistant/internal/session"
)

// Manager owns live sessions, evicting idle ones after ttl and the least
// recently used one when max is reached.
type Manager struct {
	ttl  time.Duration
	max  int
	opts Options

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	stopCh   chan struct{}
}

// NewManager starts a manager and its eviction janitor. Close stops it.
func NewManager(opts Options, ttl time.Duration, max int) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	opts.Logger = opts.Logger.With("component", "chat")
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if max <= 0 {
		max = 1000
	}
	m := &Manager{
		ttl:      ttl,
		max:      max,
		opts:     opts,
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
	}
	go m.janitor()
	return m
}

func (m *Manager) janitor() {
	ticker := time.NewTicker(max(30*time.Second, m.ttl/2))
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.evictExpired()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) evictExpired() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if now.Sub(s.LastUsed()) > m.ttl && !s.Busy() {
			delete(m.sessions, id)
			m.opts.Logger.Debug("session evicted", "session", id, "reason", "idle")
		}
	}
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if ok {
		s.Touch()
	}
	return s, ok
}

// GetOrCreate returns the live session for id, resuming it from the store
// or starting a new one. An empty id always starts a new session.
func (m *Manager) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if s, ok := m.sessions[id]; ok && id != "" {
		s.Touch()
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	history, created, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if s, ok := m.sessions[created]; ok {
		s.Touch()
		return s, nil
	}
	if len(m.sessions) >= m.max {
		m.evictOldestLocked()
	}
	s := newSession(created, &m.opts, history)
	m.sessions[created] = s
	return s, nil
}

// Find returns the live or stored session for id without creating one.
// Unknown ids return session.ErrNotFound.
func (m *Manager) Find(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, session.ErrNotFound
	}
	if s, ok := m.Get(id); ok {
		return s, nil
	}
	if m.opts.Store == nil {
		return nil, session.ErrNotFound
	}
	rec, err := m.opts.Store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, session.ErrNotFound
	}
	return m.GetOrCreate(ctx, id)
}

// load fetches stored history for id, creating the stored record when
// the session is new.
func (m *Manager) load(ctx context.Context, id string) ([]Message, string, error) {
	store := m.opts.Store
	if id != "" && store != nil {
		rec, err := store.Get(ctx, id)
		if err != nil {
			return nil, "", err
		}
		if rec != nil {
			recs, err := store.GetMessages(ctx, id, 0, 0)
			if err != nil {
				return nil, "", err
			}
			return fromRecords(recs), id, nil
		}
	}
	if id == "" {
		id = session.NewID()
	}
	if store != nil {
		rec := &session.Session{ID: id, Model: m.opts.Model}
		if m.opts.Provider != nil {
			rec.Provider = m.opts.Provider.Name()
		}
		if err := store.Create(ctx, rec); err != nil {
			m.opts.Logger.Debug("persist session", "session", id, "error", err)
		}
	}
	return nil, id, nil
}

func (m *Manager) evictOldestLocked() {
	oldestID := ""
	var oldestTime time.Time
	for id, s := range m.sessions {
		t := s.LastUsed()
		if oldestID == "" || t.Before(oldestTime) {
			oldestID = id
			oldestTime = t
		}
	}
	if oldestID != "" {
		delete(m.sessions, oldestID)
		m.opts.Logger.Debug("session evicted", "session", oldestID, "reason", "capacity")
	}
}

// Delete forgets a live session and removes its stored history.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	_, live := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if m.opts.Store == nil {
		if !live {
			return session.ErrNotFound
		}
		return nil
	}
	err := m.opts.Store.Delete(ctx, id)
	if live && errors.Is(err, session.ErrNotFound) {
		return nil
	}
	return err
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close stops the janitor and drops all live sessions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.stopCh)
	m.sessions = map[string]*Session{}
}

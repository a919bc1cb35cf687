// Package sessioncore owns the table of live MCP sessions. Each session is
// backed by one protocol engine; the manager creates engines on demand,
// stores them once their initialize handshake assigned an ID and drops them
// when the engine reports closure.
package sessioncore

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/NEARWEEK/MCP/internal/engine"
	"github.com/google/uuid"
)

// ErrSessionNotFound is returned by Remove for IDs the manager does not hold.
var ErrSessionNotFound = errors.New("session not found")

// Engine is the per-session protocol handler the manager keeps alive.
type Engine interface {
	http.Handler
	// SessionID is "" until the initialize handshake assigned one.
	SessionID() string
	Close()
}

// EngineFactory builds an engine that draws its ID from newSessionID and
// reports lifecycle transitions through cb.
type EngineFactory func(newSessionID func() string, cb engine.Callbacks) Engine

// Session is one entry of the session table.
type Session struct {
	ID        string
	CreatedAt time.Time
	Engine    Engine
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithSessionIDGenerator overrides uuid.NewString.
func WithSessionIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// WithSizeObserver is called with the table size after every change.
func WithSizeObserver(fn func(n int)) Option {
	return func(m *Manager) { m.observe = fn }
}

// Manager is safe for concurrent use.
type Manager struct {
	factory EngineFactory
	newID   func() string
	log     *slog.Logger
	observe func(n int)

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(factory EngineFactory, opts ...Option) *Manager {
	m := &Manager{
		factory:  factory,
		newID:    uuid.NewString,
		log:      slog.Default(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the live session for id.
func (m *Manager) Get(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// CreateTransport returns a fresh engine that has not been stored yet.
func (m *Manager) CreateTransport() Engine {
	var e Engine
	e = m.factory(m.newID, engine.Callbacks{
		OnInitialized: func(id string) {
			m.log.Info("session.create.ok", slog.String("session_id", id))
		},
		OnClosed: func(id string) {
			if err := m.Remove(id); err != nil && !errors.Is(err, ErrSessionNotFound) {
				m.log.Warn("session.remove.fail", slog.String("session_id", id), slog.String("err", err.Error()))
			}
			e.Close()
		},
	})
	return e
}

// Store inserts e under its session ID. It reports false when the engine
// has no ID yet or the ID is already taken.
func (m *Manager) Store(e Engine) bool {
	id := e.SessionID()
	if id == "" {
		return false
	}
	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return false
	}
	m.sessions[id] = &Session{ID: id, CreatedAt: time.Now(), Engine: e}
	n := len(m.sessions)
	m.mu.Unlock()

	m.changed(n)
	return true
}

// Remove drops id from the table without closing its engine.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	if _, ok := m.sessions[id]; !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()

	m.changed(n)
	m.log.Info("session.delete.ok", slog.String("session_id", id))
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close closes every engine and empties the table.
func (m *Manager) Close() {
	m.mu.Lock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	clear(m.sessions)
	m.mu.Unlock()

	for _, s := range live {
		s.Engine.Close()
	}
	m.changed(0)
	m.log.Info("session.manager.closed", slog.Int("sessions", len(live)))
}

func (m *Manager) changed(n int) {
	if m.observe != nil {
		m.observe(n)
	}
}

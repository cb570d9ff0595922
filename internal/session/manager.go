// Package session implements the per-client-session analytical context
// manager of spec.md §4.5: lazy creation, FIFO eviction at capacity, and
// the disjoint per-session table namespace invariant.
package session

import (
	"container/list"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AnalyticalContext is the minimal lifecycle every embedded-engine session
// handle must support; internal/engine provides the concrete implementation.
// Session ownership of temporary Parquet files (spec.md §3/§5) is modeled
// as part of Close's responsibility.
type AnalyticalContext interface {
	Close() error
}

// Session is the spec.md §3 Session record.
type Session struct {
	ID         string
	Context    AnalyticalContext
	CreatedAt  time.Time
	LastUsed   time.Time
	mu         sync.Mutex // serializes per-session context access, spec.md §5
}

// Lock/Unlock serialize concurrent requests against the same session's
// analytical context, since it is "not safe for concurrent use by distinct
// requests of the same session" (spec.md §5).
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// Factory constructs a fresh analytical context for a newly created session.
type Factory func(sessionID string) (AnalyticalContext, error)

// Manager is the sole owner of analytical contexts (spec.md §4.5); an
// insertion-order FIFO evicts the oldest session once capacity is exceeded.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*list.Element // session id -> FIFO element
	order    *list.List               // list.Element.Value is *Session
	capacity int
	factory  Factory
	log      zerolog.Logger
}

const defaultCapacity = 100

// NewManager constructs a Manager with the given capacity (0 => default
// 100, per spec.md §4.5) and analytical-context factory.
func NewManager(capacity int, factory Factory, log zerolog.Logger) *Manager {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Manager{
		sessions: make(map[string]*list.Element),
		order:    list.New(),
		capacity: capacity,
		factory:  factory,
		log:      log.With().Str("component", "session").Logger(),
	}
}

// GetOrCreate returns the existing session, or lazily constructs one,
// evicting the oldest session first if at capacity.
func (m *Manager) GetOrCreate(id string) (*Session, error) {
	m.mu.Lock()
	if el, ok := m.sessions[id]; ok {
		s := el.Value.(*Session)
		s.LastUsed = time.Now()
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	ctx, err := m.factory(id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another goroutine may have raced us to create the same session id.
	if el, ok := m.sessions[id]; ok {
		_ = ctx.Close()
		s := el.Value.(*Session)
		return s, nil
	}

	now := time.Now()
	s := &Session{ID: id, Context: ctx, CreatedAt: now, LastUsed: now}
	el := m.order.PushBack(s)
	m.sessions[id] = el

	if m.order.Len() > m.capacity {
		m.evictOldestLocked()
	}
	return s, nil
}

// evictOldestLocked must be called with m.mu held.
func (m *Manager) evictOldestLocked() {
	oldest := m.order.Front()
	if oldest == nil {
		return
	}
	s := oldest.Value.(*Session)
	m.order.Remove(oldest)
	delete(m.sessions, s.ID)
	m.log.Info().Str("session_id", s.ID).Msg("evicting session (fifo capacity exceeded)")
	if err := s.Context.Close(); err != nil {
		m.log.Warn().Err(err).Str("session_id", s.ID).Msg("error closing evicted session")
	}
}

// Evict explicitly removes and closes a session, used by tests and by a
// future idle-timeout sweep (not implemented — see SPEC_FULL.md §8.5).
func (m *Manager) Evict(id string) {
	m.mu.Lock()
	el, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	m.order.Remove(el)
	delete(m.sessions, id)
	m.mu.Unlock()

	s := el.Value.(*Session)
	if err := s.Context.Close(); err != nil {
		m.log.Warn().Err(err).Str("session_id", id).Msg("error closing evicted session")
	}
}

// Exists reports whether a session with the given id is already live,
// without creating one — used by internal/action's create_session to
// reject id collisions (spec.md §4.8).
func (m *Manager) Exists(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	return ok
}

// Len reports the number of live sessions (test helper).
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

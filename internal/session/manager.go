package session

import (
	"sync"
	"time"
)

// Manager tracks the lifecycle for readers outside the loop goroutine.
// It implements Observer and RejectObserver.
type Manager struct {
	mu        sync.RWMutex
	state     State
	current   *Session
	last      *Session
	count     uint64
	rejected  uint64
	startedAt time.Time
	onStart   func(*Session)
	onEnd     func(*Session)
}

// NewManager creates a new session manager
func NewManager() *Manager {
	return &Manager{startedAt: time.Now()}
}

// SetCallbacks sets session lifecycle callbacks. onStart runs when a client
// connects, onEnd after it has been dropped. Both run on the loop
// goroutine and must not block.
func (m *Manager) SetCallbacks(onStart, onEnd func(*Session)) {
	m.onStart = onStart
	m.onEnd = onEnd
}

func (m *Manager) StateChanged(state State, s *Session) {
	m.mu.Lock()
	m.state = state
	var started, ended *Session
	switch state {
	case Connected:
		m.current = s
		m.count++
		started = s
	case Ready, Stopped, Crashed:
		if s != nil && m.current == s {
			m.current = nil
			m.last = s
			ended = s
		}
	}
	m.mu.Unlock()

	if started != nil && m.onStart != nil {
		m.onStart(started)
	}
	if ended != nil && m.onEnd != nil {
		m.onEnd(ended)
	}
}

func (m *Manager) Rejected(remote string) {
	m.mu.Lock()
	m.rejected++
	m.mu.Unlock()
}

// State returns the latest lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Current returns the active session.
func (m *Manager) Current() (Info, bool) {
	m.mu.RLock()
	s := m.current
	m.mu.RUnlock()
	if s == nil {
		return Info{}, false
	}
	return s.Info(), true
}

// Last returns the most recently finished session.
func (m *Manager) Last() (Info, bool) {
	m.mu.RLock()
	s := m.last
	m.mu.RUnlock()
	if s == nil {
		return Info{}, false
	}
	return s.Info(), true
}

// Stats is used for API responses
type Stats struct {
	State      State   `json:"state"`
	Sessions   uint64  `json:"sessions"`
	Rejected   uint64  `json:"rejected"`
	Active     bool    `json:"active"`
	UptimeSecs float64 `json:"uptime_secs"`
}

// Stats returns counters since the manager was created.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		State:      m.state,
		Sessions:   m.count,
		Rejected:   m.rejected,
		Active:     m.current != nil,
		UptimeSecs: time.Since(m.startedAt).Seconds(),
	}
}

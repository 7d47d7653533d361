package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrSessionNotFound is returned for an unknown room
var ErrSessionNotFound = errors.New("booking session not found")

// SessionManager owns the booking sessions of the gateway, one per room
type SessionManager struct {
	deps    SessionDeps
	idleTTL time.Duration
	logger  *logrus.Logger

	mu       sync.Mutex
	sessions map[string]*BookingSession

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSessionManager creates a manager; sessions idle for longer than idleTTL
// without a connected view stream are closed by the reaper
func NewSessionManager(deps SessionDeps, idleTTL time.Duration) *SessionManager {
	return &SessionManager{
		deps:     deps,
		idleTTL:  idleTTL,
		logger:   deps.Logger,
		sessions: make(map[string]*BookingSession),
		stopCh:   make(chan struct{}),
	}
}

// Open returns the session of room, creating it if needed. An empty room gets
// a fresh identifier.
func (m *SessionManager) Open(ctx context.Context, room string) (*BookingSession, error) {
	if room == "" {
		room = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[room]; ok {
		s.touch()
		return s, nil
	}

	s, err := NewBookingSession(ctx, room, m.deps)
	if err != nil {
		return nil, err
	}
	m.sessions[room] = s
	return s, nil
}

// Get returns an existing session
func (m *SessionManager) Get(room string) (*BookingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[room]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close ends the session of room
func (m *SessionManager) Close(room string) error {
	m.mu.Lock()
	s, ok := m.sessions[room]
	delete(m.sessions, room)
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	return nil
}

// Len returns the number of open sessions
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ReapIdle closes idle sessions and returns how many were closed
func (m *SessionManager) ReapIdle() int {
	now := m.deps.Clock.Now()

	m.mu.Lock()
	var idle []*BookingSession
	for room, s := range m.sessions {
		if s.Outbox().Listeners() > 0 {
			continue
		}
		if now.Sub(s.LastActive()) > m.idleTTL {
			idle = append(idle, s)
			delete(m.sessions, room)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.Close()
	}

	if len(idle) > 0 {
		m.logger.WithField("count", len(idle)).Info("Closed idle booking sessions")
	}
	return len(idle)
}

// StartReaper closes idle sessions every interval until Shutdown
func (m *SessionManager) StartReaper(interval time.Duration) {
	ticker := m.deps.Clock.NewTicker(interval)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C():
				m.ReapIdle()
			}
		}
	}()
}

// Shutdown stops the reaper and closes every session
func (m *SessionManager) Shutdown() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()

	m.mu.Lock()
	sessions := make([]*BookingSession, 0, len(m.sessions))
	for room, s := range m.sessions {
		sessions = append(sessions, s)
		delete(m.sessions, room)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	m.logger.WithField("count", len(sessions)).Info("Booking sessions shut down")
}

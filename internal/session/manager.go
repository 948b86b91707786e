package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/duplex/internal/memory"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusEnded   Status = "ended"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrAttached = errors.New("session already has a live connection")
)

// Session is one client's conversation. It lives as long as its connection.
type Session struct {
	ID             string         `json:"session_id"`
	Status         Status         `json:"status"`
	VoiceID        string         `json:"voice_id"`
	Memory         *memory.Window `json:"-"`
	StartedAt      time.Time      `json:"started_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`
	EndedAt        time.Time      `json:"ended_at,omitzero"`
}

// CreateRequest defines payload for creating a new session.
type CreateRequest struct {
	VoiceID string `json:"voice_id"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID        string    `json:"session_id"`
	Status           Status    `json:"status"`
	VoiceID          string    `json:"voice_id"`
	StartedAt        time.Time `json:"started_at"`
	LastActivityAt   time.Time `json:"last_activity_at"`
	ConnectTimeoutMS int64     `json:"connect_timeout_ms"`
}

type Manager struct {
	mu             sync.RWMutex
	sessions       map[string]*Session
	connectTimeout time.Duration
	memoryCapacity int
	onEnd          func(*Session)
}

func NewManager(connectTimeout time.Duration, memoryCapacity int) *Manager {
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Minute
	}
	return &Manager{
		sessions:       make(map[string]*Session),
		connectTimeout: connectTimeout,
		memoryCapacity: memoryCapacity,
	}
}

func (m *Manager) ConnectTimeout() time.Duration {
	return m.connectTimeout
}

// SetEndHook registers a callback run after any session ends, whether
// explicitly, by disconnect or by never connecting.
func (m *Manager) SetEndHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnd = hook
}

// Create registers a pending session awaiting its websocket connection.
func (m *Manager) Create(voiceID string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		Status:         StatusPending,
		VoiceID:        voiceID,
		Memory:         memory.NewWindow(m.memoryCapacity),
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// Attach binds the session's single connection.
func (m *Manager) Attach(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status == StatusActive {
		return nil, ErrAttached
	}
	s.Status = StatusActive
	s.LastActivityAt = time.Now().UTC()
	return clone(s), nil
}

// Disconnect ends the session when its connection goes away.
func (m *Manager) Disconnect(sessionID string) error {
	_, err := m.End(sessionID)
	return err
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) SetVoice(sessionID, voiceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.VoiceID = voiceID
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// End removes the session and reports its final state.
func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	delete(m.sessions, sessionID)
	ended := endLocked(s, time.Now().UTC())
	hook := m.onEnd
	m.mu.Unlock()

	if hook != nil {
		hook(ended)
	}
	return ended, nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expirePending()
			}
		}
	}()
}

// ActiveCount reports sessions with a live connection.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expirePending() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.Status != StatusPending || now.Sub(s.StartedAt) < m.connectTimeout {
			continue
		}
		delete(m.sessions, id)
		expired = append(expired, endLocked(s, now))
	}
	hook := m.onEnd
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func endLocked(s *Session, now time.Time) *Session {
	s.Status = StatusEnded
	s.LastActivityAt = now
	s.EndedAt = now
	return clone(s)
}

// clone copies the metadata. Memory is shared with the live connection.
func clone(s *Session) *Session {
	c := *s
	return &c
}

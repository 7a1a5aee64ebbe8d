package chat

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/chat-relay/models"
	"github.com/upb/chat-relay/services"
)

// Session is one conversation: an append-only message history plus a
// guard that admits a single turn at a time.
type Session struct {
	ID        uuid.UUID
	CreatedAt time.Time

	mu       sync.RWMutex
	messages []models.ChatMessage

	turn  sync.Mutex
	ended atomic.Bool
}

// NewSession creates an empty session with a fresh ID
func NewSession() *Session {
	return &Session{
		ID:        uuid.New(),
		CreatedAt: time.Now().UTC(),
	}
}

// Append adds a message to the end of the history
func (s *Session) Append(msg models.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// History returns a copy of the messages, oldest first
func (s *Session) History() []models.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Clear drops the history
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

func (s *Session) tryBeginTurn() bool {
	return s.turn.TryLock()
}

func (s *Session) endTurn() {
	s.turn.Unlock()
}

// Ended reports whether the session was removed from its manager
func (s *Session) Ended() bool {
	return s.ended.Load()
}

// SessionManager owns the live sessions of the process
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	logger   *zap.Logger
}

// NewSessionManager creates an empty session manager
func NewSessionManager(logger *zap.Logger) *SessionManager {
	return &SessionManager{
		sessions: make(map[uuid.UUID]*Session),
		logger:   logger,
	}
}

// Create starts a new session
func (m *SessionManager) Create() *Session {
	sess := NewSession()

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	m.logger.Info("session created", zap.String("session_id", sess.ID.String()))
	return sess
}

// Get returns the session with the given ID
func (m *SessionManager) Get(id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, services.NewDomainError(services.ErrorTypeNotFound, "session not found", nil).
			WithDetail("session_id", id.String())
	}
	return sess, nil
}

// End removes a session and clears its history. A session with a turn in
// progress cannot be ended.
func (m *SessionManager) End(id uuid.UUID) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return services.NewDomainError(services.ErrorTypeNotFound, "session not found", nil).
			WithDetail("session_id", id.String())
	}
	if !sess.tryBeginTurn() {
		m.mu.Unlock()
		return services.NewDomainError(services.ErrorTypeConflict, "cannot end a session while a turn is in progress", nil).
			WithDetail("session_id", id.String())
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	sess.ended.Store(true)
	sess.Clear()
	sess.endTurn()

	m.logger.Info("session ended", zap.String("session_id", id.String()))
	return nil
}

// Count returns the number of live sessions
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

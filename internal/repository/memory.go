package repository

import (
	"context"
	"fmt"
	"sync"

	"company-assistant/internal/domain"
)

type memorySession struct {
	messages []domain.Message
	inFlight bool
}

// MemoryStore keeps session history in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memorySession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*memorySession)}
}

func (s *MemoryStore) session(id string) *memorySession {
	sess, ok := s.sessions[id]
	if !ok {
		sess = &memorySession{}
		s.sessions[id] = sess
	}
	return sess
}

func (s *MemoryStore) Load(_ context.Context, sessionID string) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return domain.CloneHistory(sess.messages), nil
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, offset int, msgs ...domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session(sessionID)
	if len(sess.messages) != offset {
		return fmt.Errorf("repository: Append: history has %d messages, expected %d", len(sess.messages), offset)
	}
	sess.messages = append(sess.messages, msgs...)
	return nil
}

func (s *MemoryStore) Acquire(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session(sessionID)
	if sess.inFlight {
		return domain.ErrSessionBusy
	}
	sess.inFlight = true
	return nil
}

func (s *MemoryStore) Release(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[sessionID]; ok {
		sess.inFlight = false
	}
	return nil
}

func (s *MemoryStore) Reset(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

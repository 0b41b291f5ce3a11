package auth

import (
	"context"
	"sync"
	"time"

	"github.com/music-chat-room/pkg/redis"
)

// MemorySessions keeps sessions in process. It backs single-node local runs
// (SESSION_STORE=memory) and tests; revocations are lost on restart.
type MemorySessions struct {
	mu       sync.Mutex
	sessions map[string]*redis.SessionInfo
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{sessions: make(map[string]*redis.SessionInfo)}
}

func (m *MemorySessions) StoreSession(_ context.Context, sessionID string, session *redis.SessionInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = session
	return nil
}

func (m *MemorySessions) GetSession(_ context.Context, sessionID string) (*redis.SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, redis.ErrSessionNotFound
	}
	if !session.ExpiresAt.IsZero() && time.Now().After(session.ExpiresAt) {
		delete(m.sessions, sessionID)
		return nil, redis.ErrSessionNotFound
	}
	return session, nil
}

func (m *MemorySessions) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemorySessions) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

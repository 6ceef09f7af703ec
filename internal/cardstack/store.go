package cardstack

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Store persists day sessions so pass rotations and unmarks survive page
// reloads. Load returns (nil, nil) when no session exists for the key.
type Store interface {
	Load(ctx context.Context, userID, subID, dateKey string) (*Session, error)
	Save(ctx context.Context, userID, subID, dateKey string, session *Session) error
}

func sessionKey(userID, subID, dateKey string) string {
	return "cardstack:" + userID + ":" + subID + ":" + dateKey
}

// MemoryStore keeps sessions in process memory. The fallback when Redis is
// not configured: state lasts for the process lifetime, which matches the
// single-day scope of a session well enough for dev setups.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]byte)}
}

func (m *MemoryStore) Load(_ context.Context, userID, subID, dateKey string) (*Session, error) {
	m.mu.Lock()
	raw, ok := m.sessions[sessionKey(userID, subID, dateKey)]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var session Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

func (m *MemoryStore) Save(_ context.Context, userID, subID, dateKey string, session *Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	m.mu.Lock()
	m.sessions[sessionKey(userID, subID, dateKey)] = raw
	m.mu.Unlock()
	return nil
}

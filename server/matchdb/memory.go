package matchdb

import (
	"context"
	"fmt"
	"sync"
)

// memoryStore keeps records in-process; used in tests and when no DSN is
// configured.
type memoryStore struct {
	mu      sync.RWMutex
	records map[string]MatchRecord
}

// NewMemory returns an in-memory Store.
func NewMemory() Store {
	return &memoryStore{records: make(map[string]MatchRecord)}
}

func (m *memoryStore) SaveResult(_ context.Context, rec *MatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.SessionID]; ok {
		return fmt.Errorf("session %s: %w", rec.SessionID, ErrDuplicateResult)
	}
	m.records[rec.SessionID] = *rec
	return nil
}

func (m *memoryStore) FetchResult(_ context.Context, sessionID string) (*MatchRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrResultNotFound)
	}
	out := rec
	return &out, nil
}

func (m *memoryStore) Close() error { return nil }

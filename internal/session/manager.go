package session

import (
	"context"
	"fmt"
	"sync"
)

// Manager is a read-through, write-through cache over a Storage backend.
// States returned by Get are shared with the cache; mutate-then-Save is the
// convention.
type Manager struct {
	mu      sync.Mutex
	cache   map[string]*State
	storage Storage
}

// NewManager creates a manager over storage. A nil storage falls back to
// the in-memory backend.
func NewManager(storage Storage) *Manager {
	if storage == nil {
		storage = NewMemoryStorage()
	}
	return &Manager{
		cache:   make(map[string]*State),
		storage: storage,
	}
}

// Get returns the session for chatID, loading and normalizing it from
// storage on a cache miss. A chat with no stored state gets a fresh one.
func (m *Manager) Get(ctx context.Context, chatID string) (*State, error) {
	m.mu.Lock()
	if s, ok := m.cache[chatID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	raw, err := m.storage.Get(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", chatID, err)
	}
	state := Normalize(raw)

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another goroutine may have populated the entry while we were loading;
	// per-chat work is serialized upstream, so last write wins is fine here.
	if s, ok := m.cache[chatID]; ok {
		return s, nil
	}
	m.cache[chatID] = state
	return state, nil
}

// Save updates the cache and then the storage. On storage failure the cache
// keeps the mutated state; a process restart re-reads storage, so
// durability is eventually consistent.
func (m *Manager) Save(ctx context.Context, chatID string, state *State) error {
	if state.Data == nil {
		state.Data = map[string]any{}
	}
	m.mu.Lock()
	m.cache[chatID] = state
	m.mu.Unlock()

	if err := m.storage.Set(ctx, chatID, state); err != nil {
		return fmt.Errorf("save session %s: %w", chatID, err)
	}
	return nil
}

// Delete evicts the cache entry and deletes from storage when supported.
func (m *Manager) Delete(ctx context.Context, chatID string) error {
	m.mu.Lock()
	delete(m.cache, chatID)
	m.mu.Unlock()

	if d, ok := m.storage.(DeletableStorage); ok {
		if err := d.Delete(ctx, chatID); err != nil {
			return fmt.Errorf("delete session %s: %w", chatID, err)
		}
	}
	return nil
}

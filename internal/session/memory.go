package session

import (
	"context"
	"sync"
)

// MemoryStorage is the default in-process session backend.
type MemoryStorage struct {
	mu     sync.RWMutex
	states map[string]*State
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{states: make(map[string]*State)}
}

func (s *MemoryStorage) Get(_ context.Context, chatID string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[chatID]; ok {
		return st, nil
	}
	return nil, nil
}

func (s *MemoryStorage) Set(_ context.Context, chatID string, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[chatID] = state
	return nil
}

func (s *MemoryStorage) Delete(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, chatID)
	return nil
}

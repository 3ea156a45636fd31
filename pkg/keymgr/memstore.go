package keymgr

import (
	"context"
	"sync"
)

// MemoryStore is a KeyStore that keeps everything in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	material *KeyMaterial
	attempts Attempts
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) LoadKeyMaterial(_ context.Context) (*KeyMaterial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.material == nil {
		return nil, ErrNotInitialized
	}
	cp := *s.material
	return &cp, nil
}

func (s *MemoryStore) SaveKeyMaterial(_ context.Context, m *KeyMaterial) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.material = &cp
	return nil
}

func (s *MemoryStore) LoadAttempts(_ context.Context) (Attempts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts, nil
}

func (s *MemoryStore) SaveAttempts(_ context.Context, a Attempts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = a
	return nil
}

package storage

import (
	"context"
	"sync"
)

// MemoryKV is an in-process KV used in tests and as a degraded fallback when
// no durable storage is available. Contents do not survive a restart.
type MemoryKV struct {
	mu     sync.RWMutex
	values map[string]string

	// FailReads / FailWrites force storage errors; tests use them to cover
	// the swallow-and-degrade paths of the queue and cache.
	FailReads  error
	FailWrites error
}

// NewMemoryKV creates an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string]string)}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailReads != nil {
		return "", m.FailReads
	}
	v, ok := m.values[key]
	if !ok {
		return "", ErrKeyNotFound{Key: key}
	}
	return v, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.values[key] = value
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	delete(m.values, key)
	return nil
}

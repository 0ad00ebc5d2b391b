// Package store persists small text blobs under string keys. The caches of
// the enrichment pipeline serialize themselves into a Store.
package store

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by Read when no value exists for the key.
var ErrNotFound = errors.New("store: key not found")

// Store is a flat string-keyed persistent mapping.
type Store interface {
	Read(key string) ([]byte, error)
	Write(key string, data []byte) error
	Close() error
}

// Driver names accepted by Open.
const (
	DriverFile   = "file"
	DriverBadger = "badger"
	DriverMemory = "memory"
)

// Open constructs the Store selected by driver. dir is ignored for the
// memory driver.
func Open(driver, dir string) (Store, error) {
	switch driver {
	case "", DriverFile:
		return NewFileStore(dir)
	case DriverBadger:
		return OpenBadger(dir)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}

// MemoryStore keeps values in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Read(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryStore) Write(key string, data []byte) error {
	v := make([]byte, len(data))
	copy(v, data)
	m.mu.Lock()
	m.data[key] = v
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Close() error { return nil }

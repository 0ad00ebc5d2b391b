// Package cache holds the persistent caches used by the enrichment pipeline.
//
// Each cache is an explicit object built once at startup around a
// store.Store. The whole mapping is serialized as one JSON object under a
// single store key and rewritten on every change. A missing, unreadable or
// corrupt blob yields an empty cache rather than an error.
package cache

import (
	"errors"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	appLog "aircal/internal/log"
	"aircal/internal/store"
)

// Map is a string-keyed, write-through persistent map.
type Map[V any] struct {
	mu      sync.RWMutex
	key     string
	store   store.Store
	entries map[string]V
}

// Load reads key from s. Failures are logged and produce an empty map.
func Load[V any](s store.Store, key string) *Map[V] {
	m := &Map[V]{
		key:     key,
		store:   s,
		entries: make(map[string]V),
	}

	data, err := s.Read(key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return m
	case err != nil:
		appLog.Error("cache read failed; starting empty", err, "cache", key)
		return m
	}

	var entries map[string]V
	if err := json.Unmarshal(data, &entries); err != nil {
		appLog.Error("cache content corrupt; starting empty", err, "cache", key, "bytes", len(data))
		return m
	}
	if entries != nil {
		m.entries = entries
	}
	appLog.Debug("cache loaded", "cache", key, "entries", len(m.entries))
	return m
}

func (m *Map[V]) Get(k string) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[k]
	return v, ok
}

// Set stores v under k and persists the map. A persist failure is logged;
// the in-memory value is kept.
func (m *Map[V]) Set(k string, v V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[k] = v
	m.persistLocked()
}

func (m *Map[V]) Delete(k string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[k]; !ok {
		return false
	}
	delete(m.entries, k)
	m.persistLocked()
	return true
}

func (m *Map[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Keys returns the keys in sorted order.
func (m *Map[V]) Keys() []string {
	m.mu.RLock()
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

func (m *Map[V]) persistLocked() {
	data, err := json.Marshal(m.entries)
	if err != nil {
		appLog.Error("cache encode failed", err, "cache", m.key)
		return
	}
	if err := m.store.Write(m.key, data); err != nil {
		appLog.Error("cache write failed", err, "cache", m.key)
	}
}

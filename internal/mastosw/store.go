package mastosw

import (
	"sort"
	"sync"
)

// Store holds named caches of request key to response snapshot. It is the
// only state shared between concurrent handlers; writes to a single key are
// last-write-wins.
type Store interface {
	// Open creates the named cache if it does not exist yet.
	Open(name string) error
	Names() ([]string, error)
	// Drop deletes a cache and every entry in it.
	Drop(name string) error

	Match(name, key string) (CacheEntry, bool, error)
	Put(name, key string, ent CacheEntry) error
	// PutAll writes every entry or none of them.
	PutAll(name string, ents map[string]CacheEntry) error
	Delete(name, key string) error
	Keys(name string) ([]string, error)

	Close() error
}

type MemoryStore struct {
	mu     sync.RWMutex
	caches map[string]map[string]CacheEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{caches: map[string]map[string]CacheEntry{}}
}

func (m *MemoryStore) Open(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openLocked(name)
	return nil
}

func (m *MemoryStore) openLocked(name string) map[string]CacheEntry {
	c, ok := m.caches[name]
	if !ok {
		c = map[string]CacheEntry{}
		m.caches[name] = c
	}
	return c
}

func (m *MemoryStore) Names() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.caches))
	for n := range m.caches {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) Drop(name string) error {
	m.mu.Lock()
	delete(m.caches, name)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Match(name, key string) (CacheEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ent, ok := m.caches[name][key]
	if !ok {
		return CacheEntry{}, false, nil
	}
	return ent.clone(), true, nil
}

func (m *MemoryStore) Put(name, key string, ent CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openLocked(name)[key] = ent.clone()
	return nil
}

func (m *MemoryStore) PutAll(name string, ents map[string]CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.openLocked(name)
	for k, ent := range ents {
		c[k] = ent.clone()
	}
	return nil
}

func (m *MemoryStore) Delete(name, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.caches[name]; ok {
		delete(c, key)
	}
	return nil
}

func (m *MemoryStore) Keys(name string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.caches[name]
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

package store

import (
	"context"
	"sync"
)

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	opts   Options
	data   map[Scope]map[string]entry
	closed bool
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{opts: opts, data: make(map[Scope]map[string]entry)}
}

func (m *MemoryStore) Get(_ context.Context, scope Scope, key string) (string, bool, error) {
	if err := checkScope(scope); err != nil {
		return "", false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", false, ErrClosed
	}
	e, ok := m.data[scope][key]
	if !ok {
		return "", false, nil
	}
	if e.expired(m.opts.now()) {
		delete(m.data[scope], key)
		return "", false, nil
	}
	return e.Value, true, nil
}

func (m *MemoryStore) Set(_ context.Context, scope Scope, key, value string) error {
	if err := checkScope(scope); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.data[scope] == nil {
		m.data[scope] = make(map[string]entry)
	}
	m.data[scope][key] = newEntry(scope, value, m.opts)
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, scope Scope, key string) error {
	if err := checkScope(scope); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.data[scope], key)
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.data = make(map[Scope]map[string]entry)
	return nil
}

// Len returns the number of live entries across scopes.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	now := m.opts.now()
	for _, entries := range m.data {
		for _, e := range entries {
			if !e.expired(now) {
				n++
			}
		}
	}
	return n
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

package storage

import (
	"context"
	"sync"

	"juxction/core"
)

// MemoryStore is an in-process core.KVStore. Failures can be injected through
// the Fail* fields.
type MemoryStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	durable map[string][]byte

	FailGet    error
	FailSet    error
	FailDelete error
	FailSave   error

	// track method calls for verification
	GetCalls    int
	SetCalls    int
	DeleteCalls int
	SaveCalls   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:    make(map[string][]byte),
		durable: make(map[string][]byte),
	}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetCalls++

	if m.FailGet != nil {
		return nil, m.FailGet
	}
	v, ok := m.data[key]
	if !ok {
		return nil, core.ErrNotFound
	}
	return clone(v), nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetCalls++

	if m.FailSet != nil {
		return m.FailSet
	}
	m.data[key] = clone(value)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls++

	if m.FailDelete != nil {
		return m.FailDelete
	}
	delete(m.data, key)
	return nil
}

func (m *MemoryStore) Save(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveCalls++

	if m.FailSave != nil {
		return m.FailSave
	}
	m.durable = make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		m.durable[k] = clone(v)
	}
	return nil
}

// Persisted returns what the last successful Save wrote for key.
func (m *MemoryStore) Persisted(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.durable[key]
	return clone(v), ok
}

// Counts returns the call counters under the store lock.
func (m *MemoryStore) Counts() (get, set, del, save int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.GetCalls, m.SetCalls, m.DeleteCalls, m.SaveCalls
}

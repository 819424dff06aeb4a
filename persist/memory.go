package persist

import (
	"context"
	"slices"
	"sync"

	adminauth "github.com/chimerakang/adminauth-go"
)

// Memory is an in-process Storage. It does not survive restarts and is
// meant for tests and ephemeral consoles.
type Memory struct {
	mu      sync.RWMutex
	records map[string][]byte
	writes  int
}

// compile-time check
var _ adminauth.Storage = (*Memory)(nil)

// NewMemory creates an empty Memory storage.
func NewMemory() *Memory {
	return &Memory{records: make(map[string][]byte)}
}

func (m *Memory) Load(_ context.Context, namespace string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.records[namespace]), nil
}

func (m *Memory) Save(_ context.Context, namespace string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[namespace] = slices.Clone(data)
	m.writes++
	return nil
}

func (m *Memory) Clear(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, namespace)
	return nil
}

// Writes returns how many times Save was called.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrEmptyName is returned for blank category names
var ErrEmptyName = errors.New("category name is empty")

// Registry is the process-wide set of known category names.
// Names are case-sensitive and listed in insertion order.
type Registry interface {
	List(ctx context.Context) ([]string, error)
	Add(ctx context.Context, name string) (bool, error)
	Remove(ctx context.Context, name string) (bool, error)
	Contains(ctx context.Context, name string) (bool, error)
}

// Memory is a mutex-guarded in-process registry
type Memory struct {
	mu    sync.RWMutex
	names []string
	index map[string]struct{}
}

var _ Registry = (*Memory)(nil)

// NewMemory creates a registry seeded with names
func NewMemory(seed []string) *Memory {
	m := &Memory{index: make(map[string]struct{}, len(seed))}
	for _, name := range seed {
		m.add(name)
	}
	return m
}

// List returns a copy of the known names
func (m *Memory) List(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string{}, m.names...), nil
}

// Add registers name; adding an existing name is a no-op
func (m *Memory) Add(ctx context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, ErrEmptyName
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.add(name), nil
}

func (m *Memory) add(name string) bool {
	if _, ok := m.index[name]; ok || name == "" {
		return false
	}
	m.index[name] = struct{}{}
	m.names = append(m.names, name)
	return true
}

// Remove drops name; removing an absent name is a no-op
func (m *Memory) Remove(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.index[name]; !ok {
		return false, nil
	}
	delete(m.index, name)
	for i, n := range m.names {
		if n == name {
			m.names = append(m.names[:i], m.names[i+1:]...)
			break
		}
	}
	return true, nil
}

// Contains reports whether name is registered
func (m *Memory) Contains(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.index[name]
	return ok, nil
}

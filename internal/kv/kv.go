// Package kv provides the string key-value storage the resolver persists
// into. It mirrors the shape of browser local storage: one string value per
// key, with a missing key distinguished from an empty value.
package kv

import (
	"errors"
	"sync"
)

// ErrNotFound is returned by GetItem when a key has no value.
var ErrNotFound = errors.New("key not found")

// KV is a string key-value store. Implementations serialize individual
// operations; sequences of operations are not atomic.
type KV interface {
	GetItem(key string) (string, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
}

// Clearer is implemented by stores that can drop every key at once.
type Clearer interface {
	Clear() error
}

// Memory is an in-process KV. The zero value is ready to use.
type Memory struct {
	mu    sync.Mutex
	items map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) GetItem(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.items[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) SetItem(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.items == nil {
		m.items = make(map[string]string)
	}
	m.items[key] = value
	return nil
}

func (m *Memory) RemoveItem(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)
	return nil
}

// Clear removes every key.
func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = nil
	return nil
}

// Package storage keeps small values, like a login token, across client
// restarts
package storage

import (
	"sync"
)

// Storage is a key-value store
type Storage interface {
	// Get returns the value stored under key. ok is false if there is none.
	Get(key string) (value []byte, ok bool, err error)
	// Set stores value under key
	Set(key string, value []byte) error
	// Remove deletes the value stored under key, if any
	Remove(key string) error
}

// Memory is a Storage that lives in memory
type Memory struct {
	mu     sync.Mutex
	values map[string][]byte
}

// NewMemory returns an empty Memory storage
func NewMemory() *Memory {
	return &Memory{values: map[string][]byte{}}
}

// Get implements Storage
func (m *Memory) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Set implements Storage
func (m *Memory) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = append([]byte(nil), value...)
	return nil
}

// Remove implements Storage
func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)
	return nil
}

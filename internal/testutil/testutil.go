// Package testutil holds helpers shared by the cache tests.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// WriteEntry creates dir/name holding size bytes and sets both its access
// and modification time to at.
func WriteEntry(t testing.TB, dir, name string, size int, at time.Time) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, bytes.Repeat([]byte{'x'}, size), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	SetAccessTime(t, path, at)
	return path
}

// SetAccessTime sets the access and modification time of path to at.
func SetAccessTime(t testing.TB, path string, at time.Time) {
	t.Helper()
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}
}

// MockStore is an in-memory key/blob store with the asset cache's method set.
// It is safe for concurrent use.
type MockStore struct {
	mu   sync.RWMutex
	data map[string][]byte

	cleared int
}

// NewMockStore constructs an empty store.
func NewMockStore() *MockStore {
	return &MockStore{data: make(map[string][]byte)}
}

// Write stores a copy of blob.
func (m *MockStore) Write(key string, blob []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = bytes.Clone(blob)
}

// Read returns the blob for key.
func (m *MockStore) Read(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.data[key]
	return b, ok
}

// ReadFromDisk behaves like Read.
func (m *MockStore) ReadFromDisk(key string) ([]byte, bool) {
	return m.Read(key)
}

// Delete removes key.
func (m *MockStore) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}

// DeleteAll removes every key.
func (m *MockStore) DeleteAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string][]byte)
	m.cleared++
}

// ListAllBlobs returns every stored blob.
func (m *MockStore) ListAllBlobs() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]byte, 0, len(m.data))
	for _, b := range m.data {
		out = append(out, b)
	}
	return out
}

// Len returns the number of stored keys.
func (m *MockStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Cleared returns how many times DeleteAll was called.
func (m *MockStore) Cleared() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cleared
}

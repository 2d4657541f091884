// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and inspect recorded entries

package store

import (
	"context"
	"sort"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu      sync.RWMutex
	entries []*ExecutionEntry
	closed  bool
	err     error // returned by RecordExecution when set
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// FailWith makes subsequent RecordExecution calls return err.
func (m *MockStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// RecordExecution stores a copy of entry.
func (m *MockStore) RecordExecution(ctx context.Context, entry *ExecutionEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.err != nil {
		return m.err
	}

	// Make a copy to avoid external modification
	e := *entry
	m.entries = append(m.entries, &e)
	return nil
}

// ExecutionHistory returns the entries for execID in insertion order.
func (m *MockStore) ExecutionHistory(ctx context.Context, execID string) ([]*ExecutionEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*ExecutionEntry
	for _, e := range m.entries {
		if e.ExecID == execID {
			c := *e
			out = append(out, &c)
		}
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// RecentExecutions returns the latest entry per execution, newest first.
func (m *MockStore) RecentExecutions(ctx context.Context, limit int) ([]*ExecutionEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	latest := make(map[string]int)
	for i, e := range m.entries {
		latest[e.ExecID] = i
	}
	idx := make([]int, 0, len(latest))
	for _, i := range latest {
		idx = append(idx, i)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(idx)))
	if limit > 0 && len(idx) > limit {
		idx = idx[:limit]
	}

	out := make([]*ExecutionEntry, 0, len(idx))
	for _, i := range idx {
		c := *m.entries[i]
		out = append(out, &c)
	}
	return out, nil
}

// Entries returns every recorded entry.
func (m *MockStore) Entries() []*ExecutionEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ExecutionEntry, len(m.entries))
	for i, e := range m.entries {
		c := *e
		out[i] = &c
	}
	return out
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ABOUTME: Store interface and data types for the execution journal
// ABOUTME: Defines ExecutionEntry and the Store interface for audit persistence

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested execution has no journal entries
var ErrNotFound = errors.New("not found")

// ErrClosed is returned when the store is used after Close
var ErrClosed = errors.New("store closed")

// ExecutionEntry records one lifecycle transition of an execution
type ExecutionEntry struct {
	ExecID     string
	ToolID     string
	Status     string // running, completed, failed, cancelled
	Result     json.RawMessage
	Principal  string
	RecordedAt time.Time
}

// Store is the execution journal. It is written as executions change state
// and read only by operators; nothing is restored from it on startup.
type Store interface {
	// RecordExecution appends one lifecycle entry
	RecordExecution(ctx context.Context, entry *ExecutionEntry) error

	// ExecutionHistory returns every entry for an execution, oldest first.
	// Returns ErrNotFound if there are none.
	ExecutionHistory(ctx context.Context, execID string) ([]*ExecutionEntry, error)

	// RecentExecutions returns the latest entry of up to limit executions, newest first
	RecentExecutions(ctx context.Context, limit int) ([]*ExecutionEntry, error)

	// Close releases the underlying resources
	Close() error
}

// NopStore discards every entry. Used when no journal path is configured.
type NopStore struct{}

func (NopStore) RecordExecution(context.Context, *ExecutionEntry) error { return nil }

func (NopStore) ExecutionHistory(context.Context, string) ([]*ExecutionEntry, error) {
	return nil, ErrNotFound
}

func (NopStore) RecentExecutions(context.Context, int) ([]*ExecutionEntry, error) {
	return nil, nil
}

func (NopStore) Close() error { return nil }

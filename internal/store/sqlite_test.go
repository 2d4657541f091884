// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers schema creation, entry ordering, and recent execution queries

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "journal.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_Memory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.RecordExecution(ctx, &ExecutionEntry{ExecID: "e1", ToolID: "echo", Status: "running"}); err != nil {
		t.Fatalf("RecordExecution failed: %v", err)
	}
	entries, err := store.ExecutionHistory(ctx, "e1")
	if err != nil {
		t.Fatalf("ExecutionHistory failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 entry, got %d", len(entries))
	}
}

func TestRecordAndHistory(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Millisecond)

	if err := store.RecordExecution(ctx, &ExecutionEntry{
		ExecID:     "exec-1",
		ToolID:     "echo",
		Status:     "running",
		Principal:  "alice",
		RecordedAt: start,
	}); err != nil {
		t.Fatalf("RecordExecution failed: %v", err)
	}
	if err := store.RecordExecution(ctx, &ExecutionEntry{
		ExecID:     "exec-1",
		ToolID:     "echo",
		Status:     "completed",
		Result:     []byte(`{"echoed":{"a":1}}`),
		Principal:  "alice",
		RecordedAt: start.Add(time.Second),
	}); err != nil {
		t.Fatalf("RecordExecution failed: %v", err)
	}

	entries, err := store.ExecutionHistory(ctx, "exec-1")
	if err != nil {
		t.Fatalf("ExecutionHistory failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	if entries[0].Status != "running" {
		t.Errorf("expected first status 'running', got %q", entries[0].Status)
	}
	if entries[0].Result != nil {
		t.Errorf("expected nil result for running entry, got %s", entries[0].Result)
	}
	if !entries[0].RecordedAt.Equal(start) {
		t.Errorf("expected RecordedAt %v, got %v", start, entries[0].RecordedAt)
	}
	if entries[1].Status != "completed" {
		t.Errorf("expected second status 'completed', got %q", entries[1].Status)
	}
	if string(entries[1].Result) != `{"echoed":{"a":1}}` {
		t.Errorf("unexpected result: %s", entries[1].Result)
	}
	if entries[1].Principal != "alice" {
		t.Errorf("expected principal 'alice', got %q", entries[1].Principal)
	}
}

func TestExecutionHistory_NotFound(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.ExecutionHistory(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordExecution_DefaultsTimestamp(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	before := time.Now().UTC().Add(-time.Second)
	if err := store.RecordExecution(ctx, &ExecutionEntry{ExecID: "e", ToolID: "t", Status: "running"}); err != nil {
		t.Fatalf("RecordExecution failed: %v", err)
	}

	entries, err := store.ExecutionHistory(ctx, "e")
	if err != nil {
		t.Fatalf("ExecutionHistory failed: %v", err)
	}
	if entries[0].RecordedAt.Before(before) {
		t.Errorf("expected RecordedAt to be filled with now, got %v", entries[0].RecordedAt)
	}
}

func TestRecentExecutions(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("exec-%d", i)
		for _, status := range []string{"running", "completed"} {
			if err := store.RecordExecution(ctx, &ExecutionEntry{ExecID: id, ToolID: "echo", Status: status}); err != nil {
				t.Fatalf("RecordExecution failed: %v", err)
			}
		}
	}

	recent, err := store.RecentExecutions(ctx, 2)
	if err != nil {
		t.Fatalf("RecentExecutions failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(recent))
	}
	if recent[0].ExecID != "exec-2" || recent[1].ExecID != "exec-1" {
		t.Errorf("expected newest first, got %s, %s", recent[0].ExecID, recent[1].ExecID)
	}
	for _, e := range recent {
		if e.Status != "completed" {
			t.Errorf("expected latest status 'completed' for %s, got %q", e.ExecID, e.Status)
		}
	}
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	return store
}

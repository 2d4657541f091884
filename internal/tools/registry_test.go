// ABOUTME: Tests for the tool registry including duplicate detection and packs.
// ABOUTME: Validates sealing, lookup, listing, and schema-based input validation.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func noopHandler(ctx context.Context, call *Call) (any, error) {
	return nil, nil
}

func TestRegistryRegister(t *testing.T) {
	t.Run("registers tool successfully", func(t *testing.T) {
		registry := NewRegistry(slog.Default())

		id, err := registry.Register("echo", Metadata{Name: "Echo", Description: "Echo input"}, noopHandler)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id != "echo" {
			t.Errorf("expected id 'echo', got '%s'", id)
		}

		meta, err := registry.Describe("echo")
		if err != nil {
			t.Fatalf("Describe() error: %v", err)
		}
		if meta.Name != "Echo" {
			t.Errorf("expected name 'Echo', got '%s'", meta.Name)
		}
	})

	t.Run("duplicate id fails and keeps the first", func(t *testing.T) {
		registry := NewRegistry(nil)

		if _, err := registry.Register("echo", Metadata{Name: "first"}, noopHandler); err != nil {
			t.Fatalf("unexpected error on first register: %v", err)
		}
		_, err := registry.Register("echo", Metadata{Name: "second"}, noopHandler)
		if !errors.Is(err, ErrToolAlreadyRegistered) {
			t.Fatalf("expected ErrToolAlreadyRegistered, got %v", err)
		}

		meta, _ := registry.Describe("echo")
		if meta.Name != "first" {
			t.Errorf("expected first registration to survive, got '%s'", meta.Name)
		}
	})

	t.Run("empty id fails", func(t *testing.T) {
		registry := NewRegistry(nil)
		_, err := registry.Register("", Metadata{}, noopHandler)
		if !errors.Is(err, ErrEmptyToolID) {
			t.Errorf("expected ErrEmptyToolID, got %v", err)
		}
	})

	t.Run("nil handler fails", func(t *testing.T) {
		registry := NewRegistry(nil)
		_, err := registry.Register("x", Metadata{}, nil)
		if !errors.Is(err, ErrMissingHandler) {
			t.Errorf("expected ErrMissingHandler, got %v", err)
		}
	})

	t.Run("invalid schema fails", func(t *testing.T) {
		registry := NewRegistry(nil)
		_, err := registry.Register("x", Metadata{InputSchema: json.RawMessage(`{"type":12}`)}, noopHandler)
		if err == nil {
			t.Error("expected error for invalid schema")
		}
		if registry.Len() != 0 {
			t.Errorf("expected nothing registered, got %d", registry.Len())
		}
	})

	t.Run("sealed registry rejects registration", func(t *testing.T) {
		registry := NewRegistry(nil)
		registry.Seal()
		_, err := registry.Register("late", Metadata{}, noopHandler)
		if !errors.Is(err, ErrRegistrySealed) {
			t.Errorf("expected ErrRegistrySealed, got %v", err)
		}
	})
}

func TestRegistryRegisterPack(t *testing.T) {
	t.Run("registers all tools", func(t *testing.T) {
		registry := NewRegistry(nil)
		err := registry.RegisterPack(&Pack{
			ID: "builtin:test",
			Tools: []*Tool{
				{ID: "a", Handler: noopHandler},
				{ID: "b", Handler: noopHandler},
			},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := registry.PackTools("builtin:test"); len(got) != 2 {
			t.Errorf("expected 2 pack tools, got %v", got)
		}
	})

	t.Run("collision registers nothing", func(t *testing.T) {
		registry := NewRegistry(nil)
		if _, err := registry.Register("b", Metadata{}, noopHandler); err != nil {
			t.Fatal(err)
		}
		err := registry.RegisterPack(&Pack{
			ID:    "builtin:test",
			Tools: []*Tool{{ID: "a", Handler: noopHandler}, {ID: "b", Handler: noopHandler}},
		})
		if !errors.Is(err, ErrToolAlreadyRegistered) {
			t.Fatalf("expected ErrToolAlreadyRegistered, got %v", err)
		}
		if _, ok := registry.Lookup("a"); ok {
			t.Error("expected tool 'a' not to be registered after collision")
		}
	})

	t.Run("duplicate within pack", func(t *testing.T) {
		registry := NewRegistry(nil)
		err := registry.RegisterPack(&Pack{
			ID:    "builtin:test",
			Tools: []*Tool{{ID: "a", Handler: noopHandler}, {ID: "a", Handler: noopHandler}},
		})
		if !errors.Is(err, ErrToolAlreadyRegistered) {
			t.Errorf("expected ErrToolAlreadyRegistered, got %v", err)
		}
	})
}

func TestRegistryListAndDescribe(t *testing.T) {
	registry := NewRegistry(nil)
	for _, id := range []string{"zeta", "alpha", "mid"} {
		if _, err := registry.Register(id, Metadata{Name: id}, noopHandler); err != nil {
			t.Fatal(err)
		}
	}

	list := registry.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(list))
	}
	if list[0].ID != "alpha" || list[2].ID != "zeta" {
		t.Errorf("expected sorted ids, got %v", list)
	}

	data, err := json.Marshal(list[0])
	if err != nil {
		t.Fatal(err)
	}
	var flat map[string]any
	_ = json.Unmarshal(data, &flat)
	if flat["id"] != "alpha" || flat["name"] != "alpha" {
		t.Errorf("expected flattened id and name, got %s", data)
	}

	_, err = registry.Describe("missing")
	if !errors.Is(err, ErrToolNotFound) {
		t.Errorf("expected ErrToolNotFound, got %v", err)
	}
}

func TestRegistryConcurrentLookup(t *testing.T) {
	registry := NewRegistry(nil)
	if _, err := registry.Register("echo", Metadata{}, noopHandler); err != nil {
		t.Fatal(err)
	}
	registry.Seal()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := registry.Lookup("echo"); !ok {
				t.Error("expected lookup to succeed")
			}
			_ = registry.List()
		}()
	}
	wg.Wait()
}

func TestRegistrySealedReadsTakeNoLock(t *testing.T) {
	registry := NewRegistry(nil)
	if _, err := registry.Register("echo", Metadata{}, noopHandler); err != nil {
		t.Fatal(err)
	}
	registry.Seal()

	registry.mu.Lock()
	defer registry.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, ok := registry.Lookup("echo"); !ok {
			t.Error("expected lookup to succeed")
		}
		if got := len(registry.List()); got != 1 {
			t.Errorf("expected 1 tool, got %d", got)
		}
		_ = registry.Len()
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reads blocked on the registry lock after sealing")
	}
}

func TestToolValidateInput(t *testing.T) {
	registry := NewRegistry(nil)
	schema := json.RawMessage(`{"type":"object","properties":{"seconds":{"type":"integer","minimum":1}},"required":["seconds"]}`)
	if _, err := registry.Register("countdown", Metadata{InputSchema: schema}, noopHandler); err != nil {
		t.Fatal(err)
	}
	tool, _ := registry.Lookup("countdown")

	if err := tool.ValidateInput(json.RawMessage(`{"seconds":3}`)); err != nil {
		t.Errorf("expected valid input, got %v", err)
	}
	for _, bad := range []string{`{"seconds":0}`, `{}`, ``, `{"seconds":"3"}`} {
		if err := tool.ValidateInput(json.RawMessage(bad)); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("input %q: expected ErrInvalidInput, got %v", bad, err)
		}
	}
}

func TestCallHooks(t *testing.T) {
	var progressed []any
	var cancel CancelFunc
	call := NewCall("E", "echo", json.RawMessage(`{"x":1}`), CallContext{ConnectionID: "c1"},
		func(d any) { progressed = append(progressed, d) },
		func(fn CancelFunc) { cancel = fn },
	)

	call.Progress(1)
	call.SetCancel(func(ctx context.Context) error { return nil })
	if len(progressed) != 1 || cancel == nil {
		t.Errorf("expected hooks to be invoked, got progress=%v cancel=%v", progressed, cancel != nil)
	}

	var in struct{ X int }
	if err := call.Bind(&in); err != nil || in.X != 1 {
		t.Errorf("Bind() = %v, X=%d", err, in.X)
	}

	// Nil hooks are tolerated.
	NewCall("E", "echo", nil, CallContext{}, nil, nil).Progress("ignored")
}

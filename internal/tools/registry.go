// ABOUTME: Registry of tools available for execution, populated once at startup.
// ABOUTME: Rejects empty or duplicate ids and is sealed before the listener starts.

package tools

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

// ErrEmptyToolID indicates a registration without an id.
var ErrEmptyToolID = errors.New("tool id must not be empty")

// ErrToolAlreadyRegistered indicates the id is taken; the first registration is kept.
var ErrToolAlreadyRegistered = errors.New("tool already registered")

// ErrToolNotFound indicates the requested tool is not registered.
var ErrToolNotFound = errors.New("tool not found")

// ErrMissingHandler indicates a registration without a handler.
var ErrMissingHandler = errors.New("tool handler must not be nil")

// ErrRegistrySealed indicates a registration after startup.
var ErrRegistrySealed = errors.New("tool registry is sealed")

// Pack is a group of tools registered together.
type Pack struct {
	ID    string
	Tools []*Tool
}

// Registry maps tool ids to tools.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	packs  map[string][]string // pack ID -> tool IDs
	sealed atomic.Bool         // once set, the maps are never written again
	logger *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		packs:  make(map[string][]string),
		logger: logger,
	}
}

// Register stores one tool and returns its id.
func (r *Registry) Register(id string, meta Metadata, handler Handler) (string, error) {
	tool := &Tool{ID: id, Metadata: meta, Handler: handler}
	if err := r.add("", []*Tool{tool}); err != nil {
		return "", err
	}
	return id, nil
}

// RegisterPack registers every tool of a pack, or none of them.
func (r *Registry) RegisterPack(pack *Pack) error {
	if err := r.add(pack.ID, pack.Tools); err != nil {
		return fmt.Errorf("registering pack %q: %w", pack.ID, err)
	}
	r.logger.Info("tool pack registered",
		"pack_id", pack.ID,
		"tool_count", len(pack.Tools),
	)
	return nil
}

// add validates all tools before storing any of them.
func (r *Registry) add(packID string, tools []*Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed.Load() {
		return ErrRegistrySealed
	}

	batch := make(map[string]bool, len(tools))
	for _, tool := range tools {
		if tool.ID == "" {
			return ErrEmptyToolID
		}
		if tool.Handler == nil {
			return fmt.Errorf("%w: %q", ErrMissingHandler, tool.ID)
		}
		if _, exists := r.tools[tool.ID]; exists || batch[tool.ID] {
			return fmt.Errorf("%w: %q", ErrToolAlreadyRegistered, tool.ID)
		}
		batch[tool.ID] = true
		if err := tool.compileSchema(); err != nil {
			return err
		}
	}

	for _, tool := range tools {
		r.tools[tool.ID] = tool
		if packID != "" {
			r.packs[packID] = append(r.packs[packID], tool.ID)
		}
		r.logger.Debug("tool registered", "tool_id", tool.ID, "pack_id", packID)
	}
	return nil
}

// Seal stops further registrations.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed.Store(true)
	r.logger.Info("tool registry sealed", "total_tools", len(r.tools))
}

// readLock takes the read lock until the registry is sealed; a sealed
// registry is read without locking.
func (r *Registry) readLock() (unlock func()) {
	if r.sealed.Load() {
		return func() {}
	}
	r.mu.RLock()
	return r.mu.RUnlock
}

// Lookup finds a tool by id.
func (r *Registry) Lookup(id string) (*Tool, bool) {
	defer r.readLock()()
	tool, ok := r.tools[id]
	return tool, ok
}

// Describe returns the metadata for one tool.
func (r *Registry) Describe(id string) (Metadata, error) {
	tool, ok := r.Lookup(id)
	if !ok {
		return Metadata{}, fmt.Errorf("%w: %q", ErrToolNotFound, id)
	}
	return tool.Metadata, nil
}

// List returns every registered tool, sorted by id.
func (r *Registry) List() []Info {
	defer r.readLock()()

	out := make([]Info, 0, len(r.tools))
	for id, tool := range r.tools {
		out = append(out, Info{ID: id, Metadata: tool.Metadata})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PackTools returns the ids registered by a pack.
func (r *Registry) PackTools(packID string) []string {
	defer r.readLock()()
	ids := make([]string, len(r.packs[packID]))
	copy(ids, r.packs[packID])
	return ids
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	defer r.readLock()()
	return len(r.tools)
}

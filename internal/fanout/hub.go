// ABOUTME: In-memory fan-out of execution events to subscribed connections
// ABOUTME: Keeps per-execution subscriber sets plus a reverse index for connection teardown

package fanout

import (
	"log/slog"
	"sync"

	"github.com/2389/ble-gateway/internal/protocol"
)

// Subscriber receives envelopes. Connections implement it.
type Subscriber interface {
	ID() string
	Send(env *protocol.Envelope) error
}

// Hub tracks which subscribers receive which execution's events.
type Hub struct {
	mu     sync.RWMutex
	sets   map[string]map[string]Subscriber // execID -> subID -> subscriber
	bySub  map[string]map[string]struct{}   // subID -> execIDs
	logger *slog.Logger
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		sets:   make(map[string]map[string]Subscriber),
		bySub:  make(map[string]map[string]struct{}),
		logger: logger.With("component", "fanout"),
	}
}

// Add puts sub in execID's set. Adding twice is a no-op.
func (h *Hub) Add(execID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.sets[execID]
	if !ok {
		set = make(map[string]Subscriber)
		h.sets[execID] = set
	}
	set[sub.ID()] = sub

	execs, ok := h.bySub[sub.ID()]
	if !ok {
		execs = make(map[string]struct{})
		h.bySub[sub.ID()] = execs
	}
	execs[execID] = struct{}{}

	h.logger.Debug("subscriber added", "exec_id", execID, "sub_id", sub.ID())
}

// Remove takes sub out of execID's set. Removing an absent subscriber is a no-op.
func (h *Hub) Remove(execID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(execID, sub.ID())
}

// RemoveSubscriber takes sub out of every set it belongs to and returns how many.
func (h *Hub) RemoveSubscriber(sub Subscriber) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	execs := h.bySub[sub.ID()]
	n := len(execs)
	for execID := range execs {
		h.removeLocked(execID, sub.ID())
	}
	return n
}

// Drop forgets execID's set entirely.
func (h *Hub) Drop(execID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for subID := range h.sets[execID] {
		h.removeLocked(execID, subID)
	}
}

// removeLocked must be called with mu held.
func (h *Hub) removeLocked(execID, subID string) {
	if set, ok := h.sets[execID]; ok {
		delete(set, subID)
		if len(set) == 0 {
			delete(h.sets, execID)
		}
	}
	if execs, ok := h.bySub[subID]; ok {
		delete(execs, execID)
		if len(execs) == 0 {
			delete(h.bySub, subID)
		}
	}
}

// Subscribers returns a snapshot of execID's set.
func (h *Hub) Subscribers(execID string) []Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()

	set := h.sets[execID]
	out := make([]Subscriber, 0, len(set))
	for _, sub := range set {
		out = append(out, sub)
	}
	return out
}

// IsSubscribed reports whether sub is in execID's set.
func (h *Hub) IsSubscribed(execID string, sub Subscriber) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sets[execID][sub.ID()]
	return ok
}

// Broadcast sends env to every current subscriber of execID and returns the
// number of successful sends. A failed send is logged and skipped; the
// subscriber stays in the set until its connection closes.
func (h *Hub) Broadcast(execID string, env *protocol.Envelope) int {
	// Copy targets under read lock to avoid holding lock during sends
	targets := h.Subscribers(execID)

	sent := 0
	for _, sub := range targets {
		if err := sub.Send(env); err != nil {
			h.logger.Debug("broadcast send failed",
				"exec_id", execID,
				"sub_id", sub.ID(),
				"error", err)
			continue
		}
		sent++
	}
	return sent
}

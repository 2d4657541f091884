// ABOUTME: Execution record and its status transitions.
// ABOUTME: Snapshot is the read-only view returned to callers and sent on the wire.

package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/2389/ble-gateway/internal/protocol"
	"github.com/2389/ble-gateway/internal/tools"
)

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

func (s Status) event() protocol.EventKind {
	switch s {
	case StatusCompleted:
		return protocol.EventCompleted
	case StatusFailed:
		return protocol.EventFailed
	case StatusCancelled:
		return protocol.EventCancelled
	}
	return protocol.EventProgress
}

// Snapshot is a point-in-time copy of an execution record.
type Snapshot struct {
	ExecID      string          `json:"execId"`
	ToolID      string          `json:"toolId"`
	Status      Status          `json:"status"`
	Result      json.RawMessage `json:"result"`
	Cancellable bool            `json:"cancellable"`
	StartedAt   time.Time       `json:"startedAt"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
}

type execution struct {
	id        string
	toolID    string
	principal string
	startedAt time.Time
	done      chan struct{}
	stop      context.CancelFunc

	mu         sync.Mutex
	status     Status
	result     json.RawMessage
	finishedAt time.Time
	cancel     tools.CancelFunc
	cancelling bool
	pending    *pendingFinish
}

// pendingFinish holds a handler outcome that arrived while a cancel
// capability was still running.
type pendingFinish struct {
	status Status
	result json.RawMessage
	cancel tools.CancelFunc
}

func (x *execution) snapshot() Snapshot {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.snapshotLocked()
}

func (x *execution) snapshotLocked() Snapshot {
	s := Snapshot{
		ExecID:      x.id,
		ToolID:      x.toolID,
		Status:      x.status,
		Result:      x.result,
		Cancellable: x.cancel != nil && !x.status.Terminal(),
		StartedAt:   x.startedAt,
	}
	if x.status.Terminal() {
		at := x.finishedAt
		s.FinishedAt = &at
	}
	return s
}

func (x *execution) setCancel(fn tools.CancelFunc) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.status.Terminal() {
		return
	}
	x.cancel = fn
}

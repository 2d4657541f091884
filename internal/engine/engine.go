// ABOUTME: Execution engine that starts tool handlers and drives their records to a terminal state.
// ABOUTME: Broadcasts progress and terminal events through the fan-out hub and journals transitions.

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/2389/ble-gateway/internal/fanout"
	"github.com/2389/ble-gateway/internal/protocol"
	"github.com/2389/ble-gateway/internal/store"
	"github.com/2389/ble-gateway/internal/tools"
)

var (
	// ErrExecutionNotFound indicates the execId is unknown or was evicted.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrNotCancellable indicates the execution has no cancel capability or already finished.
	ErrNotCancellable = errors.New("execution not cancellable")

	// ErrCancelFailed indicates the handler's cancel capability returned an error.
	ErrCancelFailed = errors.New("cancel failed")
)

// ExecuteRequest describes one tool invocation.
type ExecuteRequest struct {
	ToolID  string
	Input   json.RawMessage
	Context tools.CallContext

	// Initiator is subscribed to the execution before it starts. May be nil.
	Initiator fanout.Subscriber

	// OnStarted runs synchronously after the record exists and before the
	// handler is launched.
	OnStarted func(Snapshot)
}

// Stats counts retained executions by status.
type Stats struct {
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Total is the number of retained executions.
func (s Stats) Total() int {
	return s.Running + s.Completed + s.Failed + s.Cancelled
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithJournal records every status transition in s.
func WithJournal(s store.Store) Option {
	return func(e *Engine) {
		if s != nil {
			e.journal = s
		}
	}
}

// WithIDGenerator replaces NewID.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// WithClock replaces time.Now for record and event timestamps.
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// WithMaxRetained bounds the number of terminal records kept. Zero keeps all.
func WithMaxRetained(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.retention = newRetention(n)
		}
	}
}

// Engine owns execution records for the life of the process.
type Engine struct {
	registry *tools.Registry
	hub      *fanout.Hub
	journal  store.Store
	logger   *slog.Logger
	newID    func() string
	now      func() time.Time

	// handlers run under base, not under the request that started them
	base     context.Context
	stopBase context.CancelFunc
	wg       sync.WaitGroup

	mu        sync.RWMutex
	execs     map[string]*execution
	retention *retention
}

// New creates an engine over a sealed registry.
func New(registry *tools.Registry, hub *fanout.Hub, opts ...Option) *Engine {
	base, stop := context.WithCancel(context.Background())
	e := &Engine{
		registry: registry,
		hub:      hub,
		journal:  store.NopStore{},
		logger:   slog.Default(),
		newID:    NewID,
		now:      time.Now,
		base:     base,
		stopBase: stop,
		execs:    make(map[string]*execution),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine")
	return e
}

// Execute creates a running record, subscribes the initiator, acknowledges
// through req.OnStarted and launches the handler. It returns the record as
// it was when OnStarted ran.
func (e *Engine) Execute(ctx context.Context, req ExecuteRequest) (Snapshot, error) {
	tool, ok := e.registry.Lookup(req.ToolID)
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", tools.ErrToolNotFound, req.ToolID)
	}
	if err := tool.ValidateInput(req.Input); err != nil {
		return Snapshot{}, err
	}

	handlerCtx, stop := context.WithCancel(e.base)
	x := &execution{
		id:        e.newID(),
		toolID:    tool.ID,
		principal: req.Context.Principal,
		startedAt: e.now(),
		done:      make(chan struct{}),
		stop:      stop,
		status:    StatusRunning,
	}

	e.mu.Lock()
	e.execs[x.id] = x
	e.mu.Unlock()

	if req.Initiator != nil {
		e.hub.Add(x.id, req.Initiator)
	}
	e.record(ctx, x, StatusRunning, nil)

	snap := x.snapshot()
	if req.OnStarted != nil {
		req.OnStarted(snap)
	}

	e.logger.Info("execution started",
		"exec_id", x.id,
		"tool_id", x.toolID,
		"conn_id", req.Context.ConnectionID)

	e.wg.Add(1)
	go e.run(handlerCtx, tool, x, req)

	return snap, nil
}

func (e *Engine) run(ctx context.Context, tool *tools.Tool, x *execution, req ExecuteRequest) {
	defer e.wg.Done()
	defer x.stop()

	call := tools.NewCall(x.id, x.toolID, req.Input, req.Context,
		func(data any) { e.progress(x, data) },
		x.setCancel,
	)

	value, err := invoke(ctx, tool.Handler, call)
	if err != nil {
		e.finish(x, StatusFailed, errorResult(err), nil)
		return
	}

	var cancel tools.CancelFunc
	switch v := value.(type) {
	case tools.Cancellable:
		value, cancel = v.Result, v.Cancel
	case *tools.Cancellable:
		if v != nil {
			value, cancel = v.Result, v.Cancel
		}
	}

	result, err := json.Marshal(value)
	if err != nil {
		e.finish(x, StatusFailed, errorResult(fmt.Errorf("encoding result: %w", err)), nil)
		return
	}
	e.finish(x, StatusCompleted, result, cancel)
}

// invoke converts a handler panic into an error.
func invoke(ctx context.Context, h tools.Handler, call *tools.Call) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, call)
}

func errorResult(err error) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{"error": err.Error()})
	return raw
}

func (e *Engine) progress(x *execution, data any) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.status.Terminal() {
		e.logger.Debug("dropping progress after terminal state",
			"exec_id", x.id,
			"status", x.status)
		return
	}

	env, err := protocol.ToolEvent(protocol.EventProgress, x.id, x.toolID, data, e.now())
	if err != nil {
		e.logger.Warn("dropping unencodable progress", "exec_id", x.id, "error", err)
		return
	}
	e.hub.Broadcast(x.id, env)
}

// finish moves x to a terminal status and broadcasts the matching event.
// It reports false if x was already terminal.
func (e *Engine) finish(x *execution, status Status, result json.RawMessage, cancel tools.CancelFunc) bool {
	x.mu.Lock()
	if x.status.Terminal() {
		current := x.status
		x.mu.Unlock()
		e.logger.Debug("ignoring transition of finished execution",
			"exec_id", x.id,
			"status", current,
			"attempted", status)
		return false
	}
	if x.cancelling && status != StatusCancelled {
		// Cancel decides the outcome once its capability returns.
		x.pending = &pendingFinish{status: status, result: result, cancel: cancel}
		x.mu.Unlock()
		return false
	}

	x.status = status
	x.cancelling = false
	x.pending = nil
	x.result = result
	x.finishedAt = e.now()
	if cancel != nil {
		x.cancel = cancel
	}

	var data any
	if result != nil {
		data = result
	}
	env, err := protocol.ToolEvent(status.event(), x.id, x.toolID, data, x.finishedAt)
	if err != nil {
		e.logger.Error("encoding terminal event", "exec_id", x.id, "error", err)
	} else {
		e.hub.Broadcast(x.id, env)
	}
	close(x.done)
	x.mu.Unlock()

	e.logger.Info("execution finished",
		"exec_id", x.id,
		"tool_id", x.toolID,
		"status", status,
		"duration", x.finishedAt.Sub(x.startedAt))

	e.record(context.Background(), x, status, result)
	e.retire(x.id)
	return true
}

func (e *Engine) record(ctx context.Context, x *execution, status Status, result json.RawMessage) {
	err := e.journal.RecordExecution(ctx, &store.ExecutionEntry{
		ExecID:     x.id,
		ToolID:     x.toolID,
		Status:     string(status),
		Result:     result,
		Principal:  x.principal,
		RecordedAt: e.now(),
	})
	if err != nil {
		e.logger.Warn("failed to journal execution", "exec_id", x.id, "status", status, "error", err)
	}
}

func (e *Engine) retire(id string) {
	e.mu.Lock()
	if e.retention == nil {
		e.mu.Unlock()
		return
	}
	evicted := e.retention.push(id)
	for _, old := range evicted {
		delete(e.execs, old)
	}
	e.mu.Unlock()

	for _, old := range evicted {
		e.hub.Drop(old)
		e.logger.Debug("evicted execution record", "exec_id", old)
	}
}

func (e *Engine) lookup(id string) (*execution, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	x, ok := e.execs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}
	return x, nil
}

// Status returns the current record for id without waiting.
func (e *Engine) Status(id string) (Snapshot, error) {
	x, err := e.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return x.snapshot(), nil
}

// Cancel invokes the execution's cancel capability. On success the record
// becomes cancelled and the handler's context is cancelled. If the
// capability fails, the record stays running and ErrCancelFailed is returned.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	x, err := e.lookup(id)
	if err != nil {
		return err
	}

	x.mu.Lock()
	if x.status.Terminal() || x.cancel == nil {
		x.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotCancellable, id)
	}
	if x.cancelling {
		x.mu.Unlock()
		return fmt.Errorf("%w: cancel already in progress", ErrCancelFailed)
	}
	x.cancelling = true
	fn := x.cancel
	x.mu.Unlock()

	// The capability may block, so it runs without the record lock.
	if err := callCancel(ctx, fn); err != nil {
		x.mu.Lock()
		x.cancelling = false
		pending := x.pending
		x.pending = nil
		x.mu.Unlock()
		e.logger.Warn("cancel capability failed", "exec_id", id, "error", err)
		if pending != nil {
			e.finish(x, pending.status, pending.result, pending.cancel)
		}
		return fmt.Errorf("%w: %v", ErrCancelFailed, err)
	}

	if !e.finish(x, StatusCancelled, nil, nil) {
		return fmt.Errorf("%w: %s finished before cancel took effect", ErrNotCancellable, id)
	}
	x.stop()
	return nil
}

func callCancel(ctx context.Context, fn tools.CancelFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cancel panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Subscribe adds sub to id's event stream. Earlier events are not replayed.
func (e *Engine) Subscribe(id string, sub fanout.Subscriber) error {
	if _, err := e.lookup(id); err != nil {
		return err
	}
	e.hub.Add(id, sub)
	return nil
}

// Unsubscribe removes sub from id's event stream. Unknown ids are ignored.
func (e *Engine) Unsubscribe(id string, sub fanout.Subscriber) {
	e.hub.Remove(id, sub)
}

// Wait blocks until id is terminal or ctx is done.
func (e *Engine) Wait(ctx context.Context, id string) (Snapshot, error) {
	x, err := e.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	select {
	case <-x.done:
		return x.snapshot(), nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// List returns every retained record ordered by start time.
func (e *Engine) List() []Snapshot {
	e.mu.RLock()
	execs := make([]*execution, 0, len(e.execs))
	for _, x := range e.execs {
		execs = append(execs, x)
	}
	e.mu.RUnlock()

	out := make([]Snapshot, 0, len(execs))
	for _, x := range execs {
		out = append(out, x.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ExecID < out[j].ExecID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Stats counts retained records by status.
func (e *Engine) Stats() Stats {
	var s Stats
	for _, snap := range e.List() {
		switch snap.Status {
		case StatusRunning:
			s.Running++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

// Shutdown cancels every handler context and waits for handlers to return.
// Records still running when a handler ignores its context stay running.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.stopBase()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		stats := e.Stats()
		e.logger.Warn("shutdown timed out with handlers still running", "running", stats.Running)
		return ctx.Err()
	}
}

// ABOUTME: Tests for tool discovery and execution control over a live connection
// ABOUTME: Covers event ordering, cancellation outcomes, subscriptions, and disconnects

package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/ble-gateway/internal/engine"
	"github.com/2389/ble-gateway/internal/protocol"
	"github.com/2389/ble-gateway/internal/tools"
)

// execute starts toolID and returns the execution id from the .started answer.
func (w *wireConn) execute(id, toolID string, input any) string {
	w.t.Helper()
	payload := map[string]any{"toolId": toolID}
	if input != nil {
		payload["input"] = input
	}
	resp := w.call(protocol.TypeToolExecute, id, payload)
	require.Equal(w.t, protocol.MessageType("mcp.tool.execute.started"), resp.Type, "payload: %s", resp.Payload)

	var s ExecStartedResponse
	require.NoError(w.t, resp.Bind(&s))
	require.NotEmpty(w.t, s.ExecID)
	assert.Equal(w.t, toolID, s.ToolID)
	return s.ExecID
}

func TestToolsDiscover(t *testing.T) {
	_, addr := startGateway(t, testConfig(t))
	w := dialAuthed(t, addr)

	resp := w.call(protocol.TypeToolsDiscover, "d", nil)
	require.Equal(t, protocol.MessageType("mcp.tools.discover.result"), resp.Type)

	var p ToolsResponse
	require.NoError(t, resp.Bind(&p))
	ids := make([]string, 0, len(p.Tools))
	for _, tool := range p.Tools {
		ids = append(ids, tool.ID)
	}
	assert.Subset(t, ids, []string{"echo", "countdown", "ble.scan", "ble.watch"})
}

func TestToolInfo(t *testing.T) {
	_, addr := startGateway(t, testConfig(t))
	w := dialAuthed(t, addr)

	resp := w.call(protocol.TypeToolInfo, "i1", map[string]string{"toolId": "countdown"})
	require.Equal(t, protocol.MessageType("mcp.tool.info.result"), resp.Type)
	var info tools.Info
	require.NoError(t, resp.Bind(&info))
	assert.Equal(t, "countdown", info.ID)
	assert.True(t, info.Cancellable)

	resp = w.call(protocol.TypeToolInfo, "i2", map[string]string{"toolId": "nope"})
	expectError(t, resp, protocol.CodeToolNotFound)

	resp = w.call(protocol.TypeToolInfo, "i3", nil)
	p := expectError(t, resp, protocol.CodeMissingField)
	assert.Equal(t, "toolId", p.Message)
}

func TestExecute_EchoEventOrder(t *testing.T) {
	_, addr := startGateway(t, testConfig(t))
	w := dialAuthed(t, addr)

	execID := w.execute("x1", "echo", map[string]any{"hello": "world"})

	kind, gotID, data := toolEvent(t, w.next())
	assert.Equal(t, protocol.EventProgress, kind)
	assert.Equal(t, execID, gotID)
	assert.JSONEq(t, `{"percent":100}`, string(data))

	kind, gotID, data = toolEvent(t, w.next())
	assert.Equal(t, protocol.EventCompleted, kind)
	assert.Equal(t, execID, gotID)
	assert.JSONEq(t, `{"echoed":{"hello":"world"}}`, string(data))

	resp := w.call(protocol.TypeExecStatus, "s1", map[string]string{"execId": execID})
	require.Equal(t, protocol.MessageType("mcp.exec.status.result"), resp.Type)
	var snap engine.Snapshot
	require.NoError(t, resp.Bind(&snap))
	assert.Equal(t, engine.StatusCompleted, snap.Status)
	assert.JSONEq(t, `{"echoed":{"hello":"world"}}`, string(snap.Result))
}

func TestExecute_Errors(t *testing.T) {
	_, addr := startGateway(t, testConfig(t))
	w := dialAuthed(t, addr)

	resp := w.call(protocol.TypeToolExecute, "e1", map[string]any{})
	p := expectError(t, resp, protocol.CodeMissingField)
	assert.Equal(t, "toolId", p.Message)

	resp = w.call(protocol.TypeToolExecute, "e2", map[string]any{"toolId": "missing"})
	expectError(t, resp, protocol.CodeToolNotFound)

	resp = w.call(protocol.TypeToolExecute, "e3", map[string]any{"toolId": "echo", "input": "not an object"})
	expectError(t, resp, protocol.CodeInvalidInput)

	resp = w.call(protocol.TypeToolExecute, "e4", json.RawMessage(`{"toolId":5}`))
	expectError(t, resp, protocol.CodeInvalidPayload)

	// A payload that is not an object is a malformed envelope.
	w.writeRaw(`{"type":"mcp.tool.execute","id":"e5","payload":"just a string"}` + "\n")
	resp = w.next()
	expectError(t, resp, protocol.CodeInvalidJSON)
	assert.False(t, resp.HasID())
}

func TestExecute_HandlerFailureIsAnEvent(t *testing.T) {
	_, addr := startGateway(t, testConfig(t), WithTools(func(r *tools.Registry) error {
		_, err := r.Register("test.fail", tools.Metadata{Name: "Fail"}, func(context.Context, *tools.Call) (any, error) {
			return nil, assert.AnError
		})
		return err
	}))
	w := dialAuthed(t, addr)

	execID := w.execute("f1", "test.fail", nil)
	kind, gotID, data := toolEvent(t, w.next())
	assert.Equal(t, protocol.EventFailed, kind)
	assert.Equal(t, execID, gotID)
	assert.Contains(t, string(data), assert.AnError.Error())
}

func TestExecStatus_Unknown(t *testing.T) {
	_, addr := startGateway(t, testConfig(t))
	w := dialAuthed(t, addr)

	resp := w.call(protocol.TypeExecStatus, "s", map[string]string{"execId": "nope"})
	expectError(t, resp, protocol.CodeExecutionNotFound)

	resp = w.call(protocol.TypeExecSubscribe, "sub", map[string]string{"execId": "nope"})
	expectError(t, resp, protocol.CodeExecutionNotFound)

	resp = w.call(protocol.TypeExecCancel, "c", map[string]string{"execId": "nope"})
	expectError(t, resp, protocol.CodeExecutionNotFound)
}

func TestCancel_WithoutCapabilityLeavesRunning(t *testing.T) {
	release := make(chan struct{})
	_, addr := startGateway(t, testConfig(t), blockingTool(release))
	w := dialAuthed(t, addr)

	execID := w.execute("b1", "test.block", nil)

	resp := w.call(protocol.TypeExecCancel, "c1", map[string]string{"execId": execID})
	expectError(t, resp, protocol.CodeNotCancellable)

	resp = w.call(protocol.TypeExecStatus, "s1", map[string]string{"execId": execID})
	var snap engine.Snapshot
	require.NoError(t, resp.Bind(&snap))
	assert.Equal(t, engine.StatusRunning, snap.Status)
	assert.False(t, snap.Cancellable)

	close(release)
	kind, _, _ := toolEvent(t, w.next())
	assert.Equal(t, protocol.EventCompleted, kind)
}

func TestCancel_Countdown(t *testing.T) {
	gw, addr := startGateway(t, testConfig(t))
	w := dialAuthed(t, addr)

	execID := w.execute("cd", "countdown", map[string]int{"seconds": 3600, "intervalMs": 1000})
	waitFor(t, func() bool {
		snap, err := gw.Engine().Status(execID)
		return err == nil && snap.Cancellable
	}, "countdown never installed its cancel capability")

	w.send(protocol.TypeExecCancel, "c1", map[string]string{"execId": execID})

	// The cancelled event and the .ok answer both arrive; their relative order
	// is not part of the contract.
	var sawOK, sawCancelled bool
	for range 2 {
		env := w.next()
		switch env.Type {
		case protocol.MessageType("mcp.exec.cancel.ok"):
			assertID(t, "c1", env)
			var p ExecCancelResponse
			require.NoError(t, env.Bind(&p))
			assert.Equal(t, engine.StatusCancelled, p.Status)
			sawOK = true
		case protocol.TypeToolEvent:
			kind, gotID, _ := toolEvent(t, env)
			assert.Equal(t, protocol.EventCancelled, kind)
			assert.Equal(t, execID, gotID)
			sawCancelled = true
		default:
			t.Fatalf("unexpected %s: %s", env.Type, env.Payload)
		}
	}
	assert.True(t, sawOK)
	assert.True(t, sawCancelled)

	resp := w.call(protocol.TypeExecCancel, "c2", map[string]string{"execId": execID})
	expectError(t, resp, protocol.CodeNotCancellable)

	resp = w.call(protocol.TypeExecStatus, "s1", map[string]string{"execId": execID})
	var snap engine.Snapshot
	require.NoError(t, resp.Bind(&snap))
	assert.Equal(t, engine.StatusCancelled, snap.Status)
}

func TestCancel_CapabilityFails(t *testing.T) {
	release := make(chan struct{})
	_, addr := startGateway(t, testConfig(t), WithTools(func(r *tools.Registry) error {
		_, err := r.Register("test.stubborn", tools.Metadata{Name: "Stubborn", Cancellable: true}, func(ctx context.Context, call *tools.Call) (any, error) {
			call.SetCancel(func(context.Context) error { return assert.AnError })
			<-release
			return "done", nil
		})
		return err
	}))
	w := dialAuthed(t, addr)

	execID := w.execute("s", "test.stubborn", nil)

	var resp *protocol.Envelope
	waitFor(t, func() bool {
		resp = w.call(protocol.TypeExecCancel, "c", map[string]string{"execId": execID})
		var p protocol.ErrorPayload
		_ = resp.Bind(&p)
		return p.Code != protocol.CodeNotCancellable
	}, "cancel capability never installed")
	expectError(t, resp, protocol.CodeCancelFailed)

	resp = w.call(protocol.TypeExecStatus, "st", map[string]string{"execId": execID})
	var snap engine.Snapshot
	require.NoError(t, resp.Bind(&snap))
	assert.Equal(t, engine.StatusRunning, snap.Status)

	close(release)
	kind, _, _ := toolEvent(t, w.next())
	assert.Equal(t, protocol.EventCompleted, kind)
}

func TestSubscribe_SecondConnectionReceivesEvents(t *testing.T) {
	release := make(chan struct{})
	_, addr := startGateway(t, testConfig(t), blockingTool(release))
	owner := dialAuthed(t, addr)
	watcher := dialAuthed(t, addr)

	execID := owner.execute("b", "test.block", nil)

	resp := watcher.call(protocol.TypeExecSubscribe, "sub", map[string]string{"execId": execID})
	assert.Equal(t, protocol.MessageType("mcp.exec.subscribe.ok"), resp.Type)

	// Subscribing twice is a no-op.
	resp = watcher.call(protocol.TypeExecSubscribe, "sub2", map[string]string{"execId": execID})
	assert.Equal(t, protocol.MessageType("mcp.exec.subscribe.ok"), resp.Type)

	close(release)

	kind, gotID, _ := toolEvent(t, owner.next())
	assert.Equal(t, protocol.EventCompleted, kind)
	assert.Equal(t, execID, gotID)

	kind, gotID, _ = toolEvent(t, watcher.next())
	assert.Equal(t, protocol.EventCompleted, kind)
	assert.Equal(t, execID, gotID)

	// Exactly one terminal event: the next record answers the ping.
	resp = watcher.call(protocol.TypePing, "p", nil)
	assert.Equal(t, protocol.MessageType("mcp.ping.result"), resp.Type)
}

func TestUnsubscribe_StopsEvents(t *testing.T) {
	release := make(chan struct{})
	gw, addr := startGateway(t, testConfig(t), blockingTool(release))
	w := dialAuthed(t, addr)

	execID := w.execute("b", "test.block", nil)
	resp := w.call(protocol.TypeExecUnsubscribe, "u", map[string]string{"execId": execID})
	assert.Equal(t, protocol.MessageType("mcp.exec.unsubscribe.ok"), resp.Type)

	close(release)
	_, err := gw.Engine().Wait(context.Background(), execID)
	require.NoError(t, err)

	resp = w.call(protocol.TypePing, "p", nil)
	assert.Equal(t, protocol.MessageType("mcp.ping.result"), resp.Type, "no event should precede the ping answer")

	// Unsubscribing from an unknown execution succeeds.
	resp = w.call(protocol.TypeExecUnsubscribe, "u2", map[string]string{"execId": "nope"})
	assert.Equal(t, protocol.MessageType("mcp.exec.unsubscribe.ok"), resp.Type)
}

func TestDisconnect_ExecutionOutlivesInitiator(t *testing.T) {
	release := make(chan struct{})
	gw, addr := startGateway(t, testConfig(t), blockingTool(release))
	owner := dialAuthed(t, addr)
	watcher := dialAuthed(t, addr)

	execID := owner.execute("b", "test.block", nil)
	resp := watcher.call(protocol.TypeExecSubscribe, "sub", map[string]string{"execId": execID})
	require.Equal(t, protocol.MessageType("mcp.exec.subscribe.ok"), resp.Type)
	require.Len(t, gw.Hub().Subscribers(execID), 2)

	owner.conn.Close()
	waitFor(t, func() bool { return len(gw.Hub().Subscribers(execID)) == 1 }, "owner subscription never removed")

	close(release)
	kind, gotID, _ := toolEvent(t, watcher.next())
	assert.Equal(t, protocol.EventCompleted, kind)
	assert.Equal(t, execID, gotID)

	snap, err := gw.Engine().Status(execID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusCompleted, snap.Status)
}

func TestExecList(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	gw, addr := startGateway(t, testConfig(t), blockingTool(release))
	w := dialAuthed(t, addr)

	echoID := w.execute("e", "echo", nil)
	toolEvent(t, w.next())
	toolEvent(t, w.next())
	_, err := gw.Engine().Wait(context.Background(), echoID)
	require.NoError(t, err)

	blockID := w.execute("b", "test.block", nil)

	resp := w.call(protocol.TypeExecList, "l", nil)
	require.Equal(t, protocol.MessageType("mcp.exec.list.result"), resp.Type)
	var p ExecListResponse
	require.NoError(t, resp.Bind(&p))

	require.Len(t, p.Executions, 2)
	assert.Equal(t, echoID, p.Executions[0].ExecID)
	assert.Equal(t, blockID, p.Executions[1].ExecID)
	assert.Equal(t, 1, p.Stats.Running)
	assert.Equal(t, 1, p.Stats.Completed)
}

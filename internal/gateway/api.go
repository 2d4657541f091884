// ABOUTME: Request handlers for authentication, tool discovery, and execution control.
// ABOUTME: Payload structs mirror the wire shape of each mcp.* request and response.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/2389/ble-gateway/internal/engine"
	"github.com/2389/ble-gateway/internal/protocol"
	"github.com/2389/ble-gateway/internal/tools"
)

// AuthRequest is the payload of mcp/auth.
type AuthRequest struct {
	Token string `json:"token"`
}

// AuthResponse is the payload of mcp/auth.ok.
type AuthResponse struct {
	Principal string `json:"principal,omitempty"`
}

// PingResponse is the payload of mcp.ping.result.
type PingResponse struct {
	Time string `json:"time"`
}

// ToolsResponse is the payload of mcp.tools.discover.result.
type ToolsResponse struct {
	Tools []tools.Info `json:"tools"`
}

// ToolRequest names a tool.
type ToolRequest struct {
	ToolID string `json:"toolId"`
}

// ExecuteRequest is the payload of mcp.tool.execute.
type ExecuteRequest struct {
	ToolID string          `json:"toolId"`
	Input  json.RawMessage `json:"input,omitempty"`
}

// ExecStartedResponse is the payload of mcp.tool.execute.started.
type ExecStartedResponse struct {
	ExecID string `json:"execId"`
	ToolID string `json:"toolId"`
}

// ExecRequest names an execution.
type ExecRequest struct {
	ExecID string `json:"execId"`
}

// ExecCancelResponse is the payload of mcp.exec.cancel.ok.
type ExecCancelResponse struct {
	ExecID string        `json:"execId"`
	Status engine.Status `json:"status"`
}

// ExecListResponse is the payload of mcp.exec.list.result.
type ExecListResponse struct {
	Executions []engine.Snapshot `json:"executions"`
	Stats      engine.Stats      `json:"stats"`
}

func (r *router) handleAuth(ctx context.Context, req *request) {
	var p AuthRequest
	if !req.bind(&p) {
		return
	}

	principal, err := req.conn.session.Authenticate(p.Token)
	if err != nil {
		req.log.Warn("authentication failed", "error", err)
		req.fail(errors.Join(errInvalidToken, err))
		return
	}
	req.log.Info("client authenticated", "principal", principal)
	req.reply(AuthResponse{Principal: principal})
}

func (r *router) handlePing(ctx context.Context, req *request) {
	req.reply(PingResponse{Time: protocol.FormatTimestamp(time.Now())})
}

func (r *router) handleToolsDiscover(ctx context.Context, req *request) {
	req.reply(ToolsResponse{Tools: r.gw.registry.List()})
}

func (r *router) handleToolInfo(ctx context.Context, req *request) {
	var p ToolRequest
	if !req.bind(&p) || !req.require(field{"toolId", p.ToolID}) {
		return
	}
	meta, err := r.gw.registry.Describe(p.ToolID)
	if err != nil {
		req.fail(err)
		return
	}
	req.reply(tools.Info{ID: p.ToolID, Metadata: meta})
}

func (r *router) handleToolExecute(ctx context.Context, req *request) {
	var p ExecuteRequest
	if !req.bind(&p) || !req.require(field{"toolId", p.ToolID}) {
		return
	}

	c := req.conn
	_, err := r.gw.engine.Execute(ctx, engine.ExecuteRequest{
		ToolID: p.ToolID,
		Input:  p.Input,
		Context: tools.CallContext{
			ConnectionID: c.id,
			RemoteAddr:   c.netConn.RemoteAddr().String(),
			Principal:    c.session.Principal(),
		},
		Initiator: c,
		OnStarted: func(s engine.Snapshot) {
			req.reply(ExecStartedResponse{ExecID: s.ExecID, ToolID: s.ToolID})
		},
	})
	if err != nil {
		req.fail(err)
	}
}

func (r *router) handleExecSubscribe(ctx context.Context, req *request) {
	var p ExecRequest
	if !req.bind(&p) || !req.require(field{"execId", p.ExecID}) {
		return
	}
	if err := r.gw.engine.Subscribe(p.ExecID, req.conn); err != nil {
		req.fail(err)
		return
	}
	req.reply(ExecRequest{ExecID: p.ExecID})
}

func (r *router) handleExecUnsubscribe(ctx context.Context, req *request) {
	var p ExecRequest
	if !req.bind(&p) || !req.require(field{"execId", p.ExecID}) {
		return
	}
	r.gw.engine.Unsubscribe(p.ExecID, req.conn)
	req.reply(ExecRequest{ExecID: p.ExecID})
}

func (r *router) handleExecStatus(ctx context.Context, req *request) {
	var p ExecRequest
	if !req.bind(&p) || !req.require(field{"execId", p.ExecID}) {
		return
	}
	snap, err := r.gw.engine.Status(p.ExecID)
	if err != nil {
		req.fail(err)
		return
	}
	req.reply(snap)
}

func (r *router) handleExecCancel(ctx context.Context, req *request) {
	var p ExecRequest
	if !req.bind(&p) || !req.require(field{"execId", p.ExecID}) {
		return
	}
	if err := r.gw.engine.Cancel(ctx, p.ExecID); err != nil {
		req.fail(err)
		return
	}
	req.reply(ExecCancelResponse{ExecID: p.ExecID, Status: engine.StatusCancelled})
}

func (r *router) handleExecList(ctx context.Context, req *request) {
	req.reply(ExecListResponse{
		Executions: r.gw.engine.List(),
		Stats:      r.gw.engine.Stats(),
	})
}

// ABOUTME: Router maps each request type to its handler and enforces authentication
// ABOUTME: Unknown types and unauthenticated requests are answered with mcp/error

package gateway

import (
	"context"
	"log/slog"

	"github.com/2389/ble-gateway/internal/protocol"
)

// request is one envelope being handled on a connection.
type request struct {
	conn *Conn
	env  *protocol.Envelope
	log  *slog.Logger
}

// reply answers with the request type's response type.
func (r *request) reply(payload any) {
	env, err := protocol.NewEnvelope(r.env.Type.Response(), r.env.ID, payload)
	if err != nil {
		r.log.Error("encoding response", "error", err)
		r.fail(err)
		return
	}
	if err := r.conn.Send(env); err != nil {
		r.log.Debug("response dropped", "error", err)
	}
}

// fail answers with mcp/error, echoing the request id.
func (r *request) fail(err error) {
	code, message := errorCode(err)
	if code == protocol.CodeInternal {
		r.log.Error("request failed", "error", err)
	} else {
		r.log.Debug("request rejected", "code", code, "error", err)
	}
	if sendErr := r.conn.Send(protocol.ErrorEnvelope(r.env.ID, code, message)); sendErr != nil {
		r.log.Debug("error response dropped", "error", sendErr)
	}
}

// bind decodes the payload into v.
func (r *request) bind(v any) bool {
	if err := r.env.Bind(v); err != nil {
		r.fail(err)
		return false
	}
	return true
}

// require fails with missing_field for the first empty field.
func (r *request) require(fields ...field) bool {
	for _, f := range fields {
		if f.value == "" {
			r.fail(missingField(f.name))
			return false
		}
	}
	return true
}

// field pairs a payload field name with its decoded value.
type field struct {
	name  string
	value string
}

type handlerFunc func(ctx context.Context, req *request)

// router is the closed dispatch table for one gateway.
type router struct {
	gw       *Gateway
	handlers map[protocol.MessageType]handlerFunc
}

func newRouter(gw *Gateway) *router {
	r := &router{gw: gw}
	r.handlers = map[protocol.MessageType]handlerFunc{
		protocol.TypeAuth:            r.handleAuth,
		protocol.TypePing:            r.handlePing,
		protocol.TypeToolsDiscover:   r.handleToolsDiscover,
		protocol.TypeToolInfo:        r.handleToolInfo,
		protocol.TypeToolExecute:     r.handleToolExecute,
		protocol.TypeExecSubscribe:   r.handleExecSubscribe,
		protocol.TypeExecUnsubscribe: r.handleExecUnsubscribe,
		protocol.TypeExecStatus:      r.handleExecStatus,
		protocol.TypeExecCancel:      r.handleExecCancel,
		protocol.TypeExecList:        r.handleExecList,

		protocol.TypeBLEDevices:         r.handleBLEDevices,
		protocol.TypeBLEConnect:         r.handleBLEConnect,
		protocol.TypeBLEDisconnect:      r.handleBLEDisconnect,
		protocol.TypeBLEServices:        r.handleBLEServices,
		protocol.TypeBLECharacteristics: r.handleBLECharacteristics,
		protocol.TypeBLERead:            r.handleBLERead,
		protocol.TypeBLEWrite:           r.handleBLEWrite,
		protocol.TypeBLESubscribe:       r.handleBLESubscribe,
		protocol.TypeBLEUnsubscribe:     r.handleBLEUnsubscribe,
	}
	return r
}

// dispatch handles one envelope. It returns once the handler has queued its
// response; long-running work belongs to the engine.
func (r *router) dispatch(ctx context.Context, c *Conn, env *protocol.Envelope) {
	req := &request{
		conn: c,
		env:  env,
		log:  c.logger.With("type", string(env.Type)),
	}

	if env.Type != protocol.TypeAuth && !c.session.Authenticated() {
		req.fail(errAuthRequired)
		return
	}
	handler, ok := r.handlers[env.Type]
	if !ok {
		req.fail(errUnknownType(env.Type))
		return
	}
	handler(ctx, req)
}

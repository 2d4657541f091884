// ABOUTME: Maps gateway, engine, tool, and BLE errors to mcp/error codes
// ABOUTME: Every code a client can see is decided here

package gateway

import (
	"errors"
	"fmt"

	"github.com/2389/ble-gateway/internal/ble"
	"github.com/2389/ble-gateway/internal/engine"
	"github.com/2389/ble-gateway/internal/protocol"
	"github.com/2389/ble-gateway/internal/tools"
)

var (
	errAuthRequired = errors.New("authentication required")
	errInvalidToken = errors.New("invalid token")
)

// fieldError reports a missing required payload field.
type fieldError struct {
	name string
}

func (e *fieldError) Error() string {
	return "missing field: " + e.name
}

func missingField(name string) error {
	return &fieldError{name: name}
}

// typeError reports a type outside the dispatch table.
type typeError struct {
	t protocol.MessageType
}

func (e *typeError) Error() string {
	return fmt.Sprintf("unknown type %q", string(e.t))
}

func errUnknownType(t protocol.MessageType) error {
	return &typeError{t: t}
}

// bleError carries a BLE manager failure; its code is the manager's message.
type bleError struct {
	err error
}

func (e *bleError) Error() string { return e.err.Error() }
func (e *bleError) Unwrap() error { return e.err }

// errorCode returns the wire code and message for err.
func errorCode(err error) (code, message string) {
	var (
		fe *fieldError
		te *typeError
		be *bleError
	)
	switch {
	case errors.As(err, &fe):
		return protocol.CodeMissingField, fe.name
	case errors.As(err, &te):
		return protocol.CodeUnknownType, string(te.t)
	case errors.As(err, &be):
		return ble.Code(be.err), be.err.Error()
	case errors.Is(err, errAuthRequired):
		return protocol.CodeAuthenticationRequired, ""
	case errors.Is(err, errInvalidToken):
		return protocol.CodeInvalidToken, ""
	case errors.Is(err, protocol.ErrInvalidPayload):
		return protocol.CodeInvalidPayload, err.Error()
	case errors.Is(err, tools.ErrInvalidInput):
		return protocol.CodeInvalidInput, err.Error()
	case errors.Is(err, tools.ErrToolNotFound):
		return protocol.CodeToolNotFound, err.Error()
	case errors.Is(err, engine.ErrExecutionNotFound):
		return protocol.CodeExecutionNotFound, err.Error()
	case errors.Is(err, engine.ErrNotCancellable):
		return protocol.CodeNotCancellable, err.Error()
	case errors.Is(err, engine.ErrCancelFailed):
		return protocol.CodeCancelFailed, err.Error()
	}
	return protocol.CodeInternal, err.Error()
}

// ABOUTME: Tool, handler, and call types shared by the registry and the execution engine.
// ABOUTME: Handlers report progress and register cancel capabilities through *Call.

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidInput indicates the input does not satisfy the tool's schema.
var ErrInvalidInput = errors.New("invalid input")

// CancelFunc asks a running handler to stop. A nil return means the handler
// accepted the request.
type CancelFunc func(ctx context.Context) error

// Handler executes one tool invocation.
type Handler func(ctx context.Context, call *Call) (any, error)

// Cancellable lets a handler resolve with a result plus a cancel capability.
type Cancellable struct {
	Result any
	Cancel CancelFunc
}

// Metadata describes a tool to clients.
type Metadata struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Cancellable bool            `json:"cancellable"`
}

// CallContext identifies who started an execution.
type CallContext struct {
	ConnectionID string `json:"connectionId"`
	RemoteAddr   string `json:"remoteAddr,omitempty"`
	Principal    string `json:"principal,omitempty"`
}

// Call is what a handler sees of its execution.
type Call struct {
	ExecID  string
	ToolID  string
	Input   json.RawMessage
	Context CallContext

	progress  func(data any)
	setCancel func(fn CancelFunc)
}

// NewCall wires a call to the engine's progress and cancel hooks. Either hook may be nil.
func NewCall(execID, toolID string, input json.RawMessage, cc CallContext, progress func(any), setCancel func(CancelFunc)) *Call {
	return &Call{
		ExecID:    execID,
		ToolID:    toolID,
		Input:     input,
		Context:   cc,
		progress:  progress,
		setCancel: setCancel,
	}
}

// Progress reports intermediate data to the execution's current subscribers.
// Calls after the execution has finished are dropped.
func (c *Call) Progress(data any) {
	if c.progress != nil {
		c.progress(data)
	}
}

// SetCancel installs the cancel capability for this execution.
func (c *Call) SetCancel(fn CancelFunc) {
	if c.setCancel != nil {
		c.setCancel(fn)
	}
}

// Bind unmarshals the call input into v. Absent input leaves v untouched.
func (c *Call) Bind(v any) error {
	if len(c.Input) == 0 || bytes.Equal(bytes.TrimSpace(c.Input), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(c.Input, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// Tool is a registered tool.
type Tool struct {
	ID       string
	Metadata Metadata
	Handler  Handler

	schema *gojsonschema.Schema
}

// Info is the public view of a tool returned by discovery.
type Info struct {
	ID string `json:"id"`
	Metadata
}

// compileSchema prepares the input schema, if any.
func (t *Tool) compileSchema() error {
	if len(bytes.TrimSpace(t.Metadata.InputSchema)) == 0 {
		return nil
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(t.Metadata.InputSchema))
	if err != nil {
		return fmt.Errorf("compiling input schema for %q: %w", t.ID, err)
	}
	t.schema = schema
	return nil
}

// ValidateInput checks input against the tool's schema. Absent input is validated as {}.
func (t *Tool) ValidateInput(input json.RawMessage) error {
	if t.schema == nil {
		return nil
	}
	doc := bytes.TrimSpace(input)
	if len(doc) == 0 || bytes.Equal(doc, []byte("null")) {
		doc = []byte(`{}`)
	}

	result, err := t.schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(details, "; "))
	}
	return nil
}

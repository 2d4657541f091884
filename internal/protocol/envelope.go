// ABOUTME: Envelope type and constructors for requests, responses, and pushed events.
// ABOUTME: Payloads stay raw JSON until a handler binds them to a typed struct.

package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// TimestampFormat is used for every timestamp the server pushes (UTC, millisecond precision).
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

var emptyObject = json.RawMessage(`{}`)

// Envelope is the only unit of communication on an MCP connection.
type Envelope struct {
	Type    MessageType     `json:"type"`
	ID      json.RawMessage `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// ErrorPayload is the payload of an mcp/error envelope.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// HandshakePayload is sent once when a connection is accepted.
type HandshakePayload struct {
	Server  string `json:"server"`
	Version string `json:"version"`
}

// ToolEventPayload is the payload of every mcp.tool.event broadcast.
type ToolEventPayload struct {
	Event     EventKind `json:"event"`
	ExecID    string    `json:"execId"`
	ToolID    string    `json:"toolId"`
	Data      any       `json:"data"`
	Timestamp string    `json:"timestamp"`
}

// BLENotificationPayload is pushed to a connection that subscribed to a characteristic.
type BLENotificationPayload struct {
	DeviceID           string `json:"deviceId"`
	CharacteristicUUID string `json:"characteristicUuid"`
	Data               []byte `json:"data"`
	Timestamp          string `json:"timestamp"`
}

// NewEnvelope builds an envelope, marshaling payload. A nil payload becomes {}.
func NewEnvelope(t MessageType, id json.RawMessage, payload any) (*Envelope, error) {
	env := &Envelope{Type: t, ID: normalizeID(id), Payload: emptyObject}
	if payload == nil {
		return env, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		env.Payload = raw
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", t, err)
	}
	env.Payload = data
	return env, nil
}

// ErrorEnvelope builds an mcp/error envelope echoing the request id.
func ErrorEnvelope(id json.RawMessage, code, message string) *Envelope {
	// ErrorPayload always marshals.
	data, _ := json.Marshal(ErrorPayload{Code: code, Message: message})
	return &Envelope{Type: TypeError, ID: normalizeID(id), Payload: data}
}

// Handshake builds the unsolicited greeting written on accept.
func Handshake(server, version string) *Envelope {
	data, _ := json.Marshal(HandshakePayload{Server: server, Version: version})
	return &Envelope{Type: TypeHandshake, Payload: data}
}

// ToolEvent builds an mcp.tool.event envelope stamped with at.
func ToolEvent(kind EventKind, execID, toolID string, data any, at time.Time) (*Envelope, error) {
	return NewEnvelope(TypeToolEvent, nil, ToolEventPayload{
		Event:     kind,
		ExecID:    execID,
		ToolID:    toolID,
		Data:      data,
		Timestamp: FormatTimestamp(at),
	})
}

// FormatTimestamp renders t in the wire timestamp format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// HasID reports whether the envelope carries a request correlator.
func (e *Envelope) HasID() bool {
	return len(e.ID) > 0
}

// Bind unmarshals the payload into v. An absent payload leaves v untouched.
func (e *Envelope) Bind(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// normalizeID maps a JSON null id to an absent one.
func normalizeID(id json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(id)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return trimmed
}

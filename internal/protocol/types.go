// ABOUTME: Closed enumeration of MCP message types and their response types.
// ABOUTME: Requests map to a fixed response suffix; unknown types are rejected.

package protocol

// MessageType identifies the operation or event an envelope carries.
type MessageType string

// Client → server requests.
const (
	TypeAuth            MessageType = "mcp/auth"
	TypePing            MessageType = "mcp.ping"
	TypeToolsDiscover   MessageType = "mcp.tools.discover"
	TypeToolInfo        MessageType = "mcp.tool.info"
	TypeToolExecute     MessageType = "mcp.tool.execute"
	TypeExecSubscribe   MessageType = "mcp.exec.subscribe"
	TypeExecUnsubscribe MessageType = "mcp.exec.unsubscribe"
	TypeExecStatus      MessageType = "mcp.exec.status"
	TypeExecCancel      MessageType = "mcp.exec.cancel"
	TypeExecList        MessageType = "mcp.exec.list"

	TypeBLEDevices         MessageType = "mcp.ble.devices"
	TypeBLEConnect         MessageType = "mcp.ble.connect"
	TypeBLEDisconnect      MessageType = "mcp.ble.disconnect"
	TypeBLEServices        MessageType = "mcp.ble.services"
	TypeBLECharacteristics MessageType = "mcp.ble.characteristics"
	TypeBLERead            MessageType = "mcp.ble.read"
	TypeBLEWrite           MessageType = "mcp.ble.write"
	TypeBLESubscribe       MessageType = "mcp.ble.subscribe"
	TypeBLEUnsubscribe     MessageType = "mcp.ble.unsubscribe"
)

// Server → client types.
const (
	TypeHandshake       MessageType = "mcp/handshake"
	TypeAuthOK          MessageType = "mcp/auth.ok"
	TypeError           MessageType = "mcp/error"
	TypeToolEvent       MessageType = "mcp.tool.event"
	TypeBLENotification MessageType = "mcp.ble.notification"
)

// Response suffixes.
const (
	suffixResult  = ".result"
	suffixOK      = ".ok"
	suffixStarted = ".started"
)

// responseSuffix lists every request type the server accepts.
var responseSuffix = map[MessageType]string{
	TypeAuth:            suffixOK,
	TypePing:            suffixResult,
	TypeToolsDiscover:   suffixResult,
	TypeToolInfo:        suffixResult,
	TypeToolExecute:     suffixStarted,
	TypeExecSubscribe:   suffixOK,
	TypeExecUnsubscribe: suffixOK,
	TypeExecStatus:      suffixResult,
	TypeExecCancel:      suffixOK,
	TypeExecList:        suffixResult,

	TypeBLEDevices:         suffixResult,
	TypeBLEConnect:         suffixResult,
	TypeBLEDisconnect:      suffixOK,
	TypeBLEServices:        suffixResult,
	TypeBLECharacteristics: suffixResult,
	TypeBLERead:            suffixResult,
	TypeBLEWrite:           suffixOK,
	TypeBLESubscribe:       suffixOK,
	TypeBLEUnsubscribe:     suffixOK,
}

// IsRequest reports whether t is a client request the server understands.
func (t MessageType) IsRequest() bool {
	_, ok := responseSuffix[t]
	return ok
}

// Response returns the type used to answer a request of type t.
// Unknown types answer with TypeError.
func (t MessageType) Response() MessageType {
	suffix, ok := responseSuffix[t]
	if !ok {
		return TypeError
	}
	return MessageType(string(t) + suffix)
}

// RequestTypes returns every request type, in no particular order.
func RequestTypes() []MessageType {
	out := make([]MessageType, 0, len(responseSuffix))
	for t := range responseSuffix {
		out = append(out, t)
	}
	return out
}

// EventKind is the event field of an mcp.tool.event payload.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventCancelled EventKind = "cancelled"
)

// Terminal reports whether the event ends an execution's stream.
func (k EventKind) Terminal() bool {
	return k == EventCompleted || k == EventFailed || k == EventCancelled
}

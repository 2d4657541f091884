// Package protocol defines the MCP wire format: newline-delimited JSON
// envelopes exchanged over a TCP connection.
//
// # Envelope
//
// Every record is one JSON object on its own line:
//
//	{"type":"mcp.tool.execute","id":"e1","payload":{"toolId":"echo","input":{"x":1}}}
//
// The id is an opaque correlator echoed on the response; server-pushed
// records (handshake, tool events, BLE notifications) carry a null id.
//
// # Framing
//
// LineReader splits a byte stream on '\n'. Partial lines are carried over
// between reads with no length cap, and whitespace-only lines are skipped.
//
// # Message types
//
// MessageType is a closed set. Requests answer with a fixed suffix
// (".result", ".ok" or ".started"); see MessageType.Response.
package protocol

// Package client speaks the gateway's newline-delimited JSON protocol from
// the client side.
//
// # Overview
//
// Dial connects, waits for the mcp/handshake greeting, and starts a reader
// goroutine. Requests get ids of the form "cN" and their answers are routed
// back to the waiting Call. Envelopes that answer no request (tool events
// and BLE notifications) are delivered on Events.
//
// # Usage
//
//	c, err := client.Dial(ctx, "127.0.0.1:8765")
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	if _, err := c.Authenticate(ctx, secret); err != nil {
//		return err
//	}
//	execID, err := c.Execute(ctx, "echo", map[string]any{"hello": "world"})
//
// An mcp/error answer surfaces as *ResponseError carrying the wire code.
package client

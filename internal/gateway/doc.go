// Package gateway orchestrates the ble-gateway server components.
//
// # Overview
//
// The gateway package is the central coordinator of the ble-gateway server.
// It owns the MCP listener, the tool registry, the execution engine, the
// fan-out hub, the BLE manager and the execution journal.
//
// # Wire Protocol
//
// Every connection carries newline-delimited JSON envelopes:
//
//	{"type": "mcp.tool.execute", "id": "e1", "payload": {"toolId": "echo", "input": {"x": 1}}}
//
// On accept the server writes mcp/handshake. Each request is answered with
// its response type (.result, .ok or .started) or mcp/error, echoing the
// request id. Executions push mcp.tool.event envelopes to their
// subscribers, and BLE subscriptions push mcp.ble.notification to the
// connection that subscribed.
//
// # Authentication
//
// When auth.secret is set, every request other than mcp/auth is rejected
// with authentication_required until the connection authenticates. A failed
// attempt leaves the connection open.
//
// # Connections
//
// Requests on one connection are handled one at a time in receipt order.
// Outgoing envelopes go through an unbounded outbox drained by a single
// writer goroutine, so broadcasts never block on a slow client. When a
// connection closes it is removed from every execution's subscriber set and
// its BLE listeners are released; executions it started keep running.
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
// Run shuts down when ctx is cancelled.
//
// # Key Files
//
//   - gateway.go: Gateway struct, initialization, Run/Serve/Shutdown
//   - conn.go: connection read loop, writer and teardown
//   - router.go: dispatch table and auth gate
//   - api.go: auth, tool and execution handlers
//   - bridge.go: BLE handlers and notification forwarding
//   - errors.go: error to wire code mapping
package gateway

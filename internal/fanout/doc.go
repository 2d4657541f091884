// Package fanout delivers execution events to the connections subscribed to
// them.
//
// Each execution id owns a set of subscribers. The initiating connection is
// added when the execution starts; others join and leave with
// mcp.exec.subscribe and mcp.exec.unsubscribe. When a connection closes,
// RemoveSubscriber takes it out of every set using a reverse index.
//
// Broadcast is best effort: a failed send is logged and the remaining
// subscribers still receive the event. Failed subscribers are not removed;
// the connection close path is the only removal path for dead sockets.
package fanout

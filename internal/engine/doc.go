// Package engine runs tool executions and owns their records.
//
// # Lifecycle
//
// Every execution starts running and moves exactly once to completed,
// failed or cancelled:
//
//	running ──handler returns──▶ completed
//	   │    ──handler errors───▶ failed
//	   └────cancel accepted────▶ cancelled
//
// Execute acknowledges the initiator through ExecuteRequest.OnStarted before
// the handler goroutine is launched, so a started response always precedes
// the execution's first event on that connection.
//
// # Events
//
// Progress and terminal events are broadcast through a fanout.Hub while the
// record's lock is held. Once a record is terminal, further progress from
// the handler is dropped.
//
// # Cancellation
//
// Cancellation is cooperative. A handler installs a cancel capability with
// Call.SetCancel; Cancel invokes it and only marks the record cancelled when
// it succeeds. A failed cancel leaves the execution running.
//
// # Retention
//
// Records are kept for the life of the process unless WithMaxRetained is
// set, in which case the oldest terminal records are evicted first.
package engine

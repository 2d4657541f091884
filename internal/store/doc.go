// Package store provides the execution journal.
//
// The journal is an append-only audit trail: every execution state change
// (running, completed, failed, cancelled) is written as one entry. It is
// never read back to rebuild engine state, so executions do not survive a
// restart; operators inspect it with `ble-gateway history`.
//
// SQLiteStore uses modernc.org/sqlite (pure Go, WAL mode). NopStore is used
// when journal.path is empty, and MockStore backs tests.
package store

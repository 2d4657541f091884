// Package ble defines the BLE manager the gateway bridges to clients, and
// a configurable simulator that implements it.
//
// The gateway only forwards calls. Device discovery, GATT semantics and
// hardware serialization belong to the Manager implementation. Errors
// returned by a Manager carry the wire code clients see in mcp/error; use
// Code to extract it.
package ble

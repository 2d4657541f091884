// Package builtins provides the tool packs the gateway registers at startup.
//
// # Tool Packs
//
// Base Pack (builtin:base):
//
//   - echo: resolves with {echoed: input} after one progress event
//   - countdown: ticks down from seconds; cancellable
//
// BLE Pack (builtin:ble), registered when a BLE manager is available:
//
//   - ble.scan: lists devices known to the manager
//   - ble.watch: streams characteristic notifications as progress; cancellable
//
// # Registration
//
//	builtins.RegisterAll(registry, manager)
//
// # Tool Implementation
//
// Each tool is a tools.Handler:
//
//	func(ctx context.Context, call *tools.Call) (any, error)
//
// Cancellable tools install their cancel capability with call.SetCancel
// as soon as they start, and stop cooperatively when it is invoked.
package builtins

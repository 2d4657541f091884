// Package tools holds the registry of tools the gateway can execute.
//
// # Overview
//
// A tool is an identifier, metadata (name, description, input schema) and a
// Handler. Tools are registered by the hosting process before the listener
// starts, usually grouped into packs (see internal/builtins); the registry
// is then sealed and is read-only for the rest of the process.
//
// # Handlers
//
// A Handler receives a context and a *Call. The call carries the input, the
// caller's connection details and two hooks:
//
//   - Progress(data) broadcasts a progress event to the execution's subscribers
//   - SetCancel(fn) makes the running execution cancellable through fn
//
// A handler may also resolve with a Cancellable wrapper; the wrapped Result is
// stored as the execution result and Cancel as its cancel capability.
//
// # Input validation
//
// Tools that declare an InputSchema have their input validated with
// gojsonschema before an execution is created.
package tools

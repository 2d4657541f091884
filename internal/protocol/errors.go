// ABOUTME: Wire error codes carried in mcp/error payloads.
// ABOUTME: BLE collaborator failures use the collaborator's message as the code.

package protocol

// Error codes
const (
	CodeInvalidJSON            = "invalid_json"
	CodeUnknownType            = "unknown_type"
	CodeAuthenticationRequired = "authentication_required"
	CodeInvalidToken           = "invalid_token"
	CodeMissingField           = "missing_field"
	CodeInvalidPayload         = "invalid_payload"
	CodeInvalidInput           = "invalid_input"
	CodeToolNotFound           = "tool_not_found"
	CodeExecutionNotFound      = "execution_not_found"
	CodeNotCancellable         = "not_cancellable"
	CodeCancelFailed           = "cancel_failed"
	CodeInternal               = "internal_error"
)

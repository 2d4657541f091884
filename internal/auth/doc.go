// Package auth implements the MCP authentication gate.
//
// # Modes
//
// When no secret is configured every connection is authenticated from the
// start. Otherwise the first envelope a client sends must be
//
//	{"type":"mcp/auth","id":"a1","payload":{"token":"..."}}
//
// and the token is checked according to auth.mode:
//
//   - secret: constant-time equality with auth.secret (default)
//   - bcrypt: auth.secret holds a bcrypt hash; the token is the plaintext
//   - jwt: the token is an HS256 JWT signed with auth.secret; its "sub"
//     claim becomes the session principal
//
// A failed attempt leaves the connection unauthenticated and the client may
// retry. A successful one lasts for the life of the connection; JWT expiry
// is only checked at authentication time.
package auth

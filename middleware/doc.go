// Package middleware adapts cookieauth to net/http.
//
//   - [Authenticate] runs the per-request authentication pass, attaches the
//     resulting Auth to the request context and writes queued cookies after
//     the handler has produced its response.
//   - [RequireAuth] rejects anonymous requests with 401.
//
// This package translates HTTP semantics into Manager calls. It does not
// parse tokens or touch refresh storage itself.
//
// The gin adapter lives in the ginauth subpackage.
package middleware

// Package cookieauth implements dual-token cookie authentication: a
// short-lived signed access token that is verified without storage, and a
// long-lived refresh token whose validity lives in a durable record.
//
// A [Manager] is assembled once with [New] and [Builder.Build]. Each request
// then goes through [Manager.Authenticate], which yields an [Auth]: the
// resolved user id, the refresh token bound to the request, and the cookie
// instructions queued for the response. Expired access tokens are renewed
// from the refresh record transparently; the refresh record itself is never
// rotated by Authenticate.
//
// Business logic is expressed as [Operation] values and gated with guards
// such as [RequireAuth] and [ResolveUser]. Login and logout are wrappers
// ([Login], [Logout], [LogoutEverywhere]) around consumer operations that
// report a typed outcome instead of mutating request state.
//
// # Failure model
//
// Invalid, expired or revoked tokens never fail a request; they leave it
// anonymous and queue cookie clears. Storage faults ([ErrStorageFault]) are
// always returned so that an outage is not mistaken for a logout.
//
// # Cookies
//
// Cookies are applied with [Auth.ApplyCookies], at most once per request and
// only after the handler has finished. The middleware packages do this for
// net/http and gin.
package cookieauth

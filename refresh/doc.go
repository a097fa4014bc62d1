//go:generate mockgen -destination=mock_refresh/mock_refresh.go github.com/MrEthical07/cookieauth/refresh Repository

// Package refresh owns the durable half of a login: refresh records, the
// opaque tokens that point at them, and the persistence contract backends
// implement.
//
// # Token format
//
// A refresh token is base64url (no padding) of the 16-byte record id followed
// by the random secret. Only a SHA-256 digest of the secret is persisted unless
// raw secrets are explicitly requested. Secrets are compared in constant time.
//
// # Architecture boundaries
//
// Store validates tokens against the record state on every call; nothing is
// cached. Backends live under store/ and only implement Repository. This
// package must not import the root cookieauth package or jwt.
package refresh

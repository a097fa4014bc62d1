// Package jwt signs and verifies the short-lived access tokens carried in the
// access cookie. A Codec is built once from validated key material and is then
// safe to share across request goroutines.
package jwt

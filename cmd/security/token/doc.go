// Package token hashes refresh tokens for server-side storage.
//
// The raw refresh token only ever travels in the client cookie. The store
// keeps a 64-char hex digest: HMAC-SHA256 when a key is configured, plain
// SHA-256 otherwise (development only; production startup requires the key).
package token

// Package identity owns the principal (user) record and the session-security
// fields stored on it: the current refresh-token digest, its expiry, and the
// invalidation watermark.
//
// Stores never see raw refresh tokens at rest; they hash on the way in with
// an injected token.Hasher.
package identity

// Package session issues and verifies the bearer tokens used by notekeep.
//
// Access tokens live 15 minutes, refresh tokens 7 days. Both are signed
// envelopes of {userId, kind, issuedAt, expiresAt, jti}; the default codec is
// JWT HS256, with PASETO v4.public available behind configuration.
//
// Tokens are not revocable by value. Access tokens die through the
// per-principal invalidation watermark; refresh tokens die when the stored
// value is rotated or cleared.
package session

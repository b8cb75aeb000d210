// Package password hashes and verifies account passwords.
//
// Hashes are Argon2id in PHC string form with a random salt per call.
// Verification treats the stored hash as untrusted input: malformed strings
// and parameters far above the configured cost are refused.
//
// The composition policy (length bounds plus lower/upper/digit/symbol classes)
// reports every failed rule at once so the caller can show them together.
package password

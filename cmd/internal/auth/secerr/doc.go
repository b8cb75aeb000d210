// Package secerr is the security error taxonomy shared by the auth flow and
// its HTTP surface.
//
// Failures are built as *Error values at the point they happen, each carrying
// a Kind and an optional typed detail (validation, resource, auth or token).
// Classify turns any error into an *Error without looking at message text,
// and Responder writes the uniform JSON envelope and the matching
// security.event log record.
package secerr

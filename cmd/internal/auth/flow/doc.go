// Package flow orchestrates register, login, refresh and logout over the
// principal store, the password hasher and the token manager.
//
// Every method returns either a value or a *secerr.Error, so the transport
// layer never sees a raw store or codec failure. Callers pass now explicitly;
// the controller holds no clock and no mutable state of its own.
package flow

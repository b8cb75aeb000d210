package session

import (
	"context"
	"time"

	"notekeep/cmd/identity"
)

// PrincipalFinder is the slice of identity.Store the verifier needs.
type PrincipalFinder interface {
	FindByID(ctx context.Context, id string) (identity.Principal, error)
}

// Verifier runs the access-token state machine:
// signature, expiry, then the principal's invalidation watermark.
type Verifier struct {
	tokens *Manager
	users  PrincipalFinder
}

// NewVerifier wires a Verifier.
func NewVerifier(tokens *Manager, users PrincipalFinder) *Verifier {
	return &Verifier{tokens: tokens, users: users}
}

// Verified is the outcome of a successful verification.
type Verified struct {
	Claims    Claims
	Principal identity.Principal
}

// VerifyAccess returns ErrInvalidToken, *ExpiredError or *InvalidatedError for
// token faults. Store failures, including a missing principal, are returned
// unchanged so the caller can tell them apart from auth failures.
func (v *Verifier) VerifyAccess(ctx context.Context, tok string, now time.Time) (Verified, error) {
	cl, err := v.tokens.Parse(tok, KindAccess, now)
	if err != nil {
		return Verified{}, err
	}

	p, err := v.users.FindByID(ctx, cl.UserID)
	if err != nil {
		return Verified{}, err
	}

	if Invalidated(cl.IssuedAt, p.LastTokenInvalidation) {
		return Verified{}, &InvalidatedError{IssuedAt: cl.IssuedAt, InvalidatedAt: *p.LastTokenInvalidation}
	}

	return Verified{Claims: cl, Principal: p}, nil
}

// Invalidated reports whether a token issued at iat falls at or before the
// watermark. Both sides are compared at IssueResolution.
func Invalidated(iat time.Time, watermark *time.Time) bool {
	if watermark == nil {
		return false
	}
	return !iat.Truncate(IssueResolution).After(watermark.Truncate(IssueResolution))
}

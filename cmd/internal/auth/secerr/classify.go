package secerr

import (
	"context"
	"errors"

	"notekeep/cmd/identity"
	"notekeep/cmd/internal/auth/session"
	"notekeep/cmd/security/password"
)

// Classify maps any error onto an *Error. It matches on error identity and
// type only; anything unrecognised becomes a server error.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var se *Error
	if errors.As(err, &se) {
		return se
	}

	var (
		expired     *session.ExpiredError
		invalidated *session.InvalidatedError
		policy      *password.PolicyError
		conflict    identity.ConflictError
	)
	switch {
	case errors.As(err, &expired):
		return TokenExpired(string(expired.Kind), expired.ExpiredAt)
	case errors.As(err, &invalidated):
		return TokenInvalidated(string(session.KindAccess), "invalidated", invalidated.IssuedAt, invalidated.InvalidatedAt)
	case errors.Is(err, session.ErrInvalidToken):
		return InvalidToken(string(session.KindAccess), "malformed")
	case errors.As(err, &policy):
		return PasswordPolicy(policy)
	case errors.As(err, &conflict):
		return Conflict("user", "create", conflict.Field+"_taken")
	case identity.IsNotFound(err):
		return NotFound("user", "", "read")
	case errors.Is(err, session.ErrConfig):
		return Server(err, "configuration")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Server(err, "timeout")
	default:
		return Server(err, "internal")
	}
}

// PasswordPolicy converts every password rule violation into a field error.
func PasswordPolicy(pe *password.PolicyError) *Error {
	fields := make([]FieldError, 0, len(pe.Violations))
	for _, v := range pe.Violations {
		fields = append(fields, FieldError{
			Field:   "password",
			Message: v.Message,
			Code:    v.Rule,
			Params:  v.Params,
		})
	}
	return Validation("Password does not meet requirements", fields)
}

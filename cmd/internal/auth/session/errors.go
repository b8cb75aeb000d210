package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidToken is returned when a token fails signature, shape or kind checks.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired matches every *ExpiredError.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalidated matches every *InvalidatedError.
	ErrTokenInvalidated = errors.New("token invalidated")

	// ErrConfig is returned for invalid configuration, including a missing signing key.
	ErrConfig = errors.New("invalid config")
)

// ExpiredError reports a token whose exp has passed.
type ExpiredError struct {
	Kind      Kind
	ExpiredAt time.Time
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("%s token expired at %s", e.Kind, e.ExpiredAt.UTC().Format(time.RFC3339))
}

func (e *ExpiredError) Unwrap() error { return ErrTokenExpired }

// InvalidatedError reports a token issued at or before the principal's watermark.
type InvalidatedError struct {
	IssuedAt      time.Time
	InvalidatedAt time.Time
}

func (e *InvalidatedError) Error() string {
	return fmt.Sprintf("token issued at %s invalidated at %s",
		e.IssuedAt.UTC().Format(time.RFC3339Nano), e.InvalidatedAt.UTC().Format(time.RFC3339Nano))
}

func (e *InvalidatedError) Unwrap() error { return ErrTokenInvalidated }

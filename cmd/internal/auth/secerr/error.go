package secerr

import (
	"fmt"
	"runtime/debug"
	"time"
)

// FieldError is one entry of validationErrors.
type FieldError struct {
	Field   string         `json:"field"`
	Message string         `json:"message"`
	Code    string         `json:"code"`
	Params  map[string]any `json:"params,omitempty"`
}

// ResourceDetail is the resourceError sub-object.
type ResourceDetail struct {
	ResourceType string `json:"resourceType"`
	ResourceID   string `json:"resourceId,omitempty"`
	Operation    string `json:"operation"`
	Reason       string `json:"reason"`
}

// AuthDetail is the authError sub-object.
type AuthDetail struct {
	Reason         string `json:"reason"`
	RequiresAction string `json:"requiresAction,omitempty"`
	AccountStatus  string `json:"accountStatus,omitempty"`
}

// TokenDetail is the tokenError sub-object.
type TokenDetail struct {
	TokenType string     `json:"tokenType"`
	Reason    string     `json:"reason"`
	ExpiredAt *time.Time `json:"expiredAt,omitempty"`
	IssuedAt  *time.Time `json:"issuedAt,omitempty"`

	// InvalidatedAt is the watermark that voided the token.
	InvalidatedAt *time.Time `json:"invalidatedAt,omitempty"`
}

// Error is a classified failure. Message is safe for clients; Cause is not
// and only reaches the server log.
type Error struct {
	Kind    Kind
	Message string

	Validation []FieldError
	Resource   *ResourceDetail
	Auth       *AuthDetail
	Token      *TokenDetail

	// RetryAfter is set for KindRateLimited.
	RetryAfter time.Duration

	// Reason is a server-side label for KindServer ("configuration", "store").
	Reason string

	Cause error
	stack []byte
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Type is shorthand for e.Kind.Type().
func (e *Error) Type() Type { return e.Kind.Type() }

// Status is shorthand for e.Kind.Status().
func (e *Error) Status() int { return e.Kind.Status() }

// Stack returns the stack captured when a server error was built, if any.
func (e *Error) Stack() []byte { return e.stack }

// Authentication is a generic 401 with an explanatory reason.
func Authentication(message, reason string) *Error {
	return &Error{
		Kind:    KindAuthentication,
		Message: message,
		Auth:    &AuthDetail{Reason: reason},
	}
}

// InvalidCredentials is the single non-enumerating login failure.
func InvalidCredentials() *Error {
	return &Error{
		Kind:    KindInvalidCredentials,
		Message: "Invalid email or password",
		Auth:    &AuthDetail{Reason: "invalid_credentials"},
	}
}

// AccountNotActive reports a disabled or deleted account at login/refresh.
func AccountNotActive(status string) *Error {
	return &Error{
		Kind:    KindAuthentication,
		Message: "Account not active",
		Auth:    &AuthDetail{Reason: "account_not_active", AccountStatus: status, RequiresAction: "contact_support"},
	}
}

// InvalidToken reports a malformed, unsigned, unknown or mismatched token.
func InvalidToken(tokenType, reason string) *Error {
	return &Error{
		Kind:    KindInvalidToken,
		Message: "Invalid token",
		Token:   &TokenDetail{TokenType: tokenType, Reason: reason},
	}
}

// TokenExpired reports a token past its exp.
func TokenExpired(tokenType string, expiredAt time.Time) *Error {
	at := expiredAt.UTC()
	return &Error{
		Kind:    KindTokenExpired,
		Message: "Token has expired",
		Token:   &TokenDetail{TokenType: tokenType, Reason: "expired", ExpiredAt: &at},
	}
}

// TokenInvalidated reports a token issued at or before the invalidation watermark.
func TokenInvalidated(tokenType, reason string, issuedAt, invalidatedAt time.Time) *Error {
	iat := issuedAt.UTC()
	inv := invalidatedAt.UTC()
	return &Error{
		Kind:    KindTokenInvalidated,
		Message: "Token has been invalidated",
		Token:   &TokenDetail{TokenType: tokenType, Reason: reason, IssuedAt: &iat, InvalidatedAt: &inv},
	}
}

// Authorization is a 403 for an authenticated principal that may not proceed.
func Authorization(message, reason, accountStatus string) *Error {
	return &Error{
		Kind:    KindAuthorization,
		Message: message,
		Auth:    &AuthDetail{Reason: reason, AccountStatus: accountStatus},
	}
}

// CSRF is a 403 for a missing or mismatched anti-forgery token.
func CSRF(reason string) *Error {
	return &Error{
		Kind:    KindCSRF,
		Message: "CSRF token missing or invalid",
		Auth:    &AuthDetail{Reason: reason},
	}
}

// Validation lists every failed field rule.
func Validation(message string, fields []FieldError) *Error {
	return &Error{
		Kind:       KindValidation,
		Message:    message,
		Validation: fields,
	}
}

// NotFound reports a missing resource.
func NotFound(resourceType, resourceID, operation string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: resourceLabel(resourceType) + " not found",
		Resource: &ResourceDetail{
			ResourceType: resourceType,
			ResourceID:   resourceID,
			Operation:    operation,
			Reason:       "not_found",
		},
	}
}

// Conflict reports a uniqueness or state conflict.
func Conflict(resourceType, operation, reason string) *Error {
	return &Error{
		Kind:    KindConflict,
		Message: resourceLabel(resourceType) + " conflict",
		Resource: &ResourceDetail{
			ResourceType: resourceType,
			Operation:    operation,
			Reason:       reason,
		},
	}
}

// RateLimited is a 429 with a retry hint.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Message:    "Too many attempts, try again later",
		RetryAfter: retryAfter,
	}
}

// Server wraps an unexpected failure. The client sees a generic message;
// cause and stack stay server-side.
func Server(cause error, reason string) *Error {
	return &Error{
		Kind:    KindServer,
		Message: "An unexpected error occurred",
		Reason:  reason,
		Cause:   cause,
		stack:   debug.Stack(),
	}
}

func resourceLabel(resourceType string) string {
	switch resourceType {
	case "":
		return "Resource"
	case "user":
		return "User"
	default:
		return resourceType
	}
}

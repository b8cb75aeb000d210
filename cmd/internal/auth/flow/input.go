package flow

import (
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"notekeep/cmd/identity"
	"notekeep/cmd/internal/auth/secerr"
)

const (
	maxEmailLength = 254
	maxNameLength  = 100
)

// RegisterInput is the body of a registration request.
type RegisterInput struct {
	Email    string
	Password string
	Name     *string
}

// LoginInput is the body of a login request. ClientIP feeds the throttle.
type LoginInput struct {
	Email    string
	Password string
	ClientIP string
}

// Session is the outcome of a successful register, login or refresh.
// RefreshToken must only ever travel in the cookie.
type Session struct {
	User             identity.SafeUser
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

func validateEmail(raw string) []secerr.FieldError {
	email := strings.TrimSpace(raw)
	switch {
	case email == "":
		return []secerr.FieldError{{Field: "email", Message: "Email is required", Code: "required"}}
	case len(email) > maxEmailLength:
		return []secerr.FieldError{{
			Field:   "email",
			Message: "Email is too long",
			Code:    "max_length",
			Params:  map[string]any{"max": maxEmailLength},
		}}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Name != "" || addr.Address != email {
		return []secerr.FieldError{{Field: "email", Message: "Email is not a valid address", Code: "format"}}
	}
	return nil
}

func validateName(name *string) []secerr.FieldError {
	if name == nil {
		return nil
	}
	if utf8.RuneCountInString(strings.TrimSpace(*name)) > maxNameLength {
		return []secerr.FieldError{{
			Field:   "name",
			Message: "Name is too long",
			Code:    "max_length",
			Params:  map[string]any{"max": maxNameLength},
		}}
	}
	return nil
}

func trimName(name *string) *string {
	if name == nil {
		return nil
	}
	v := strings.TrimSpace(*name)
	if v == "" {
		return nil
	}
	return &v
}

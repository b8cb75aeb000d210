package identity

import (
	"context"
	"encoding/json"
	"time"
)

// Principal is the canonical user record, including its session-security fields.
//
// RefreshTokenHash and RefreshTokenExpiresAt are always set or cleared together.
// PreviousRefreshTokenHash holds the digest superseded by the last rotation and
// is used only for reuse detection.
type Principal struct {
	ID           string
	Email        string
	EmailNorm    string
	Name         *string
	PasswordHash string

	IsActive      bool
	EmailVerified bool
	DeletedAt     *time.Time

	Settings                json.RawMessage
	NotificationPreferences json.RawMessage

	RefreshTokenHash         *string
	PreviousRefreshTokenHash *string
	RefreshTokenExpiresAt    *time.Time
	LastTokenInvalidation    *time.Time

	LoginCount          int64
	LastSuccessfulLogin *time.Time
	LastActivityAt      *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Deleted reports whether the principal is soft-deleted.
func (p Principal) Deleted() bool { return p.DeletedAt != nil }

// Active reports whether the principal may hold a session.
func (p Principal) Active() bool { return p.IsActive && p.DeletedAt == nil }

// HasSession reports whether a refresh token is currently stored.
func (p Principal) HasSession() bool { return p.RefreshTokenHash != nil }

// SafeUser is the redacted principal view returned to clients.
// It never carries the password hash or any refresh-token state.
type SafeUser struct {
	ID                      string          `json:"id"`
	Email                   string          `json:"email"`
	Name                    *string         `json:"name"`
	CreatedAt               time.Time       `json:"createdAt"`
	UpdatedAt               time.Time       `json:"updatedAt"`
	EmailVerified           bool            `json:"emailVerified"`
	IsActive                bool            `json:"isActive"`
	DeletedAt               *time.Time      `json:"deletedAt"`
	Settings                json.RawMessage `json:"settings"`
	NotificationPreferences json.RawMessage `json:"notificationPreferences"`
	LoginCount              int64           `json:"loginCount"`
	LastSuccessfulLogin     *time.Time      `json:"lastSuccessfulLogin"`
	LastActivityAt          *time.Time      `json:"lastActivityAt"`
}

// Safe projects p onto the client-facing view.
func (p Principal) Safe() SafeUser {
	return SafeUser{
		ID:                      p.ID,
		Email:                   p.Email,
		Name:                    p.Name,
		CreatedAt:               p.CreatedAt,
		UpdatedAt:               p.UpdatedAt,
		EmailVerified:           p.EmailVerified,
		IsActive:                p.IsActive,
		DeletedAt:               p.DeletedAt,
		Settings:                jsonOrEmptyObject(p.Settings),
		NotificationPreferences: jsonOrEmptyObject(p.NotificationPreferences),
		LoginCount:              p.LoginCount,
		LastSuccessfulLogin:     p.LastSuccessfulLogin,
		LastActivityAt:          p.LastActivityAt,
	}
}

func jsonOrEmptyObject(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return raw
}

// CreatePrincipalInput describes a registration. PasswordHash is already encoded.
type CreatePrincipalInput struct {
	Email        string
	Name         *string
	PasswordHash string
	Now          time.Time
}

// StartSessionInput installs a fresh refresh token after a successful
// credential check and bumps login telemetry.
type StartSessionInput struct {
	PrincipalID  string
	RefreshToken string
	ExpiresAt    time.Time
	Now          time.Time
}

// RotateInput replaces OldToken with NewToken, only while OldToken is still current.
type RotateInput struct {
	PrincipalID string
	OldToken    string
	NewToken    string
	ExpiresAt   time.Time
	Now         time.Time
}

// Store is the session store boundary over the principal record.
//
// Lookups return NotFoundError when nothing matches. Raw refresh tokens are
// hashed by the store before they are compared or persisted.
type Store interface {
	FindByEmail(ctx context.Context, email string) (Principal, error)
	FindByID(ctx context.Context, id string) (Principal, error)
	FindByRefreshToken(ctx context.Context, refreshToken string) (Principal, error)

	// FindByPreviousRefreshToken matches the token superseded by the last rotation.
	FindByPreviousRefreshToken(ctx context.Context, refreshToken string) (Principal, error)

	// CreatePrincipal returns ConflictError{Field: "email"} when the normalized
	// email already exists, soft-deleted rows included.
	CreatePrincipal(ctx context.Context, in CreatePrincipalInput) (Principal, error)

	StartSession(ctx context.Context, in StartSessionInput) error

	// RotateRefreshToken is a compare-and-swap on the stored digest.
	// It returns ErrNotActive if the stored token no longer equals OldToken.
	RotateRefreshToken(ctx context.Context, in RotateInput) error

	// ClearSession nulls the refresh state and sets the invalidation watermark to now.
	ClearSession(ctx context.Context, id string, now time.Time) error

	// TouchActivity updates last_activity_at. Callers treat failures as non-fatal.
	TouchActivity(ctx context.Context, id string, now time.Time) error

	// UpdatePasswordHash replaces the stored hash. Session state is untouched.
	UpdatePasswordHash(ctx context.Context, id, passwordHash string, now time.Time) error
}

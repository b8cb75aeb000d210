package session

import (
	"time"

	"github.com/google/uuid"
)

// Issued is a freshly minted token and its claims.
type Issued struct {
	Token  string
	Claims Claims
}

// Pair is an access token plus refresh token minted together.
type Pair struct {
	Access  Issued
	Refresh Issued
}

// Manager mints and parses tokens. It is immutable and safe for concurrent use.
type Manager struct {
	codec      Codec
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewManager validates cfg and builds the configured codec.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		codec Codec
		err   error
	)
	switch cfg.Format {
	case FormatPaseto:
		codec, err = NewPasetoV4PublicCodec(cfg.Issuer, cfg.PasetoV4SecretKeyHex)
	default:
		codec, err = NewJWTCodec(cfg.Issuer, cfg.JWTSecret)
	}
	if err != nil {
		return nil, err
	}

	return NewManagerWithCodec(codec, cfg)
}

// NewManagerWithCodec builds a Manager around an existing Codec.
func NewManagerWithCodec(codec Codec, cfg Config) (*Manager, error) {
	if codec == nil || cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 {
		return nil, ErrConfig
	}
	return &Manager{
		codec:      codec,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
	}, nil
}

// AccessTTL returns the access-token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.accessTTL }

// RefreshTTL returns the refresh-token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.refreshTTL }

// IssueAccess signs {userId, iat: now, exp: now+AccessTTL}.
func (m *Manager) IssueAccess(userID string, now time.Time) (Issued, error) {
	return m.issue(userID, KindAccess, m.accessTTL, now)
}

// IssueRefresh signs {userId, type: "refresh", iat: now, exp: now+RefreshTTL}.
func (m *Manager) IssueRefresh(userID string, now time.Time) (Issued, error) {
	return m.issue(userID, KindRefresh, m.refreshTTL, now)
}

// IssuePair mints an access and a refresh token sharing the same issue time.
func (m *Manager) IssuePair(userID string, now time.Time) (Pair, error) {
	access, err := m.IssueAccess(userID, now)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := m.IssueRefresh(userID, now)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Access: access, Refresh: refresh}, nil
}

func (m *Manager) issue(userID string, kind Kind, ttl time.Duration, now time.Time) (Issued, error) {
	if userID == "" {
		return Issued{}, ErrInvalidToken
	}
	now = now.UTC().Truncate(IssueResolution)

	cl := Claims{
		UserID:    userID,
		Kind:      kind,
		ID:        uuid.NewString(),
		Issuer:    m.issuer,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	tok, err := m.codec.Encode(cl)
	if err != nil {
		return Issued{}, err
	}
	return Issued{Token: tok, Claims: cl}, nil
}

// Parse verifies signature and kind, then expiry against now.
// Failures are ErrInvalidToken or *ExpiredError.
func (m *Manager) Parse(tok string, want Kind, now time.Time) (Claims, error) {
	cl, err := m.codec.Decode(tok)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	if cl.Kind != want {
		return Claims{}, ErrInvalidToken
	}
	if cl.ExpiresAt.Before(now) {
		return Claims{}, &ExpiredError{Kind: want, ExpiredAt: cl.ExpiresAt}
	}
	return cl, nil
}

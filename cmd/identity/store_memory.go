package identity

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"notekeep/cmd/identity/ids"
	"notekeep/cmd/security/token"
)

// InMemoryStore is a process-local Store used in development and tests.
// All methods are safe for concurrent use; rotation is a CAS under the mutex.
type InMemoryStore struct {
	mu     sync.Mutex
	hasher token.Hasher

	byID    map[string]*Principal
	byEmail map[string]string // email_norm -> id
	byToken map[string]string // current refresh digest -> id
	byPrev  map[string]string // previous refresh digest -> id
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty store hashing refresh tokens with h.
func NewInMemoryStore(h token.Hasher) *InMemoryStore {
	return &InMemoryStore{
		hasher:  h,
		byID:    make(map[string]*Principal),
		byEmail: make(map[string]string),
		byToken: make(map[string]string),
		byPrev:  make(map[string]string),
	}
}

func (s *InMemoryStore) FindByEmail(ctx context.Context, email string) (Principal, error) {
	const op = "identity.FindByEmail"
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return Principal{}, notFoundPrincipal(op)
	}
	return clonePrincipal(s.byID[id]), nil
}

func (s *InMemoryStore) FindByID(ctx context.Context, id string) (Principal, error) {
	const op = "identity.FindByID"
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[strings.TrimSpace(id)]
	if !ok {
		return Principal{}, notFoundPrincipal(op)
	}
	return clonePrincipal(p), nil
}

func (s *InMemoryStore) FindByRefreshToken(ctx context.Context, refreshToken string) (Principal, error) {
	return s.findByDigest(ctx, "identity.FindByRefreshToken", refreshToken, false)
}

func (s *InMemoryStore) FindByPreviousRefreshToken(ctx context.Context, refreshToken string) (Principal, error) {
	return s.findByDigest(ctx, "identity.FindByPreviousRefreshToken", refreshToken, true)
}

func (s *InMemoryStore) findByDigest(ctx context.Context, op, refreshToken string, previous bool) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	if strings.TrimSpace(refreshToken) == "" {
		return Principal{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "missing refresh_token"}
	}
	digest := s.hasher.Hash(refreshToken)

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.byToken
	if previous {
		idx = s.byPrev
	}
	id, ok := idx[digest]
	if !ok {
		return Principal{}, notFoundPrincipal(op)
	}
	return clonePrincipal(s.byID[id]), nil
}

func (s *InMemoryStore) CreatePrincipal(ctx context.Context, in CreatePrincipalInput) (Principal, error) {
	const op = "identity.CreatePrincipal"
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}

	email := strings.TrimSpace(in.Email)
	if email == "" {
		return Principal{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "email is required"}
	}
	if in.PasswordHash == "" {
		return Principal{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "password hash is required"}
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Principal{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	norm := NormalizeEmail(email)
	if _, exists := s.byEmail[norm]; exists {
		return Principal{}, ConflictError{Op: op, Field: "email"}
	}

	p := &Principal{
		ID:                      id,
		Email:                   email,
		EmailNorm:               norm,
		Name:                    trimPtr(in.Name),
		PasswordHash:            in.PasswordHash,
		IsActive:                true,
		Settings:                json.RawMessage(`{}`),
		NotificationPreferences: json.RawMessage(`{}`),
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	s.byID[id] = p
	s.byEmail[norm] = id

	return clonePrincipal(p), nil
}

func (s *InMemoryStore) StartSession(ctx context.Context, in StartSessionInput) error {
	const op = "identity.StartSession"
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(in.RefreshToken) == "" || in.ExpiresAt.IsZero() {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "refresh token and expiry are required"}
	}
	digest := s.hasher.Hash(in.RefreshToken)

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[in.PrincipalID]
	if !ok {
		return notFoundPrincipal(op)
	}
	if owner, taken := s.byToken[digest]; taken && owner != p.ID {
		return ConflictError{Op: op, Field: "refresh_token"}
	}

	s.dropTokenIndexes(p)
	exp := in.ExpiresAt
	now := nowOr(in.Now)
	p.RefreshTokenHash = &digest
	p.PreviousRefreshTokenHash = nil
	p.RefreshTokenExpiresAt = &exp
	p.LoginCount++
	p.LastSuccessfulLogin = &now
	p.LastActivityAt = &now
	p.UpdatedAt = now
	s.byToken[digest] = p.ID

	return nil
}

func (s *InMemoryStore) RotateRefreshToken(ctx context.Context, in RotateInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(in.OldToken) == "" || strings.TrimSpace(in.NewToken) == "" || in.ExpiresAt.IsZero() {
		return OpError{Op: "identity.RotateRefreshToken", Kind: ErrInvalidInput, Msg: "tokens and expiry are required"}
	}
	oldDigest := s.hasher.Hash(in.OldToken)
	newDigest := s.hasher.Hash(in.NewToken)

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[in.PrincipalID]
	if !ok || p.RefreshTokenHash == nil {
		return notActiveRotate()
	}
	if !token.Equal(*p.RefreshTokenHash, oldDigest) {
		return notActiveRotate()
	}

	s.dropTokenIndexes(p)
	exp := in.ExpiresAt
	now := nowOr(in.Now)
	p.PreviousRefreshTokenHash = &oldDigest
	p.RefreshTokenHash = &newDigest
	p.RefreshTokenExpiresAt = &exp
	p.LastActivityAt = &now
	p.UpdatedAt = now
	s.byToken[newDigest] = p.ID
	s.byPrev[oldDigest] = p.ID

	return nil
}

func (s *InMemoryStore) ClearSession(ctx context.Context, id string, now time.Time) error {
	const op = "identity.ClearSession"
	if err := ctx.Err(); err != nil {
		return err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return notFoundPrincipal(op)
	}

	s.dropTokenIndexes(p)
	p.RefreshTokenHash = nil
	p.PreviousRefreshTokenHash = nil
	p.RefreshTokenExpiresAt = nil
	p.LastTokenInvalidation = &now
	p.UpdatedAt = now

	return nil
}

func (s *InMemoryStore) TouchActivity(ctx context.Context, id string, now time.Time) error {
	const op = "identity.TouchActivity"
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return notFoundPrincipal(op)
	}
	now = nowOr(now)
	p.LastActivityAt = &now
	return nil
}

func (s *InMemoryStore) UpdatePasswordHash(ctx context.Context, id, passwordHash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"
	if err := ctx.Err(); err != nil {
		return err
	}
	if passwordHash == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty password hash"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return notFoundPrincipal(op)
	}
	p.PasswordHash = passwordHash
	p.UpdatedAt = nowOr(now)
	return nil
}

// SetActive toggles the active flag. Used by administrative tooling and tests.
func (s *InMemoryStore) SetActive(id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return notFoundPrincipal("identity.SetActive")
	}
	p.IsActive = active
	return nil
}

// SoftDelete marks the principal deleted at now.
func (s *InMemoryStore) SoftDelete(id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return notFoundPrincipal("identity.SoftDelete")
	}
	p.DeletedAt = &now
	return nil
}

// ExpireRefreshToken moves the stored refresh expiry. Tests use it to simulate time passing.
func (s *InMemoryStore) ExpireRefreshToken(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok || p.RefreshTokenHash == nil {
		return notFoundPrincipal("identity.ExpireRefreshToken")
	}
	p.RefreshTokenExpiresAt = &at
	return nil
}

// must hold s.mu
func (s *InMemoryStore) dropTokenIndexes(p *Principal) {
	if p.RefreshTokenHash != nil {
		delete(s.byToken, *p.RefreshTokenHash)
	}
	if p.PreviousRefreshTokenHash != nil {
		delete(s.byPrev, *p.PreviousRefreshTokenHash)
	}
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func clonePrincipal(p *Principal) Principal {
	out := *p
	out.Name = clonePtr(p.Name)
	out.DeletedAt = clonePtr(p.DeletedAt)
	out.RefreshTokenHash = clonePtr(p.RefreshTokenHash)
	out.PreviousRefreshTokenHash = clonePtr(p.PreviousRefreshTokenHash)
	out.RefreshTokenExpiresAt = clonePtr(p.RefreshTokenExpiresAt)
	out.LastTokenInvalidation = clonePtr(p.LastTokenInvalidation)
	out.LastSuccessfulLogin = clonePtr(p.LastSuccessfulLogin)
	out.LastActivityAt = clonePtr(p.LastActivityAt)
	out.Settings = append(json.RawMessage(nil), p.Settings...)
	out.NotificationPreferences = append(json.RawMessage(nil), p.NotificationPreferences...)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// trimPtr trims a string pointer, returning nil if result is empty.
func trimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return nil
	}
	return &s
}

package flow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"notekeep/cmd/identity"
	"notekeep/cmd/internal/auth/secerr"
	"notekeep/cmd/internal/auth/session"
	"notekeep/cmd/internal/ratelimit"
	"notekeep/cmd/security/password"
)

const defaultTouchTimeout = 2 * time.Second

// Controller runs the auth flows. It is safe for concurrent use.
type Controller struct {
	log       *slog.Logger
	store     identity.Store
	passwords password.Config
	tokens    *session.Manager
	verifier  *session.Verifier
	limiter   ratelimit.Limiter

	touchTimeout time.Duration
	dummyHash    string
}

// Option configures optional Controller dependencies.
type Option func(*Controller)

// WithLogger overrides slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithLimiter enables login throttling.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(c *Controller) { c.limiter = l }
}

// WithTouchTimeout bounds the activity update done on authenticated requests.
func WithTouchTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.touchTimeout = d
		}
	}
}

// New wires a Controller. A nil tokens manager is accepted so that a process
// started without a signing secret reports a configuration error per request
// instead of panicking.
func New(store identity.Store, passwords password.Config, tokens *session.Manager, opts ...Option) (*Controller, error) {
	if store == nil {
		return nil, errors.New("flow: nil store")
	}

	c := &Controller{
		log:          slog.Default(),
		store:        store,
		passwords:    passwords,
		tokens:       tokens,
		touchTimeout: defaultTouchTimeout,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	if tokens != nil {
		c.verifier = session.NewVerifier(tokens, store)
	}

	// Verified against when the email is unknown so timing does not leak it.
	hash, err := passwords.Hash("timing-equaliser-" + time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	c.dummyHash = hash

	return c, nil
}

// Tokens exposes the manager, mainly for cookie max-age.
func (c *Controller) Tokens() *session.Manager { return c.tokens }

// Register creates a principal and starts its first session.
func (c *Controller) Register(ctx context.Context, in RegisterInput, now time.Time) (Session, error) {
	if fields := validateEmail(in.Email); len(fields) > 0 {
		return Session{}, secerr.Validation("Invalid registration data", fields)
	}
	if c.tokens == nil {
		return Session{}, configError()
	}

	email := strings.TrimSpace(in.Email)
	existing, err := c.store.FindByEmail(ctx, email)
	switch {
	case err == nil && !existing.Deleted():
		return Session{}, emailTaken()
	case err != nil && !identity.IsNotFound(err):
		return Session{}, c.storeError("auth.register.lookup.fail", err)
	}

	var fields []secerr.FieldError
	if perr := c.passwords.Validate(in.Password); perr != nil {
		var pe *password.PolicyError
		if !errors.As(perr, &pe) {
			return Session{}, secerr.Server(perr, "password_policy")
		}
		fields = append(fields, secerr.PasswordPolicy(pe).Validation...)
	}
	fields = append(fields, validateName(in.Name)...)
	if len(fields) > 0 {
		return Session{}, secerr.Validation("Invalid registration data", fields)
	}

	hash, err := c.passwords.Hash(in.Password)
	if err != nil {
		return Session{}, secerr.Server(err, "hash")
	}

	p, err := c.store.CreatePrincipal(ctx, identity.CreatePrincipalInput{
		Email:        email,
		Name:         trimName(in.Name),
		PasswordHash: hash,
		Now:          now,
	})
	if err != nil {
		// Soft-deleted rows keep their email; they surface here as a conflict.
		var ce identity.ConflictError
		if errors.As(err, &ce) && ce.Field == "email" {
			return Session{}, emailTaken()
		}
		return Session{}, c.storeError("auth.register.create.fail", err)
	}

	s, err := c.startSession(ctx, p, now)
	if err != nil {
		return Session{}, err
	}
	c.log.Info("auth.register.ok", "user_id", p.ID)
	return s, nil
}

// Login checks credentials and starts a new session, replacing any previous one.
func (c *Controller) Login(ctx context.Context, in LoginInput, now time.Time) (Session, error) {
	email := identity.NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		var fields []secerr.FieldError
		if email == "" {
			fields = append(fields, secerr.FieldError{Field: "email", Message: "Email is required", Code: "required"})
		}
		if in.Password == "" {
			fields = append(fields, secerr.FieldError{Field: "password", Message: "Password is required", Code: "required"})
		}
		return Session{}, secerr.Validation("Email and password are required", fields)
	}
	if c.tokens == nil {
		return Session{}, configError()
	}

	keys := loginKeys(email, in.ClientIP)
	if blocked := c.throttled(ctx, keys, now); blocked != nil {
		return Session{}, blocked
	}

	// No stored hash can match input Hash would refuse, so skip Argon2 for it.
	if limit := c.passwords.Policy.MaxLength; limit > 0 && utf8.RuneCountInString(in.Password) > limit {
		c.recordFailure(ctx, keys, now)
		c.log.Info("auth.login.fail", "reason", "password_too_long")
		return Session{}, secerr.InvalidCredentials()
	}

	p, err := c.store.FindByEmail(ctx, email)
	if err != nil {
		if !identity.IsNotFound(err) {
			return Session{}, c.storeError("auth.login.lookup.fail", err)
		}
		c.passwords.Matches(c.dummyHash, in.Password)
		c.recordFailure(ctx, keys, now)
		c.log.Info("auth.login.fail", "reason", "unknown_email")
		return Session{}, secerr.InvalidCredentials()
	}

	if !c.passwords.Matches(p.PasswordHash, in.Password) || p.Deleted() {
		c.recordFailure(ctx, keys, now)
		c.log.Info("auth.login.fail", "reason", "bad_password", "user_id", p.ID)
		return Session{}, secerr.InvalidCredentials()
	}
	if !p.IsActive {
		c.log.Info("auth.login.fail", "reason", "account_disabled", "user_id", p.ID)
		return Session{}, secerr.AccountNotActive("disabled")
	}

	c.resetFailures(ctx, ratelimit.LoginEmailKey(email))
	c.upgradeHash(ctx, p, in.Password, now)

	s, err := c.startSession(ctx, p, now)
	if err != nil {
		return Session{}, err
	}
	c.log.Info("auth.login.ok", "user_id", p.ID)
	return s, nil
}

// Refresh rotates the refresh token and mints a new access token.
func (c *Controller) Refresh(ctx context.Context, refreshToken string, now time.Time) (Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Session{}, secerr.Authentication("No refresh token provided", "missing_refresh_token")
	}
	if c.tokens == nil {
		return Session{}, configError()
	}

	cl, err := c.tokens.Parse(refreshToken, session.KindRefresh, now)
	if err != nil {
		var expired *session.ExpiredError
		if errors.As(err, &expired) {
			return Session{}, secerr.TokenExpired(string(session.KindRefresh), expired.ExpiredAt)
		}
		return Session{}, secerr.InvalidToken(string(session.KindRefresh), "malformed")
	}

	p, err := c.store.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		if !identity.IsNotFound(err) {
			return Session{}, c.storeError("auth.refresh.lookup.fail", err)
		}
		return Session{}, c.unrecognisedRefresh(ctx, refreshToken, cl, now)
	}

	if p.ID != cl.UserID {
		c.log.Warn("auth.refresh.subject_mismatch", "user_id", p.ID)
		return Session{}, secerr.InvalidToken(string(session.KindRefresh), "subject_mismatch")
	}
	if p.RefreshTokenExpiresAt == nil {
		return Session{}, secerr.InvalidToken(string(session.KindRefresh), "corrupt_session")
	}
	if p.RefreshTokenExpiresAt.Before(now) {
		return Session{}, secerr.TokenExpired(string(session.KindRefresh), *p.RefreshTokenExpiresAt)
	}
	if !p.Active() {
		return Session{}, secerr.AccountNotActive(accountStatus(p))
	}

	pair, err := c.tokens.IssuePair(p.ID, now)
	if err != nil {
		return Session{}, secerr.Server(err, "token_issue")
	}
	err = c.store.RotateRefreshToken(ctx, identity.RotateInput{
		PrincipalID: p.ID,
		OldToken:    refreshToken,
		NewToken:    pair.Refresh.Token,
		ExpiresAt:   pair.Refresh.Claims.ExpiresAt,
		Now:         now,
	})
	if err != nil {
		if identity.IsNotActive(err) {
			c.log.Info("auth.refresh.superseded", "user_id", p.ID)
			return Session{}, secerr.InvalidToken(string(session.KindRefresh), "superseded")
		}
		return Session{}, c.storeError("auth.refresh.rotate.fail", err)
	}

	c.log.Debug("auth.refresh.ok", "user_id", p.ID)
	return sessionFrom(p, pair), nil
}

// unrecognisedRefresh handles a validly signed refresh token that is not the
// current one. If it was the one superseded by the last rotation, the session
// is treated as stolen and cleared.
func (c *Controller) unrecognisedRefresh(ctx context.Context, refreshToken string, cl session.Claims, now time.Time) error {
	p, err := c.store.FindByPreviousRefreshToken(ctx, refreshToken)
	if err != nil {
		if identity.IsNotFound(err) {
			return secerr.InvalidToken(string(session.KindRefresh), "not_recognized")
		}
		return c.storeError("auth.refresh.reuse_lookup.fail", err)
	}

	if err := c.store.ClearSession(ctx, p.ID, now); err != nil {
		return c.storeError("auth.refresh.reuse_clear.fail", err)
	}
	c.log.Warn("auth.refresh.reuse_detected", "user_id", p.ID)
	return secerr.TokenInvalidated(string(session.KindRefresh), "refresh_token_reuse", cl.IssuedAt, now)
}

// Logout clears the session bound to refreshToken. Unknown or missing tokens
// succeed without touching the store.
func (c *Controller) Logout(ctx context.Context, refreshToken string, now time.Time) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}

	p, err := c.store.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		if identity.IsNotFound(err) || identity.IsInvalidInput(err) {
			return nil
		}
		return c.storeError("auth.logout.lookup.fail", err)
	}

	if err := c.store.ClearSession(ctx, p.ID, now); err != nil {
		return c.storeError("auth.logout.clear.fail", err)
	}
	c.log.Info("auth.logout.ok", "user_id", p.ID)
	return nil
}

// Authenticate verifies an access token and returns the bound principal.
// Activity telemetry is updated on a best-effort basis.
func (c *Controller) Authenticate(ctx context.Context, accessToken string, now time.Time) (identity.Principal, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return identity.Principal{}, secerr.Authentication("No access token provided", "missing_access_token")
	}
	if c.verifier == nil {
		return identity.Principal{}, configError()
	}

	v, err := c.verifier.VerifyAccess(ctx, accessToken, now)
	if err != nil {
		var (
			expired     *session.ExpiredError
			invalidated *session.InvalidatedError
		)
		switch {
		case errors.As(err, &expired):
			return identity.Principal{}, secerr.TokenExpired(string(session.KindAccess), expired.ExpiredAt)
		case errors.As(err, &invalidated):
			return identity.Principal{}, secerr.TokenInvalidated(string(session.KindAccess), "invalidated", invalidated.IssuedAt, invalidated.InvalidatedAt)
		case errors.Is(err, session.ErrInvalidToken):
			return identity.Principal{}, secerr.InvalidToken(string(session.KindAccess), "malformed")
		case identity.IsNotFound(err):
			return identity.Principal{}, secerr.NotFound("user", "", "authenticate")
		default:
			return identity.Principal{}, c.storeError("auth.authenticate.lookup.fail", err)
		}
	}

	p := v.Principal
	if p.Deleted() {
		return identity.Principal{}, secerr.NotFound("user", p.ID, "authenticate")
	}
	if !p.IsActive {
		return identity.Principal{}, secerr.Authorization("Account is disabled", "account_disabled", "disabled")
	}

	c.touch(ctx, p.ID, now)
	return p, nil
}

// GetCurrentUser loads the redacted view of an already authenticated principal.
func (c *Controller) GetCurrentUser(ctx context.Context, principalID string) (identity.SafeUser, error) {
	p, err := c.store.FindByID(ctx, principalID)
	if err != nil {
		if identity.IsNotFound(err) {
			return identity.SafeUser{}, secerr.NotFound("user", principalID, "read")
		}
		return identity.SafeUser{}, c.storeError("auth.me.lookup.fail", err)
	}
	if p.Deleted() {
		return identity.SafeUser{}, secerr.NotFound("user", principalID, "read")
	}
	return p.Safe(), nil
}

func (c *Controller) startSession(ctx context.Context, p identity.Principal, now time.Time) (Session, error) {
	pair, err := c.tokens.IssuePair(p.ID, now)
	if err != nil {
		return Session{}, secerr.Server(err, "token_issue")
	}
	err = c.store.StartSession(ctx, identity.StartSessionInput{
		PrincipalID:  p.ID,
		RefreshToken: pair.Refresh.Token,
		ExpiresAt:    pair.Refresh.Claims.ExpiresAt,
		Now:          now,
	})
	if err != nil {
		return Session{}, c.storeError("auth.session.start.fail", err)
	}

	// Mirror what StartSession persisted so the response needs no re-read.
	at := now.UTC()
	exp := pair.Refresh.Claims.ExpiresAt
	p.LoginCount++
	p.LastSuccessfulLogin = &at
	p.LastActivityAt = &at
	p.RefreshTokenExpiresAt = &exp

	return sessionFrom(p, pair), nil
}

func (c *Controller) touch(ctx context.Context, id string, now time.Time) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.touchTimeout)
	defer cancel()
	if err := c.store.TouchActivity(tctx, id, now); err != nil {
		c.log.Warn("auth.touch_activity.fail", "user_id", id, "err", err)
	}
}

// upgradeHash re-encodes a verified password whose hash predates the current
// Argon2id parameters. Failures are logged; the old hash keeps working.
func (c *Controller) upgradeHash(ctx context.Context, p identity.Principal, pw string, now time.Time) {
	if !c.passwords.NeedsRehash(p.PasswordHash) {
		return
	}
	hash, err := c.passwords.Hash(pw)
	if err != nil {
		c.log.Warn("auth.rehash.fail", "user_id", p.ID, "err", err)
		return
	}
	if err := c.store.UpdatePasswordHash(ctx, p.ID, hash, now); err != nil {
		c.log.Warn("auth.rehash.fail", "user_id", p.ID, "err", err)
		return
	}
	c.log.Info("auth.rehash.ok", "user_id", p.ID)
}

func (c *Controller) throttled(ctx context.Context, keys []string, now time.Time) error {
	if c.limiter == nil {
		return nil
	}
	var retryAfter time.Duration
	for _, k := range keys {
		d, err := c.limiter.Check(ctx, k, now)
		if err != nil {
			c.log.Error("auth.login.throttle.fail", "err", err)
			continue
		}
		if d.Blocked && d.RetryAfter > retryAfter {
			retryAfter = d.RetryAfter
		}
	}
	if retryAfter > 0 {
		c.log.Warn("auth.login.throttled", "retry_after", retryAfter.String())
		return secerr.RateLimited(retryAfter)
	}
	return nil
}

func (c *Controller) recordFailure(ctx context.Context, keys []string, now time.Time) {
	if c.limiter == nil {
		return
	}
	for _, k := range keys {
		if err := c.limiter.Fail(ctx, k, now); err != nil {
			c.log.Error("auth.login.throttle_record.fail", "err", err)
		}
	}
}

func (c *Controller) resetFailures(ctx context.Context, key string) {
	if c.limiter == nil {
		return
	}
	if err := c.limiter.Reset(ctx, key); err != nil {
		c.log.Error("auth.login.throttle_reset.fail", "err", err)
	}
}

func (c *Controller) storeError(event string, err error) error {
	se := secerr.Classify(err)
	if se.Kind == secerr.KindServer && se.Reason == "internal" {
		se = secerr.Server(err, "store")
	}
	c.log.Error(event, "err", err)
	return se
}

func loginKeys(email, ip string) []string {
	keys := []string{ratelimit.LoginEmailKey(email)}
	if ip = strings.TrimSpace(ip); ip != "" {
		keys = append(keys, ratelimit.LoginIPKey(ip))
	}
	return keys
}

func sessionFrom(p identity.Principal, pair session.Pair) Session {
	return Session{
		User:             p.Safe(),
		AccessToken:      pair.Access.Token,
		AccessExpiresAt:  pair.Access.Claims.ExpiresAt,
		RefreshToken:     pair.Refresh.Token,
		RefreshExpiresAt: pair.Refresh.Claims.ExpiresAt,
	}
}

func accountStatus(p identity.Principal) string {
	if p.Deleted() {
		return "deleted"
	}
	return "disabled"
}

func emailTaken() error {
	return secerr.Authentication("Email already registered", "email_taken")
}

func configError() error {
	return secerr.Server(session.ErrConfig, "configuration")
}

package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"notekeep/cmd/identity/ids"
	"notekeep/cmd/security/token"
)

// PostgresStore implements Store over PostgreSQL.
//
// Design notes:
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Schema/table identifiers are safely quoted to avoid SQL injection via identifiers.
// - RotateRefreshToken is a single conditional UPDATE keyed on the presented digest.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	hasher token.Hasher
}

var _ Store = (*PostgresStore)(nil)

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "notekeep").
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentIsValid(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithTokenHasher sets the refresh-token digest function (default SHA-256).
func WithTokenHasher(h token.Hasher) PostgresOption {
	return func(s *PostgresStore) error {
		s.hasher = h
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore with secure defaults.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "notekeep",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

// Schema returns the configured schema name.
func (s *PostgresStore) Schema() string { return s.schema }

const principalColumns = `id, email, email_norm, name, password_hash,
       is_active, email_verified, deleted_at,
       settings, notification_preferences,
       refresh_token_hash, previous_refresh_token_hash, refresh_token_expires_at, last_token_invalidation,
       login_count, last_successful_login, last_activity_at,
       created_at, updated_at`

func scanPrincipal(row pgx.Row) (Principal, error) {
	var p Principal
	err := row.Scan(
		&p.ID, &p.Email, &p.EmailNorm, &p.Name, &p.PasswordHash,
		&p.IsActive, &p.EmailVerified, &p.DeletedAt,
		&p.Settings, &p.NotificationPreferences,
		&p.RefreshTokenHash, &p.PreviousRefreshTokenHash, &p.RefreshTokenExpiresAt, &p.LastTokenInvalidation,
		&p.LoginCount, &p.LastSuccessfulLogin, &p.LastActivityAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func (s *PostgresStore) findOne(ctx context.Context, op, where string, arg any) (Principal, error) {
	if s == nil || s.pool == nil {
		return Principal{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}

	users := pgIdent(s.schema, "users")
	p, err := scanPrincipal(s.pool.QueryRow(ctx,
		`SELECT `+principalColumns+`
		   FROM `+users+`
		  WHERE `+where,
		arg,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, notFoundPrincipal(op)
		}
		return Principal{}, err
	}
	return p, nil
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (Principal, error) {
	return s.findOne(ctx, "identity.FindByEmail", "email_norm = $1", NormalizeEmail(email))
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (Principal, error) {
	id = strings.TrimSpace(id)
	if !ids.Valid(id) {
		return Principal{}, notFoundPrincipal("identity.FindByID")
	}
	return s.findOne(ctx, "identity.FindByID", "id = $1", id)
}

func (s *PostgresStore) FindByRefreshToken(ctx context.Context, refreshToken string) (Principal, error) {
	const op = "identity.FindByRefreshToken"
	if strings.TrimSpace(refreshToken) == "" {
		return Principal{}, pgInvalid(op, "missing refresh_token")
	}
	return s.findOne(ctx, op, "refresh_token_hash = $1", s.hasher.Hash(refreshToken))
}

func (s *PostgresStore) FindByPreviousRefreshToken(ctx context.Context, refreshToken string) (Principal, error) {
	const op = "identity.FindByPreviousRefreshToken"
	if strings.TrimSpace(refreshToken) == "" {
		return Principal{}, pgInvalid(op, "missing refresh_token")
	}
	return s.findOne(ctx, op, "previous_refresh_token_hash = $1", s.hasher.Hash(refreshToken))
}

// CreatePrincipal inserts a new active principal.
func (s *PostgresStore) CreatePrincipal(ctx context.Context, in CreatePrincipalInput) (Principal, error) {
	const op = "identity.CreatePrincipal"

	if s == nil || s.pool == nil {
		return Principal{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}

	email := strings.TrimSpace(in.Email)
	if email == "" {
		return Principal{}, pgInvalid(op, "email is required")
	}
	if in.PasswordHash == "" {
		return Principal{}, pgInvalid(op, "password hash is required")
	}

	now := nowOr(in.Now)
	id, err := ids.NewULID(now)
	if err != nil {
		return Principal{}, err
	}

	users := pgIdent(s.schema, "users")
	p, err := scanPrincipal(s.pool.QueryRow(ctx,
		`INSERT INTO `+users+` (
		     id, email, email_norm, name, password_hash, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $6)
		 RETURNING `+principalColumns,
		id, email, NormalizeEmail(email), trimPtr(in.Name), in.PasswordHash, now,
	))
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Principal{}, ConflictError{Op: op, Field: field}
		}
		return Principal{}, err
	}
	return p, nil
}

// StartSession installs a new refresh token and records the login.
func (s *PostgresStore) StartSession(ctx context.Context, in StartSessionInput) error {
	const op = "identity.StartSession"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(in.RefreshToken) == "" || in.ExpiresAt.IsZero() {
		return pgInvalid(op, "refresh token and expiry are required")
	}

	now := nowOr(in.Now)
	users := pgIdent(s.schema, "users")

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+users+`
		    SET refresh_token_hash = $1,
		        previous_refresh_token_hash = NULL,
		        refresh_token_expires_at = $2,
		        login_count = login_count + 1,
		        last_successful_login = $3,
		        last_activity_at = $3,
		        updated_at = $3
		  WHERE id = $4`,
		s.hasher.Hash(in.RefreshToken), in.ExpiresAt, now, in.PrincipalID,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return ConflictError{Op: op, Field: field}
		}
		return err
	}
	if ct.RowsAffected() == 0 {
		return notFoundPrincipal(op)
	}
	return nil
}

// RotateRefreshToken swaps the stored digest only while it still equals the
// presented one. A concurrent rotation that already won leaves zero rows
// affected and yields ErrNotActive.
func (s *PostgresStore) RotateRefreshToken(ctx context.Context, in RotateInput) error {
	const op = "identity.RotateRefreshToken"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(in.OldToken) == "" || strings.TrimSpace(in.NewToken) == "" || in.ExpiresAt.IsZero() {
		return pgInvalid(op, "tokens and expiry are required")
	}

	now := nowOr(in.Now)
	oldHash := s.hasher.Hash(in.OldToken)
	newHash := s.hasher.Hash(in.NewToken)
	users := pgIdent(s.schema, "users")

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+users+`
		    SET previous_refresh_token_hash = refresh_token_hash,
		        refresh_token_hash = $1,
		        refresh_token_expires_at = $2,
		        last_activity_at = $3,
		        updated_at = $3
		  WHERE id = $4
		    AND refresh_token_hash = $5`,
		newHash, in.ExpiresAt, now, in.PrincipalID, oldHash,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return ConflictError{Op: op, Field: field}
		}
		return err
	}
	if ct.RowsAffected() != 1 {
		return notActiveRotate()
	}
	return nil
}

// ClearSession nulls refresh state and moves the invalidation watermark to now.
func (s *PostgresStore) ClearSession(ctx context.Context, id string, now time.Time) error {
	const op = "identity.ClearSession"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now = nowOr(now)
	users := pgIdent(s.schema, "users")

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+users+`
		    SET refresh_token_hash = NULL,
		        previous_refresh_token_hash = NULL,
		        refresh_token_expires_at = NULL,
		        last_token_invalidation = $1,
		        updated_at = $1
		  WHERE id = $2`,
		now, id,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return notFoundPrincipal(op)
	}
	return nil
}

// TouchActivity updates last_activity_at.
func (s *PostgresStore) TouchActivity(ctx context.Context, id string, now time.Time) error {
	const op = "identity.TouchActivity"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	users := pgIdent(s.schema, "users")
	ct, err := s.pool.Exec(ctx,
		`UPDATE `+users+` SET last_activity_at = $1 WHERE id = $2`,
		nowOr(now), id,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return notFoundPrincipal(op)
	}
	return nil
}

func (s *PostgresStore) UpdatePasswordHash(ctx context.Context, id, passwordHash string, now time.Time) error {
	const op = "identity.UpdatePasswordHash"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if passwordHash == "" {
		return pgInvalid(op, "empty password hash")
	}

	users := pgIdent(s.schema, "users")
	ct, err := s.pool.Exec(ctx,
		`UPDATE `+users+` SET password_hash = $1, updated_at = $2 WHERE id = $3`,
		passwordHash, nowOr(now), id,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return notFoundPrincipal(op)
	}
	return nil
}

// ---- helpers ----

// pgInvalid standardizes invalid input errors.
func pgInvalid(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}

// pgIdentIsValid checks if a string is a safe Postgres identifier.
func pgIdentIsValid(s string) bool {
	return pgIdentRe.MatchString(s)
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

// pgIdent1 quotes a single identifier.
func pgIdent1(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch c {
	case "uq_users_email_norm":
		return "email", true
	case "uq_users_refresh_token_hash":
		return "refresh_token", true
	default:
		switch {
		case strings.Contains(c, "email"):
			return "email", true
		case strings.Contains(c, "refresh") && strings.Contains(c, "token"):
			return "refresh_token", true
		default:
			return "unique", true
		}
	}
}

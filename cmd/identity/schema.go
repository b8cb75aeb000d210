package identity

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SchemaSQL returns idempotent DDL for the principal table in schema.
func SchemaSQL(schema string) (string, error) {
	if !pgIdentIsValid(schema) {
		return "", fmt.Errorf("identity: invalid schema identifier")
	}
	users := pgIdent(schema, "users")

	return fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  email_norm TEXT NOT NULL,
  name TEXT NULL,
  password_hash TEXT NOT NULL,

  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  email_verified BOOLEAN NOT NULL DEFAULT FALSE,
  deleted_at TIMESTAMPTZ NULL,

  settings JSONB NOT NULL DEFAULT '{}'::jsonb,
  notification_preferences JSONB NOT NULL DEFAULT '{}'::jsonb,

  refresh_token_hash TEXT NULL,
  previous_refresh_token_hash TEXT NULL,
  refresh_token_expires_at TIMESTAMPTZ NULL,
  last_token_invalidation TIMESTAMPTZ NULL,

  login_count BIGINT NOT NULL DEFAULT 0,
  last_successful_login TIMESTAMPTZ NULL,
  last_activity_at TIMESTAMPTZ NULL,

  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_users_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT uq_users_email_norm UNIQUE (email_norm),
  CONSTRAINT uq_users_refresh_token_hash UNIQUE (refresh_token_hash),
  CONSTRAINT chk_users_refresh_pair CHECK (
    (refresh_token_hash IS NULL) = (refresh_token_expires_at IS NULL)
  )
);

CREATE INDEX IF NOT EXISTS idx_users_previous_refresh_token_hash
  ON %s (previous_refresh_token_hash)
  WHERE previous_refresh_token_hash IS NOT NULL;
`, pgIdent1(schema), users, users), nil
}

// EnsureSchema applies SchemaSQL. It is safe to run on every startup.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	ddl, err := SchemaSQL(schema)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, ddl)
	return err
}

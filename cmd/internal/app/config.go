package app

import (
	"strings"
	"time"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	// Env is "development" or "production". Production forces Secure cookies,
	// hides stacks from error envelopes and requires HMAC refresh-token hashing.
	Env string

	HTTPAddr  string
	LogLevel  string
	LogFormat string
	LogColor  bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string

	// If true the users table is created at startup when missing.
	DBAutoMigrate bool

	// RedisURL enables the shared login throttle. Empty keeps it in memory.
	RedisURL string

	LoginMaxFailures int
	LoginWindow      time.Duration

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Security policy:
	// If true, NOTEKEEP_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) and refresh-token hashing must be HMAC-based.
	RequireTokenHMAC bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// Production reports whether the process runs with production policy.
func (c Config) Production() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "production")
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	cfg := Config{
		Env: EnvString("NOTEKEEP_ENV", "development"),

		HTTPAddr:  EnvString("NOTEKEEP_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("NOTEKEEP_LOG_LEVEL", "info"),
		LogFormat: EnvString("NOTEKEEP_LOG_FORMAT", "json"),
		LogColor:  EnvBool("NOTEKEEP_LOG_COLOR", false),

		ReadHeaderTimeout: EnvDuration("NOTEKEEP_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("NOTEKEEP_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("NOTEKEEP_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("NOTEKEEP_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("NOTEKEEP_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL:   EnvString("NOTEKEEP_DATABASE_URL", ""),
		DBMaxConns:    EnvInt32("NOTEKEEP_DB_MAX_CONNS", 10),
		DBMinConns:    EnvInt32("NOTEKEEP_DB_MIN_CONNS", 0),
		DBSchema:      EnvString("NOTEKEEP_DB_SCHEMA", "notekeep"),
		DBAutoMigrate: EnvBool("NOTEKEEP_DB_AUTO_MIGRATE", true),

		RedisURL: EnvString("NOTEKEEP_REDIS_URL", ""),

		LoginMaxFailures: EnvInt("NOTEKEEP_LOGIN_MAX_FAILURES", 5),
		LoginWindow:      EnvDuration("NOTEKEEP_LOGIN_WINDOW", 15*time.Minute),

		ReadinessRequireDB: EnvBool("NOTEKEEP_READINESS_REQUIRE_DB", false),

		CORSAllowedOrigins:   EnvList("NOTEKEEP_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("NOTEKEEP_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("NOTEKEEP_CORS_MAX_AGE_SECONDS", 600),
	}
	cfg.RequireTokenHMAC = cfg.Production() || EnvBool("NOTEKEEP_REQUIRE_TOKEN_HMAC", false)
	return cfg
}

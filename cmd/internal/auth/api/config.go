package authapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"
)

// Config controls the auth HTTP surface and its cookie policy.
type Config struct {
	// Production enables Secure cookies and hides stacks in error envelopes.
	Production bool

	TrustProxy   bool
	MaxBodyBytes int64

	RefreshCookieName string
	CookiePath        string
	CookieDomain      string
	CookieSecure      bool
	CookieSameSite    http.SameSite

	// CSRFEnabled turns on the double-submit check for cookie-bearing endpoints.
	CSRFEnabled    bool
	CSRFCookieName string
	CSRFHeaderName string
}

// DefaultConfig returns the cookie shape clients rely on:
// refreshToken, Path=/, SameSite=Lax, HttpOnly.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:      1 << 20, // 1 MiB
		RefreshCookieName: "refreshToken",
		CookiePath:        "/",
		CookieSameSite:    http.SameSiteLaxMode,
		CSRFCookieName:    "csrfToken",
		CSRFHeaderName:    "X-CSRF-Token",
	}
}

// LoadConfigFromEnv loads auth API config from environment variables with safe defaults.
// Secure defaults to production and can only be forced on, never off, in production.
func LoadConfigFromEnv(production bool) Config {
	def := DefaultConfig()

	cfg := Config{
		Production:        production,
		TrustProxy:        envBool("NOTEKEEP_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:      envInt64("NOTEKEEP_AUTH_MAX_BODY_BYTES", def.MaxBodyBytes),
		RefreshCookieName: envString("NOTEKEEP_AUTH_REFRESH_COOKIE_NAME", def.RefreshCookieName),
		CookiePath:        envString("NOTEKEEP_AUTH_COOKIE_PATH", def.CookiePath),
		CookieDomain:      strings.TrimSpace(os.Getenv("NOTEKEEP_AUTH_COOKIE_DOMAIN")),
		CookieSecure:      envBool("NOTEKEEP_AUTH_COOKIE_SECURE", production),
		CookieSameSite:    parseSameSite(os.Getenv("NOTEKEEP_AUTH_COOKIE_SAMESITE")),
		CSRFEnabled:       envBool("NOTEKEEP_AUTH_CSRF_ENABLED", false),
		CSRFCookieName:    envString("NOTEKEEP_AUTH_CSRF_COOKIE_NAME", def.CSRFCookieName),
		CSRFHeaderName:    envString("NOTEKEEP_AUTH_CSRF_HEADER_NAME", def.CSRFHeaderName),
	}

	return cfg.normalized()
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	if c.RefreshCookieName == "" {
		c.RefreshCookieName = def.RefreshCookieName
	}
	if c.CookiePath == "" {
		c.CookiePath = def.CookiePath
	}
	if c.CSRFCookieName == "" || c.CSRFCookieName == c.RefreshCookieName {
		c.CSRFCookieName = def.CSRFCookieName
	}
	if c.CSRFHeaderName == "" {
		c.CSRFHeaderName = def.CSRFHeaderName
	}
	if c.Production {
		c.CookieSecure = true
	}
	// Browsers drop SameSite=None cookies without Secure.
	if c.CookieSameSite == http.SameSiteNoneMode {
		c.CookieSecure = true
	}
	return c
}

func parseSameSite(raw string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteLaxMode
	}
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

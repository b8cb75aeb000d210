package authapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"notekeep/cmd/identity"
	"notekeep/cmd/internal/auth/flow"
	"notekeep/cmd/internal/auth/secerr"
	"notekeep/cmd/internal/auth/session"
	"notekeep/cmd/security/password"
	"notekeep/cmd/security/token"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type apiFixture struct {
	store   *identity.InMemoryStore
	clock   *testClock
	mux     *http.ServeMux
	metrics *Metrics
}

func newAPIFixture(t *testing.T, mutate func(*Config)) apiFixture {
	t.Helper()

	pw := password.DefaultConfig()
	pw.Params.MemoryKiB = 8 * 1024
	pw.Params.Iterations = 1
	pw.Params.Parallelism = 1

	scfg := session.DefaultConfig()
	scfg.JWTSecret = []byte(strings.Repeat("j", 32))
	tokens, err := session.NewManager(scfg)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := identity.NewInMemoryStore(token.Hasher{})
	ctl, err := flow.New(store, pw, tokens, flow.WithLogger(log))
	require.NoError(t, err)

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	metrics, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	clock := &testClock{now: time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)}
	h, err := NewHandler(log, ctl, cfg, WithClock(clock.Now), WithMetrics(metrics))
	require.NoError(t, err)

	mux := http.NewServeMux()
	h.Register(mux)
	return apiFixture{store: store, clock: clock, mux: mux, metrics: metrics}
}

func (f apiFixture) do(t *testing.T, method, path string, body any, mods ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(ContextWithRequestID(req.Context(), "req-123"))
	for _, m := range mods {
		m(req)
	}

	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	return rr
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value}) }
}

func withBearer(tok string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func withHeader(k, v string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set(k, v) }
}

func csrfCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == "csrfToken" {
			return c
		}
	}
	t.Fatalf("no csrfToken cookie in %v", rr.Header().Values("Set-Cookie"))
	return nil
}

func refreshCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == "refreshToken" {
			return c
		}
	}
	t.Fatalf("no refreshToken cookie in %v", rr.Header().Values("Set-Cookie"))
	return nil
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) secerr.Body {
	t.Helper()
	var env secerr.Envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return env.Error
}

func decodeAuth(t *testing.T, rr *httptest.ResponseRecorder) (map[string]any, string) {
	t.Helper()
	var body struct {
		User        map[string]any `json:"user"`
		AccessToken string         `json:"accessToken"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body.User, body.AccessToken
}

func TestRegister_SetsCookieAndReturnsSafeUser(t *testing.T) {
	f := newAPIFixture(t, nil)

	rr := f.do(t, http.MethodPost, "/auth/register", map[string]string{"email": "a@x.com", "password": "Str0ng!Pass"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	user, access := decodeAuth(t, rr)
	require.Equal(t, "a@x.com", user["email"])
	require.NotEmpty(t, access)
	require.NotContains(t, rr.Body.String(), "passwordHash")
	require.NotContains(t, rr.Body.String(), "refreshToken")

	setCookie := rr.Header().Get("Set-Cookie")
	require.Contains(t, setCookie, "refreshToken=")
	require.Contains(t, setCookie, "HttpOnly")
	require.Contains(t, setCookie, "Path=/")
	require.Contains(t, setCookie, "SameSite=Lax")
	require.Contains(t, setCookie, "Max-Age=604800")
	require.NotContains(t, setCookie, "Secure")

	require.Equal(t, float64(1), testutil.ToFloat64(f.metrics.outcomes.WithLabelValues("register", "ok")))
}

func TestRegister_WeakPassword(t *testing.T) {
	f := newAPIFixture(t, nil)

	rr := f.do(t, http.MethodPost, "/auth/register", map[string]string{"email": "a@x.com", "password": "weak"})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Empty(t, rr.Result().Cookies())

	body := decodeEnvelope(t, rr)
	require.Equal(t, secerr.TypeValidation, body.Type)
	require.Equal(t, 422, body.Code)
	require.Equal(t, "req-123", body.RequestID)
	require.NotEmpty(t, body.Timestamp)

	codes := map[string]bool{}
	for _, v := range body.ValidationErrors {
		codes[v.Code] = true
	}
	for _, want := range []string{"min_length", "uppercase", "digit", "symbol"} {
		require.True(t, codes[want], "missing %s in %v", want, body.ValidationErrors)
	}

	require.Equal(t, float64(1), testutil.ToFloat64(f.metrics.events.WithLabelValues("VALIDATION_ERROR", "422")))
}

func TestRegister_RejectsMalformedBody(t *testing.T) {
	f := newAPIFixture(t, nil)

	rr := f.do(t, http.MethodPost, "/auth/register", map[string]any{"email": "a@x.com", "password": "Str0ng!Pass", "admin": true})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Equal(t, "body", decodeEnvelope(t, rr).ValidationErrors[0].Field)
}

func TestLogin_NoEnumeration(t *testing.T) {
	f := newAPIFixture(t, nil)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/auth/register", map[string]string{"email": "a@x.com", "password": "Str0ng!Pass"}).Code)

	wrong := f.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "a@x.com", "password": "Wr0ng!Pass"})
	missing := f.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "nobody@x.com", "password": "Wr0ng!Pass"})

	require.Equal(t, http.StatusUnauthorized, wrong.Code)
	require.Equal(t, http.StatusUnauthorized, missing.Code)

	a, b := decodeEnvelope(t, wrong), decodeEnvelope(t, missing)
	require.Equal(t, secerr.TypeAuthentication, a.Type)
	require.Equal(t, a.Type, b.Type)
	require.Equal(t, a.Message, b.Message)
	require.Equal(t, a.AuthError, b.AuthError)
	require.Nil(t, a.TokenError)
	require.Equal(t, wrong.Header().Get("WWW-Authenticate"), missing.Header().Get("WWW-Authenticate"))
}

func TestSessionLifecycle(t *testing.T) {
	f := newAPIFixture(t, nil)

	reg := f.do(t, http.MethodPost, "/auth/register", map[string]string{"email": "a@x.com", "password": "Str0ng!Pass"})
	require.Equal(t, http.StatusOK, reg.Code)
	_, access := decodeAuth(t, reg)
	r1 := refreshCookie(t, reg)

	me := f.do(t, http.MethodGet, "/auth/me", nil, withBearer(access))
	require.Equal(t, http.StatusOK, me.Code, me.Body.String())
	var user map[string]any
	require.NoError(t, json.Unmarshal(me.Body.Bytes(), &user))
	require.Equal(t, "a@x.com", user["email"])

	f.clock.Advance(time.Minute)
	ref := f.do(t, http.MethodPost, "/auth/refresh", nil, withCookie(r1))
	require.Equal(t, http.StatusOK, ref.Code, ref.Body.String())
	var refBody map[string]string
	require.NoError(t, json.Unmarshal(ref.Body.Bytes(), &refBody))
	require.NotEmpty(t, refBody["accessToken"])
	require.NotContains(t, refBody, "refreshToken")
	r2 := refreshCookie(t, ref)
	require.NotEqual(t, r1.Value, r2.Value)

	f.clock.Advance(time.Minute)
	out := f.do(t, http.MethodPost, "/auth/logout", nil, withCookie(r2))
	require.Equal(t, http.StatusOK, out.Code)
	cleared := refreshCookie(t, out)
	require.Equal(t, "", cleared.Value)
	require.Less(t, cleared.MaxAge, 0)

	again := f.do(t, http.MethodPost, "/auth/logout", nil, withCookie(r2))
	require.Equal(t, http.StatusOK, again.Code)
	require.JSONEq(t, `{"message":"Logged out successfully"}`, again.Body.String())

	f.clock.Advance(time.Minute)
	stale := f.do(t, http.MethodGet, "/auth/me", nil, withBearer(refBody["accessToken"]))
	require.Equal(t, http.StatusUnauthorized, stale.Code)
	require.Equal(t, secerr.TypeTokenInvalidated, decodeEnvelope(t, stale).Type)
}

func TestRefresh_Failures(t *testing.T) {
	f := newAPIFixture(t, nil)
	reg := f.do(t, http.MethodPost, "/auth/register", map[string]string{"email": "a@x.com", "password": "Str0ng!Pass"})
	require.Equal(t, http.StatusOK, reg.Code)
	r1 := refreshCookie(t, reg)

	missing := f.do(t, http.MethodPost, "/auth/refresh", nil)
	require.Equal(t, http.StatusUnauthorized, missing.Code)
	body := decodeEnvelope(t, missing)
	require.Equal(t, secerr.TypeAuthentication, body.Type)
	require.Equal(t, "No refresh token provided", body.Message)

	p, err := f.store.FindByEmail(t.Context(), "a@x.com")
	require.NoError(t, err)
	require.NoError(t, f.store.ExpireRefreshToken(p.ID, f.clock.Now().Add(-time.Second)))

	expired := f.do(t, http.MethodPost, "/auth/refresh", nil, withCookie(r1))
	require.Equal(t, http.StatusUnauthorized, expired.Code)
	require.Equal(t, secerr.TypeTokenExpired, decodeEnvelope(t, expired).Type)
	require.Empty(t, expired.Result().Cookies(), "no new cookie on failure")
}

func TestRefresh_DeadTokenExpiresCookie(t *testing.T) {
	f := newAPIFixture(t, func(c *Config) { c.CSRFEnabled = true })
	reg := f.do(t, http.MethodPost, "/auth/register", map[string]string{"email": "a@x.com", "password": "Str0ng!Pass"})
	require.Equal(t, http.StatusOK, reg.Code)
	r1 := refreshCookie(t, reg)
	csrf := csrfCookie(t, reg)

	f.clock.Advance(time.Minute)
	ref := f.do(t, http.MethodPost, "/auth/refresh", nil, withCookie(r1), withCookie(csrf), withHeader("X-CSRF-Token", csrf.Value))
	require.Equal(t, http.StatusOK, ref.Code, ref.Body.String())
	r2 := refreshCookie(t, ref)
	csrf = csrfCookie(t, ref)

	f.clock.Advance(time.Minute)
	reuse := f.do(t, http.MethodPost, "/auth/refresh", nil, withCookie(r1), withCookie(csrf), withHeader("X-CSRF-Token", csrf.Value))
	require.Equal(t, http.StatusUnauthorized, reuse.Code)
	body := decodeEnvelope(t, reuse)
	require.Equal(t, secerr.TypeTokenInvalidated, body.Type)
	require.Equal(t, "refresh_token_reuse", body.TokenError.Reason)
	cleared := refreshCookie(t, reuse)
	require.Equal(t, "", cleared.Value)
	require.Less(t, cleared.MaxAge, 0)
	require.True(t, cleared.HttpOnly)
	require.Less(t, csrfCookie(t, reuse).MaxAge, 0)

	// Reuse detection ended the session, so the rotated token is unknown too.
	f.clock.Advance(time.Minute)
	unknown := f.do(t, http.MethodPost, "/auth/refresh", nil, withCookie(r2), withCookie(csrf), withHeader("X-CSRF-Token", csrf.Value))
	require.Equal(t, http.StatusUnauthorized, unknown.Code)
	require.Equal(t, "not_recognized", decodeEnvelope(t, unknown).TokenError.Reason)
	require.Less(t, refreshCookie(t, unknown).MaxAge, 0)
}

func TestMe_RequiresBearer(t *testing.T) {
	f := newAPIFixture(t, nil)

	rr := f.do(t, http.MethodGet, "/auth/me", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, `Bearer realm="notekeep"`, rr.Header().Get("WWW-Authenticate"))

	bad := f.do(t, http.MethodGet, "/auth/me", nil, withBearer("not-a-token"))
	require.Equal(t, http.StatusUnauthorized, bad.Code)
	body := decodeEnvelope(t, bad)
	require.Equal(t, secerr.TypeInvalidToken, body.Type)
	require.Equal(t, "access", body.TokenError.TokenType)
}

func TestMe_DisabledAccountIsForbidden(t *testing.T) {
	f := newAPIFixture(t, nil)
	reg := f.do(t, http.MethodPost, "/auth/register", map[string]string{"email": "a@x.com", "password": "Str0ng!Pass"})
	_, access := decodeAuth(t, reg)

	p, err := f.store.FindByEmail(t.Context(), "a@x.com")
	require.NoError(t, err)
	require.NoError(t, f.store.SetActive(p.ID, false))

	rr := f.do(t, http.MethodGet, "/auth/me", nil, withBearer(access))
	require.Equal(t, http.StatusForbidden, rr.Code)
	body := decodeEnvelope(t, rr)
	require.Equal(t, secerr.TypeAuthorization, body.Type)
	require.Equal(t, "disabled", body.AuthError.AccountStatus)
}

func TestCSRF_DoubleSubmit(t *testing.T) {
	f := newAPIFixture(t, func(c *Config) { c.CSRFEnabled = true })

	reg := f.do(t, http.MethodPost, "/auth/register", map[string]string{"email": "a@x.com", "password": "Str0ng!Pass"})
	require.Equal(t, http.StatusOK, reg.Code)
	r1 := refreshCookie(t, reg)

	var csrf *http.Cookie
	for _, c := range reg.Result().Cookies() {
		if c.Name == "csrfToken" {
			csrf = c
		}
	}
	require.NotNil(t, csrf)

	rr := f.do(t, http.MethodPost, "/auth/refresh", nil, withCookie(r1), withCookie(csrf))
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Equal(t, secerr.TypeCSRF, decodeEnvelope(t, rr).Type)

	f.clock.Advance(time.Second)
	ok := f.do(t, http.MethodPost, "/auth/refresh", nil, withCookie(r1), withCookie(csrf), func(r *http.Request) {
		r.Header.Set("X-CSRF-Token", csrf.Value)
	})
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())
}

func TestProduction_SetsSecureCookie(t *testing.T) {
	f := newAPIFixture(t, func(c *Config) { c.Production = true })

	reg := f.do(t, http.MethodPost, "/auth/register", map[string]string{"email": "a@x.com", "password": "Str0ng!Pass"})
	require.Equal(t, http.StatusOK, reg.Code)
	require.True(t, refreshCookie(t, reg).Secure)
}

// Package main provides a CI-friendly smoke test for the notekeep auth API.
//
// It validates:
//   - register returns a user, an access token and the refreshToken cookie
//   - GET /auth/me accepts the access token
//   - refresh rotates the cookie and the old refresh token stops working
//   - logout is idempotent and invalidates outstanding access tokens
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const refreshCookieName = "refreshToken"

type smokeClient struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	verbose bool
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func main() {
	var (
		baseURL  = flag.String("url", "http://127.0.0.1:8080", "API base URL")
		password = flag.String("password", "Sm0ke!Passw0rd", "Password for the throwaway account")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-request timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	base, err := validateBaseURL(*baseURL)
	if err != nil {
		fatalf("invalid -url: %v", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		fatalf("cookie jar: %v", err)
	}
	c := &smokeClient{
		base:    base,
		http:    &http.Client{Jar: jar},
		timeout: *timeout,
		verbose: *verbose,
	}
	ctx := context.Background()

	email := "smoke-" + strings.ToLower(ulid.Make().String()) + "@example.com"

	var reg struct {
		User struct {
			ID    string `json:"id"`
			Email string `json:"email"`
		} `json:"user"`
		AccessToken string `json:"accessToken"`
	}
	c.mustPost(ctx, "/auth/register", map[string]string{"email": email, "password": *password}, http.StatusOK, &reg)
	if reg.User.Email != email || reg.AccessToken == "" {
		fatalf("register: unexpected body user=%+v token=%q", reg.User, reg.AccessToken)
	}
	r1 := c.mustRefreshCookie()
	c.logf("registered %s (%s)", email, reg.User.ID)

	var me struct {
		ID string `json:"id"`
	}
	c.mustGet(ctx, "/auth/me", reg.AccessToken, http.StatusOK, &me)
	if me.ID != reg.User.ID {
		fatalf("me: id mismatch got=%q want=%q", me.ID, reg.User.ID)
	}

	// Token timestamps must move forward before rotating.
	time.Sleep(10 * time.Millisecond)

	var ref struct {
		AccessToken string `json:"accessToken"`
	}
	c.mustPost(ctx, "/auth/refresh", nil, http.StatusOK, &ref)
	r2 := c.mustRefreshCookie()
	if r2 == r1 || ref.AccessToken == "" {
		fatalf("refresh: token not rotated")
	}
	c.logf("refresh rotated cookie")

	c.setRefreshCookie(r1)
	var reuse apiError
	c.mustPost(ctx, "/auth/refresh", nil, http.StatusUnauthorized, &reuse)
	c.logf("stale refresh rejected: %s", reuse.Error.Type)

	c.setRefreshCookie(r2)
	c.mustPost(ctx, "/auth/logout", nil, http.StatusOK, nil)
	c.mustPost(ctx, "/auth/logout", nil, http.StatusOK, nil)

	var stale apiError
	c.mustGet(ctx, "/auth/me", ref.AccessToken, http.StatusUnauthorized, &stale)
	if stale.Error.Type != "TOKEN_INVALIDATED" {
		fatalf("me after logout: got type=%q want=TOKEN_INVALIDATED", stale.Error.Type)
	}

	fmt.Println("OK: auth smoke passed")
}

func validateBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(raw), "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return nil, errors.New("missing host")
	}
	return u, nil
}

func (c *smokeClient) mustPost(parent context.Context, path string, body any, wantStatus int, out any) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fatalf("marshal %s: %v", path, err)
		}
		rd = strings.NewReader(string(b))
	}
	c.mustDo(parent, http.MethodPost, path, rd, "", wantStatus, out)
}

func (c *smokeClient) mustGet(parent context.Context, path, bearer string, wantStatus int, out any) {
	c.mustDo(parent, http.MethodGet, path, nil, bearer, wantStatus, out)
}

func (c *smokeClient) mustDo(parent context.Context, method, path string, body io.Reader, bearer string, wantStatus int, out any) {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		fatalf("%s %s: read body: %v", method, path, err)
	}
	c.logf("%s %s -> %d %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))

	if resp.StatusCode != wantStatus {
		fatalf("%s %s: status=%d want=%d body=%s", method, path, resp.StatusCode, wantStatus, raw)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}

func (c *smokeClient) mustRefreshCookie() string {
	for _, ck := range c.http.Jar.Cookies(c.base) {
		if ck.Name == refreshCookieName && ck.Value != "" {
			return ck.Value
		}
	}
	fatalf("no %s cookie in jar", refreshCookieName)
	return ""
}

func (c *smokeClient) setRefreshCookie(v string) {
	c.http.Jar.SetCookies(c.base, []*http.Cookie{{Name: refreshCookieName, Value: v, Path: "/"}})
}

func (c *smokeClient) logf(format string, args ...any) {
	if c.verbose {
		fmt.Fprintf(os.Stderr, "  "+format+"\n", args...)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}

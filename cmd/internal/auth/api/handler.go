package authapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"notekeep/cmd/internal/auth/flow"
	"notekeep/cmd/internal/auth/secerr"
	"notekeep/cmd/internal/auth/session"
)

// Handler wires HTTP auth endpoints to the flow controller.
type Handler struct {
	log     *slog.Logger
	cfg     Config
	flow    *flow.Controller
	errs    *secerr.Responder
	metrics *Metrics
	now     func() time.Time
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithMetrics records outcomes and security events on m.
func WithMetrics(m *Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithClock overrides time.Now. Tests use it to move time.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, ctl *flow.Controller, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if ctl == nil {
		return nil, errors.New("auth: nil flow controller")
	}
	if log == nil {
		log = slog.Default()
	}

	h := &Handler{
		log:  log,
		cfg:  cfg.normalized(),
		flow: ctl,
		now:  time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}

	now := h.now
	h.errs = secerr.NewResponder(log, h.cfg.Production,
		secerr.WithClock(func() time.Time { return now() }),
		secerr.WithObserver(h.metrics),
	)
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/refresh", h.handleRefresh)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.Handle("GET /auth/me", h.RequireAuth(http.HandlerFunc(h.handleMe)))
}

// RequireAuth verifies the bearer access token and binds the principal id
// into the request context for next.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := h.flow.Authenticate(r.Context(), bearerToken(r), h.now().UTC())
		if err != nil {
			h.fail(w, r, "authenticate", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(session.WithPrincipalID(r.Context(), p.ID)))
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		h.fail(w, r, "register", err)
		return
	}

	s, err := h.flow.Register(r.Context(), flow.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	}, h.now().UTC())
	if err != nil {
		h.fail(w, r, "register", err)
		return
	}

	h.writeSession(w, r, "register", s)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		h.fail(w, r, "login", err)
		return
	}

	in := flow.LoginInput{Email: req.Email, Password: req.Password}
	if ip := clientIP(r, h.cfg.TrustProxy); ip != nil {
		in.ClientIP = ip.String()
	}

	s, err := h.flow.Login(r.Context(), in, h.now().UTC())
	if err != nil {
		h.fail(w, r, "login", err)
		return
	}

	h.writeSession(w, r, "login", s)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	refreshToken, ok := h.refreshTokenFromCookie(r)
	if ok && h.cfg.CSRFEnabled && !h.csrfDoubleSubmitValid(r) {
		h.fail(w, r, "refresh", secerr.CSRF("double_submit_mismatch"))
		return
	}

	s, err := h.flow.Refresh(r.Context(), refreshToken, h.now().UTC())
	if err != nil {
		if deadRefreshToken(err) {
			h.clearSessionCookies(w)
		}
		h.fail(w, r, "refresh", err)
		return
	}

	if err := h.setSessionCookies(w, s.RefreshToken, h.refreshMaxAge()); err != nil {
		h.fail(w, r, "refresh", secerr.Server(err, "cookie"))
		return
	}
	h.metrics.observeOutcome("refresh", nil)
	writeJSON(w, http.StatusOK, refreshResponse{AccessToken: s.AccessToken})
}

// deadRefreshToken reports failures after which the presented cookie can
// never succeed again, so the client should stop sending it.
func deadRefreshToken(err error) bool {
	var se *secerr.Error
	if !errors.As(err, &se) || se.Token == nil {
		return false
	}
	switch se.Token.Reason {
	case "refresh_token_reuse", "not_recognized":
		return true
	}
	return false
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	refreshToken, ok := h.refreshTokenFromCookie(r)
	if ok && h.cfg.CSRFEnabled && !h.csrfDoubleSubmitValid(r) {
		h.fail(w, r, "logout", secerr.CSRF("double_submit_mismatch"))
		return
	}

	if err := h.flow.Logout(r.Context(), refreshToken, h.now().UTC()); err != nil {
		h.fail(w, r, "logout", err)
		return
	}

	h.clearSessionCookies(w)
	h.metrics.observeOutcome("logout", nil)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := session.PrincipalIDFromContext(r.Context())
	if !ok {
		h.fail(w, r, "me", secerr.Authentication("Authentication required", "missing_principal"))
		return
	}

	u, err := h.flow.GetCurrentUser(r.Context(), id)
	if err != nil {
		h.fail(w, r, "me", err)
		return
	}

	writeJSON(w, http.StatusOK, u)
}

func (h *Handler) writeSession(w http.ResponseWriter, r *http.Request, op string, s flow.Session) {
	if err := h.setSessionCookies(w, s.RefreshToken, h.refreshMaxAge()); err != nil {
		h.fail(w, r, op, secerr.Server(err, "cookie"))
		return
	}
	h.metrics.observeOutcome(op, nil)
	writeJSON(w, http.StatusOK, authResponse{User: s.User, AccessToken: s.AccessToken})
}

func (h *Handler) refreshMaxAge() time.Duration {
	if m := h.flow.Tokens(); m != nil {
		return m.RefreshTTL()
	}
	return session.DefaultConfig().RefreshTokenTTL
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.metrics.observeOutcome(op, err)
	h.errs.Write(r.Context(), w, h.requestMeta(r), err)
}

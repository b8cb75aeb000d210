package secerr

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Envelope is the uniform error body: {"error": {...}}.
type Envelope struct {
	Error Body `json:"error"`
}

// Body is the envelope payload. Sub-detail objects are mutually optional.
type Body struct {
	Type             Type            `json:"type"`
	Message          string          `json:"message"`
	Code             int             `json:"code"`
	Timestamp        string          `json:"timestamp"`
	RequestID        string          `json:"requestId,omitempty"`
	ValidationErrors []FieldError    `json:"validationErrors,omitempty"`
	ResourceError    *ResourceDetail `json:"resourceError,omitempty"`
	AuthError        *AuthDetail     `json:"authError,omitempty"`
	TokenError       *TokenDetail    `json:"tokenError,omitempty"`
	Stack            string          `json:"stack,omitempty"`
}

// Envelope renders e for a client. The stack is included only when includeStack is set.
func (e *Error) Envelope(now time.Time, requestID string, includeStack bool) Envelope {
	b := Body{
		Type:             e.Type(),
		Message:          e.Message,
		Code:             e.Status(),
		Timestamp:        now.UTC().Format(time.RFC3339Nano),
		RequestID:        requestID,
		ValidationErrors: e.Validation,
		ResourceError:    e.Resource,
		AuthError:        e.Auth,
		TokenError:       e.Token,
	}
	if includeStack && len(e.stack) > 0 {
		b.Stack = string(e.stack)
	}
	return Envelope{Error: b}
}

// RequestMeta is the request context attached to every security event.
type RequestMeta struct {
	Method    string
	Path      string
	RequestID string
	ClientIP  string
	UserAgent string
}

// Observer is notified once per reported error (metrics hook).
type Observer interface {
	ObserveSecurityEvent(t Type, status int)
}

// Responder writes classified errors and emits the audit trail.
type Responder struct {
	log        *slog.Logger
	production bool
	now        func() time.Time
	observer   Observer
}

// ResponderOption configures a Responder.
type ResponderOption func(*Responder)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) ResponderOption {
	return func(r *Responder) {
		if now != nil {
			r.now = now
		}
	}
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) ResponderOption {
	return func(r *Responder) { r.observer = o }
}

// NewResponder builds a Responder. In production stacks never reach clients.
func NewResponder(log *slog.Logger, production bool, opts ...ResponderOption) *Responder {
	if log == nil {
		log = slog.Default()
	}
	r := &Responder{
		log:        log,
		production: production,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Write classifies err, logs the security event and writes the envelope.
func (r *Responder) Write(ctx context.Context, w http.ResponseWriter, meta RequestMeta, err error) *Error {
	se := Classify(err)
	if se == nil {
		return nil
	}

	r.LogSecurityEvent(ctx, meta, se)

	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	if se.Kind == KindRateLimited && se.RetryAfter > 0 {
		secs := int(se.RetryAfter.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		h.Set("Retry-After", strconv.Itoa(secs))
	}
	if se.Status() == http.StatusUnauthorized {
		h.Set("WWW-Authenticate", `Bearer realm="notekeep"`)
	}

	w.WriteHeader(se.Status())
	_ = json.NewEncoder(w).Encode(se.Envelope(r.now(), meta.RequestID, !r.production))
	return se
}

// LogSecurityEvent emits one structured record for a classified error.
// It never logs credentials or token values; Cause is assumed to be free of them.
func (r *Responder) LogSecurityEvent(ctx context.Context, meta RequestMeta, se *Error) {
	level := slog.LevelWarn
	if se.Kind == KindServer {
		level = slog.LevelError
	}

	attrs := []slog.Attr{
		slog.String("type", string(se.Type())),
		slog.String("kind", se.Kind.String()),
		slog.Int("status", se.Status()),
		slog.String("message", se.Message),
		slog.String("request_id", meta.RequestID),
		slog.String("method", meta.Method),
		slog.String("path", meta.Path),
	}
	if meta.ClientIP != "" {
		attrs = append(attrs, slog.String("client_ip", meta.ClientIP))
	}
	if meta.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", meta.UserAgent))
	}
	if se.Auth != nil {
		attrs = append(attrs, slog.String("auth_reason", se.Auth.Reason))
	}
	if se.Token != nil {
		attrs = append(attrs, slog.String("token_type", se.Token.TokenType), slog.String("token_reason", se.Token.Reason))
	}
	if n := len(se.Validation); n > 0 {
		attrs = append(attrs, slog.Int("validation_errors", n))
	}
	if se.Reason != "" {
		attrs = append(attrs, slog.String("reason", se.Reason))
	}
	if se.Cause != nil {
		attrs = append(attrs, slog.String("cause", se.Cause.Error()))
	}

	r.log.LogAttrs(ctx, level, "security.event", attrs...)

	if r.observer != nil {
		r.observer.ObserveSecurityEvent(se.Type(), se.Status())
	}
}

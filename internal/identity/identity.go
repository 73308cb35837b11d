// Package identity provides anonymous per-client identity and session id hints.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	ClientCookieName   = "skills_client_id"
	ClientHeaderName   = "X-Client-ID"
	SessionHeaderName  = "X-Session-ID"
	clientCookieMaxAge = 30 * 24 * time.Hour
	clientIDPrefix     = "client_"
)

type contextKey int

const (
	clientIDKey contextKey = iota
	sessionIDKey
)

var (
	clientIDPattern  = regexp.MustCompile(`^client_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// ClientIDFromContext extracts the client ID from the request context.
func ClientIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(clientIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext returns the session id supplied by the request
// header or query, or "" when the caller did not send a valid one.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// WithClientID returns ctx carrying id as the client ID.
func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, clientIDKey, id)
}

// NewSessionID returns a fresh random session id.
func NewSessionID() string {
	return uuid.NewString()
}

// SanitizeSessionID trims id and reports whether it is usable as a session id.
func SanitizeSessionID(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return "", false
	}
	return id, true
}

func generateClientID() string {
	return clientIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func isValidClientID(id string) bool {
	return clientIDPattern.MatchString(id)
}

func getOrCreateClientID(w http.ResponseWriter, r *http.Request, isDev bool) string {
	if id := r.Header.Get(ClientHeaderName); isValidClientID(id) {
		return id
	}

	id := generateClientID()
	if c, err := r.Cookie(ClientCookieName); err == nil && isValidClientID(c.Value) {
		id = c.Value
	}

	http.SetCookie(w, &http.Cookie{
		Name:     ClientCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(clientCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(clientCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
	return id
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get("session_id")
	}
	sid, _ = SanitizeSessionID(sid)
	return sid
}

// Middleware injects the anonymous client ID and any session id hint.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := getOrCreateClientID(w, r, isDev)
			ctx := WithClientID(r.Context(), clientID)
			if sid := sessionIDFromRequest(r); sid != "" {
				ctx = context.WithValue(ctx, sessionIDKey, sid)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package gateway

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/flemzord/scout/internal/security"
)

// Reviewer names recorded for clients that do not log in as a user.
const (
	ReviewerToken = "token"
	ReviewerLocal = "local"
)

var (
	errNoCredentials  = errors.New("missing credentials")
	errBadCredentials = errors.New("invalid credentials")
)

type reviewerKey struct{}

func withReviewer(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, reviewerKey{}, name)
}

// Reviewer returns who the gateway authenticated for ctx: the basic-auth
// user, ReviewerToken for a bearer client, or ReviewerLocal for a loopback
// client when no credentials are configured. Empty outside the API.
func Reviewer(ctx context.Context) string {
	name, _ := ctx.Value(reviewerKey{}).(string)
	return name
}

// authMiddleware admits clients holding the configured bearer token or
// basic credentials and tags the request with the reviewer's name. Every
// attempt is audited. Attempts beyond limiter's rate get 429.
func authMiddleware(cfg AuthConfig, audit *security.AuditLogger, limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter != nil && !limiter.Allow() {
				auditAuth(audit, security.EventRateLimit, r, "", "auth attempts throttled")
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}

			reviewer, err := cfg.authenticate(r)
			if err != nil {
				auditAuth(audit, security.EventAuthFailure, r, "", err.Error())
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			auditAuth(audit, security.EventAuthSuccess, r, reviewer, "")
			next.ServeHTTP(w, r.WithContext(withReviewer(r.Context(), reviewer)))
		})
	}
}

// authenticate returns the reviewer name for r's credentials. Both secrets
// are compared in constant time.
func (a AuthConfig) authenticate(r *http.Request) (string, error) {
	token, hasToken := bearerToken(r)
	if a.BearerToken != "" && hasToken && constantTimeEqual(token, a.BearerToken) {
		return ReviewerToken, nil
	}
	user, pass, hasBasic := r.BasicAuth()
	if a.BasicUser != "" && a.BasicPass != "" && hasBasic &&
		constantTimeEqual(user, a.BasicUser) && constantTimeEqual(pass, a.BasicPass) {
		return user, nil
	}
	if !hasToken && !hasBasic && r.Header.Get("Authorization") == "" {
		return "", errNoCredentials
	}
	return "", errBadCredentials
}

// bearerToken reads the Authorization header. Browsers cannot set headers
// on a WebSocket handshake, so the review stream may pass the token as the
// access_token query parameter instead.
func bearerToken(r *http.Request) (string, bool) {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return token, true
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		if token := r.URL.Query().Get("access_token"); token != "" {
			return token, true
		}
	}
	return "", false
}

// loopbackOnly rejects clients that are not on a loopback address. It
// guards the API when no credentials are configured.
func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
			writeError(w, http.StatusForbidden, "auth is not configured; API is restricted to loopback")
			return
		}
		next.ServeHTTP(w, r.WithContext(withReviewer(r.Context(), ReviewerLocal)))
	})
}

func auditAuth(audit *security.AuditLogger, typ security.EventType, r *http.Request, reviewer, detail string) {
	meta := map[string]string{
		"remote_addr": r.RemoteAddr,
		"method":      r.Method,
		"path":        r.URL.Path,
	}
	if reviewer != "" {
		meta["reviewer"] = reviewer
	}
	audit.Log(security.AuditEvent{Type: typ, Detail: detail, Metadata: meta})
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/sakif/snippet-vault/internal/apperror"
)

// SessionCookie is the name of the HttpOnly cookie carrying the session
// token.
const SessionCookie = "session"

// contextKey is unexported so only this package can set or read the owner.
type contextKey struct{}

var ownerKey contextKey

// WithOwner returns a copy of ctx carrying owner.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey, owner)
}

// OwnerFromContext returns the owner set by RequireAuth or OptionalAuth.
// It returns ("", false) for anonymous requests.
func OwnerFromContext(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey).(string)
	return owner, ok && owner != ""
}

// UnauthorizedFunc writes the response for a rejected request. The handler
// package supplies one so 401s share the JSON error shape of every other
// failure.
type UnauthorizedFunc func(w http.ResponseWriter, r *http.Request, err error)

// RequireAuth rejects requests without a valid session and stores the owner
// in the context of those that have one.
//
// MIDDLEWARE CHAIN:
//
//	req → RequestID → Logger → RequireAuth → handler
//
// A request stopped here never reaches the handler, so handlers behind it
// can rely on OwnerFromContext returning ok.
func RequireAuth(tokens *TokenService, reject UnauthorizedFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner, err := ownerFromRequest(r, tokens)
			if err != nil {
				reject(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
		})
	}
}

// OptionalAuth stores the owner when a valid session is present and lets
// every request through. Sign-out uses it: an expired session still gets
// its cookie cleared.
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if owner, err := ownerFromRequest(r, tokens); err == nil {
				r = r.WithContext(WithOwner(r.Context(), owner))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ownerFromRequest reads the session token from the Authorization header
// ("Bearer <token>", used by the CLI and scripts) or, failing that, from the
// session cookie set by the browser login.
func ownerFromRequest(r *http.Request, tokens *TokenService) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return "", apperror.Unauthorized("malformed Authorization header")
		}
		return tokens.Validate(strings.TrimSpace(token))
	}

	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return "", apperror.Unauthorized("no session")
	}
	return tokens.Validate(cookie.Value)
}

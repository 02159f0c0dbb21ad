package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"coin_market/internal/models"
)

// contextKey is a custom type used for storing values in a context without risking collisions.
type contextKey string

// ContextAccountID is the key used to store and retrieve the account ID from the request context.
const ContextAccountID contextKey = "contextAccountID"

// SessionCookieName is the name of the cookie carrying the session token.
const SessionCookieName = "session"

// SetSessionCookie writes the session token as an HTTP-only cookie living as long as the token.
func SetSessionCookie(w http.ResponseWriter, token string, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie on the client.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// RequireSession is an HTTP middleware that resolves the caller from the session cookie.
// The verified account ID is stored in the request context; requests without a valid
// session are answered with 401 and never reach the wrapped handler.
func RequireSession(authority *Authority) func(h http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				writeErrorResponse(w, "missing session", http.StatusUnauthorized)
				return
			}

			accountID, err := authority.Verify(cookie.Value)
			if errors.Is(err, ErrSigningKeyMissing) {
				writeErrorResponse(w, "internal server error", http.StatusInternalServerError)
				return
			}
			if err != nil {
				writeErrorResponse(w, "invalid session", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ContextAccountID, accountID)
			h.ServeHTTP(w, r.WithContext(ctx))
		}
		return http.HandlerFunc(fn)
	}
}

// AccountIDFromContext returns the account ID stored by RequireSession.
func AccountIDFromContext(ctx context.Context) (int64, bool) {
	accountID, ok := ctx.Value(ContextAccountID).(int64)
	return accountID, ok && accountID > 0
}

// writeErrorResponse writes a JSON-formatted error response to the HTTP response writer.
func writeErrorResponse(res http.ResponseWriter, errorInfo string, statusCode int) {
	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(statusCode)
	json.NewEncoder(res).Encode(models.ErrorResponse{Errors: errorInfo})
}

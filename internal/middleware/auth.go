package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/AlinhoWhat/SHousBackend/internal/auth"
)

type contextKey string

const UserIDKey contextKey = "user_id"

// TokenCookie is the cookie the web client stores its session token in.
const TokenCookie = "session_token"

// AuthMiddleware resolves the caller identity from a bearer token found in
// the session cookie, the Authorization header or, for websocket upgrades
// from browsers, the token query parameter.
func AuthMiddleware(tokens *auth.Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := tokenFrom(r)
			if token == "" {
				unauthorized(w)
				return
			}

			claims, err := tokens.Verify(token)
			if err != nil {
				unauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, claims.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserID returns the authenticated caller, if any.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserIDKey).(string)
	return id, ok && id != ""
}

func tokenFrom(r *http.Request) string {
	if cookie, err := r.Cookie(TokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"message":"Not authenticated!"}`))
}

package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/aiox-platform/jarvis/internal/api"
)

type contextKey string

const ClaimsKey contextKey = "token_claims"

// TokenQueryParam carries the token for WebSocket clients that cannot set headers.
const TokenQueryParam = "access_token"

// Middleware requires a valid token. Inside a /{sessionID} route the token
// must also grant that session.
func Middleware(tokens *TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := tokenFrom(r)
			if !ok {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}

			claims, err := tokens.Validate(raw)
			if err != nil {
				api.HandleError(w, api.ErrInvalidToken)
				return
			}

			if id := chi.URLParam(r, "sessionID"); id != "" && !claims.Allows(id) {
				api.HandleError(w, api.ErrForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireOperator rejects device tokens. It must run after Middleware.
func RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := GetClaims(r.Context())
		if claims == nil {
			api.HandleError(w, api.ErrUnauthorized)
			return
		}
		if claims.Role != RoleOperator {
			api.HandleError(w, api.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(ClaimsKey).(*Claims)
	return claims
}

func tokenFrom(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if q := r.URL.Query().Get(TokenQueryParam); q != "" {
		return q, true
	}
	return "", false
}

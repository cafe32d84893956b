package security

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey string

const claimsKey contextKey = "jwt_claims"

// AuthMiddleware rejects requests without a valid bearer token and stores
// the claims on the request context. An empty secret disables auth.
func AuthMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(secret) == 0 {
			slog.Warn("JWT authentication disabled: api.jwtSecret not set")
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, ErrMissingToken)
				return
			}
			claims, err := ValidateToken(token, secret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
		})
	}
}

// RequireScope checks the token scope against the route table. Requests
// without claims pass: auth is disabled.
func RequireScope() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := GetClaims(r)
			if err == nil && !CheckPermission(claims.Scope, r.Method, r.URL.Path) {
				writeError(w, http.StatusForbidden, ErrInsufficientScope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetClaims returns the claims AuthMiddleware stored on the request.
func GetClaims(r *http.Request) (*Claims, error) {
	claims, ok := r.Context().Value(claimsKey).(*Claims)
	if !ok || claims == nil {
		return nil, ErrMissingToken
	}
	return claims, nil
}

// bearerToken reads the Authorization header. Browsers cannot set headers on
// a websocket upgrade, so the access_token query parameter is accepted when
// the header is absent.
func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		tok := r.URL.Query().Get("access_token")
		return tok, tok != ""
	}
	scheme, tok, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || tok == "" {
		return "", false
	}
	return tok, true
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

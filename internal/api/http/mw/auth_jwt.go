package mw

import (
	"context"
	"net/http"

	"whalewatch/internal/security"
)

// Key for the authenticated subject in ctx
type claimsCtxKey struct{}

type JWTMiddleware struct {
	verifier *security.RS256Verifier
}

func NewJWTMiddleware(v *security.RS256Verifier) *JWTMiddleware {
	if v == nil {
		panic("JWT verifier cannot be nil")
	}
	return &JWTMiddleware{verifier: v}
}

func (m *JWTMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.verifier.VerifyBearer(r.Header.Get("Authorization"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if claims.Subject == "" {
			http.Error(w, "token subject is empty", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), claimsCtxKey{}, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserID returns the authenticated subject, empty when the request did not
// pass the JWT middleware.
func UserID(r *http.Request) string {
	if v := r.Context().Value(claimsCtxKey{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithUserID injects a subject directly, for tests and unauthenticated dev
// setups.
func WithUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), claimsCtxKey{}, userID))
}

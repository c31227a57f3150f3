package mw

import (
	"context"
	"net/http"
)

/*
	Identity for deployments running without JWT: the subject comes from a
	trusted header set by the edge proxy (or by hand in dev). Never install
	together with the JWT middleware, the header is spoofable by definition.
*/

type HeaderIdentityMiddleware struct {
	header string
}

func NewHeaderIdentity(header string) *HeaderIdentityMiddleware {
	if header == "" {
		panic("identity header name cannot be empty")
	}
	return &HeaderIdentityMiddleware{header: header}
}

func (m *HeaderIdentityMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if subject := r.Header.Get(m.header); subject != "" {
			r = r.WithContext(context.WithValue(r.Context(), claimsCtxKey{}, subject))
		}
		next.ServeHTTP(w, r)
	})
}

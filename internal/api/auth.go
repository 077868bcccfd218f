package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type ctxKey int

const ownerKey ctxKey = iota

// BearerAuth rejects requests without the expected bearer token.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireOwner extracts the authenticated owner identity supplied by the
// upstream auth collaborator in the X-Owner-ID header. The core trusts it as
// given.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get("X-Owner-ID")
		if owner == "" {
			httpError(w, http.StatusUnauthorized, "authentication_error", "missing X-Owner-ID header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey, owner)))
	})
}

// ownerID returns the owner identity stored by RequireOwner.
func ownerID(r *http.Request) string {
	owner, _ := r.Context().Value(ownerKey).(string)
	return owner
}

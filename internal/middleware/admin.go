package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/onnwee/prerender/internal/apierr"
)

// AdminTokenHeader is an alternative to "Authorization: Bearer <token>".
const AdminTokenHeader = "X-Admin-Token"

// AdminToken protects a handler with a static token. An empty token disables the check.
func AdminToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := bearerToken(r)
			if got == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="prerender"`)
				apierr.WriteErrorWithContext(w, r, apierr.AuthMissing())
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				apierr.WriteErrorWithContext(w, r, apierr.AuthInvalid())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, value, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(value)
		}
	}
	return strings.TrimSpace(r.Header.Get(AdminTokenHeader))
}

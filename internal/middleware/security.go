package middleware

import (
	"net/http"
)

// apiCSP forbids everything; JSON responses never need to load resources.
const apiCSP = "default-src 'none'; frame-ancestors 'none'"

// SecurityHeaders adds headers that are safe for every response, including
// rendered markup served back to crawlers.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("X-Frame-Options", "DENY")

		// Only meaningful over TLS
		if r.TLS != nil {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

// APISecurityHeaders adds a locked-down CSP for JSON endpoints. It is not
// applied to /render, whose markup must keep working when opened in a browser.
func APISecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", apiCSP)
		w.Header().Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		next.ServeHTTP(w, r)
	})
}

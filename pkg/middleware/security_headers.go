package middleware

import "net/http"

// SecurityHeaders sets response headers for a JSON-only API
type SecurityHeaders struct {
	hsts bool
}

// NewSecurityHeaders creates the middleware. HSTS is only sent in production
// so local plain-HTTP runs keep working.
func NewSecurityHeaders(production bool) *SecurityHeaders {
	return &SecurityHeaders{hsts: production}
}

// Middleware wraps next with the headers
func (sh *SecurityHeaders) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		if sh.hsts {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig holds CORS configuration options.
type CORSConfig struct {
	// AllowedOrigins lists origins allowed to make cross-origin requests.
	// "*" allows any origin and is sent verbatim. "*.example.com" matches
	// subdomains.
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	ExposedHeaders []string
	// MaxAge is the value for Access-Control-Max-Age in seconds; 0 omits it.
	MaxAge int
}

// DefaultCORSConfig returns the open policy the browser client relies on.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		ExposedHeaders: []string{RequestIDHeader, "Retry-After"},
	}
}

// CORS returns a middleware that handles Cross-Origin Resource Sharing.
// Preflight requests are answered here with 200 and an empty body.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")
	exposed := strings.Join(cfg.ExposedHeaders, ", ")
	maxAge := ""
	if cfg.MaxAge > 0 {
		maxAge = strconv.Itoa(cfg.MaxAge)
	}

	wildcard := false
	origins := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			wildcard = true
		}
		origins[strings.ToLower(origin)] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			switch {
			case wildcard:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && isOriginAllowed(origin, origins, cfg.AllowedOrigins):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			default:
				if r.Method == http.MethodOptions && origin != "" {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Methods", methods)
			w.Header().Set("Access-Control-Allow-Headers", headers)
			if exposed != "" {
				w.Header().Set("Access-Control-Expose-Headers", exposed)
			}

			if r.Method == http.MethodOptions {
				if maxAge != "" {
					w.Header().Set("Access-Control-Max-Age", maxAge)
				}
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isOriginAllowed checks origin against exact entries and "*.domain" patterns.
func isOriginAllowed(origin string, exact map[string]bool, allowed []string) bool {
	origin = strings.ToLower(origin)
	if exact[origin] {
		return true
	}

	for _, pattern := range allowed {
		if !strings.HasPrefix(pattern, "*.") {
			continue
		}
		suffix := strings.ToLower(pattern[1:])
		if !strings.HasSuffix(origin, suffix) {
			continue
		}
		// "*.example.com" matches "https://api.example.com" but not "https://notexample.com".
		prefix := strings.TrimSuffix(origin, suffix)
		if strings.Contains(prefix, "://") && !strings.HasSuffix(prefix, "://") {
			return true
		}
	}
	return false
}

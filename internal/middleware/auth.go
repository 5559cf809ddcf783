package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/phonechecker/phonechecker/internal/auth"
)

// Authenticate reads an optional "Authorization: Bearer <jwt>" header and
// stores verified claims in the request context. Requests without a token
// pass through anonymously. An invalid token is rejected with 401 when
// enforce is set and ignored otherwise.
func Authenticate(tokens *auth.TokenIssuer, enforce bool, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := tokens.Verify(token)
			if err != nil {
				if enforce {
					logger.Warn("authentication failed",
						slog.String("reason", "invalid_token"),
						slog.String("ip", r.RemoteAddr),
						slog.String("request_id", GetRequestID(r.Context())),
					)
					writeError(w, http.StatusUnauthorized, "Invalid token")
					return
				}
				logger.Debug("ignoring invalid token",
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				next.ServeHTTP(w, r)
				return
			}

			ctx := auth.ContextWithClaims(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

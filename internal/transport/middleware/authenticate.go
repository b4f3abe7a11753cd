// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/adiadia/live-scoreboard/internal/auth"
)

const headerRetryAfter = "Retry-After"
const headerRateLimitLimit = "X-RateLimit-Limit"
const headerRateLimitRemaining = "X-RateLimit-Remaining"

type IdentityResolver interface {
	ResolveToken(ctx context.Context, bearerToken string) (auth.Identity, bool, error)
}

// Authenticate resolves an optional bearer token to a caller identity and
// stores it on the request context. Requests without credentials continue
// as the anonymous viewer; credentials that do not resolve are rejected.
func Authenticate(resolver IdentityResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	if resolver == nil {
		panic("middleware.Authenticate requires a resolver")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if strings.TrimSpace(authHeader) == "" {
				next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), auth.Anonymous)))
				return
			}

			token, ok := bearerToken(authHeader)
			if !ok {
				logger.Warn("request blocked: malformed authorization header",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				unauthorized(w, "missing or invalid bearer token")
				return
			}

			id, found, err := resolver.ResolveToken(r.Context(), token)
			if err != nil {
				logger.Error("identity resolution failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", err,
				)
				http.Error(w, "auth lookup failed", http.StatusInternalServerError)
				return
			}
			if !found {
				logger.Warn("request blocked: unknown bearer token",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				unauthorized(w, "missing or invalid bearer token")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, msg, http.StatusUnauthorized)
}

func bearerToken(header string) (string, bool) {
	schemeToken := strings.SplitN(header, " ", 2)
	if len(schemeToken) != 2 {
		return "", false
	}
	if !strings.EqualFold(schemeToken[0], "Bearer") {
		return "", false
	}
	if schemeToken[1] == "" {
		return "", false
	}
	return schemeToken[1], true
}

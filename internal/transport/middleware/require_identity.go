// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"log/slog"
	"net/http"

	"github.com/adiadia/live-scoreboard/internal/auth"
)

// RequireIdentity rejects anonymous callers with 401. Role checks are left
// to the write path itself.
func RequireIdentity(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := auth.IdentityFromContext(r.Context())
			if !ok || id == auth.Anonymous {
				logger.Warn("write blocked: no credentials",
					"method", r.Method,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				unauthorized(w, "credentials required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

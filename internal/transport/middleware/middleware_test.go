// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/adiadia/live-scoreboard/internal/auth"
)

type mockIdentityResolver struct {
	byToken map[string]auth.Identity
	err     error
}

func (m *mockIdentityResolver) ResolveToken(_ context.Context, token string) (auth.Identity, bool, error) {
	if m.err != nil {
		return auth.Identity{}, false, m.err
	}
	id, ok := m.byToken[token]
	return id, ok, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAuthenticate(t *testing.T) {
	logger := testLogger()
	admin := auth.Identity{Subject: "ops", Role: auth.RoleAdmin}
	resolver := &mockIdentityResolver{byToken: map[string]auth.Identity{"good": admin}}

	run := func(resolver IdentityResolver, header string) (*httptest.ResponseRecorder, auth.Identity) {
		req := httptest.NewRequest(http.MethodGet, "/events", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()

		var seen auth.Identity
		Authenticate(resolver, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = auth.IdentityFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		})).ServeHTTP(rec, req)
		return rec, seen
	}

	t.Run("missing header continues as anonymous", func(t *testing.T) {
		rec, seen := run(resolver, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d got %d", http.StatusOK, rec.Code)
		}
		if seen != auth.Anonymous {
			t.Fatalf("expected anonymous identity got %+v", seen)
		}
	})

	t.Run("malformed header is rejected", func(t *testing.T) {
		rec, _ := run(resolver, "Basic abc")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected status %d got %d", http.StatusUnauthorized, rec.Code)
		}
		if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
			t.Fatalf("expected WWW-Authenticate header %q got %q", "Bearer", got)
		}
	})

	t.Run("unknown token is rejected", func(t *testing.T) {
		rec, _ := run(resolver, "Bearer nope")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected status %d got %d", http.StatusUnauthorized, rec.Code)
		}
	})

	t.Run("resolver error returns internal server error", func(t *testing.T) {
		rec, _ := run(&mockIdentityResolver{err: errors.New("key store down")}, "Bearer good")
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d got %d", http.StatusInternalServerError, rec.Code)
		}
	})

	t.Run("valid token sets identity", func(t *testing.T) {
		rec, seen := run(resolver, "bearer good")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d got %d", http.StatusOK, rec.Code)
		}
		if seen != admin {
			t.Fatalf("expected identity %+v got %+v", admin, seen)
		}
	})
}

func TestAuthenticateIdentityVisibleToOuterMiddleware(t *testing.T) {
	admin := auth.Identity{Subject: "ops", Role: auth.RoleAdmin}
	resolver := &mockIdentityResolver{byToken: map[string]auth.Identity{"good": admin}}

	var outer auth.Identity
	var leaked bool
	inner := Authenticate(resolver, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, recorder := auth.WithIdentityRecorder(r.Context())
		inner.ServeHTTP(w, r.WithContext(ctx))
		outer, _ = recorder.Identity()
		_, leaked = auth.IdentityFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodPost, "/events", nil)
	req.Header.Set("Authorization", "Bearer good")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if outer != admin {
		t.Fatalf("expected outer handler to see %+v got %+v", admin, outer)
	}
	if leaked {
		t.Fatal("expected outer request to stay unmodified")
	}
}

func TestRequireIdentity(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	cases := []struct {
		name string
		ctx  context.Context
		want int
	}{
		{name: "no identity", ctx: context.Background(), want: http.StatusUnauthorized},
		{name: "anonymous", ctx: auth.WithIdentity(context.Background(), auth.Anonymous), want: http.StatusUnauthorized},
		{name: "user", ctx: auth.WithIdentity(context.Background(), auth.Identity{Subject: "u", Role: auth.RoleUser}), want: http.StatusNoContent},
		{name: "admin", ctx: auth.WithIdentity(context.Background(), auth.Identity{Subject: "a", Role: auth.RoleAdmin}), want: http.StatusNoContent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/events", nil).WithContext(tc.ctx)
			rec := httptest.NewRecorder()
			RequireIdentity(testLogger())(ok).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected status %d got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestInMemoryRateLimiter(t *testing.T) {
	limiter := newInMemoryRateLimiter()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		if d := limiter.Allow("ops", 2, now); !d.Allowed {
			t.Fatalf("expected request %d to be allowed", i)
		}
	}
	d := limiter.Allow("ops", 2, now)
	if d.Allowed {
		t.Fatal("expected third request to be limited")
	}
	if d.RetryAfterSeconds != 30 {
		t.Fatalf("expected retry after 30s got %d", d.RetryAfterSeconds)
	}

	if d := limiter.Allow("other", 2, now); !d.Allowed {
		t.Fatal("expected separate bucket per subject")
	}
	if d := limiter.Allow("ops", 2, now.Add(31*time.Second)); !d.Allowed {
		t.Fatal("expected bucket to refill")
	}
}

func TestInMemoryRateLimiterSweepsIdleBuckets(t *testing.T) {
	limiter := newInMemoryRateLimiter()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < sweepThreshold; i++ {
		limiter.Allow(fmt.Sprintf("subject-%d", i), 60, now)
	}
	limiter.Allow("busy", 60, now)
	if len(limiter.buckets) != sweepThreshold+1 {
		t.Fatalf("expected no sweep before buckets refill, got %d", len(limiter.buckets))
	}

	later := now.Add(2 * time.Second)
	limiter.Allow("newcomer", 60, later)
	if _, ok := limiter.buckets["subject-0"]; ok {
		t.Fatal("expected idle full bucket to be evicted")
	}
	if _, ok := limiter.buckets["newcomer"]; !ok {
		t.Fatal("expected newcomer bucket to be admitted")
	}
}

func TestWriteRateLimit(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	handler := writeRateLimitWithLimiter(1, newInMemoryRateLimiter(), func() time.Time { return now }, testLogger())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }),
	)
	ctx := auth.WithIdentity(context.Background(), auth.Identity{Subject: "ops", Role: auth.RoleAdmin})

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/events", nil).WithContext(ctx))
	if first.Code != http.StatusOK {
		t.Fatalf("expected first write allowed got %d", first.Code)
	}
	if got := first.Header().Get(headerRateLimitLimit); got != "1" {
		t.Fatalf("expected limit header 1 got %q", got)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/events", nil).WithContext(ctx))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status %d got %d", http.StatusTooManyRequests, second.Code)
	}
	if second.Header().Get(headerRetryAfter) == "" {
		t.Fatal("expected Retry-After header")
	}

	disabled := WriteRateLimit(0, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		disabled.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", nil).WithContext(ctx))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected disabled limiter to allow, got %d", rec.Code)
		}
	}
}

// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"testing"
	"time"
)

func TestTokenResolverJWT(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	resolver := NewTokenResolver("s3cret", "scoreboard-auth", "")
	resolver.now = func() time.Time { return now }

	token, err := IssueToken("s3cret", "scoreboard-auth", Identity{
		Subject: "user-1",
		Email:   "admin@example.com",
		Role:    RoleAdmin,
	}, time.Hour, now)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	id, ok, err := resolver.ResolveToken(context.Background(), token)
	if err != nil {
		t.Fatalf("resolve token: %v", err)
	}
	if !ok {
		t.Fatal("expected token to resolve")
	}
	if id.Subject != "user-1" || id.Email != "admin@example.com" || id.Role != RoleAdmin {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestTokenResolverRejects(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	resolver := NewTokenResolver("s3cret", "scoreboard-auth", "")
	resolver.now = func() time.Time { return now }

	expired, err := IssueToken("s3cret", "scoreboard-auth", Identity{Subject: "u", Role: RoleUser}, time.Minute, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	wrongKey, err := IssueToken("other", "scoreboard-auth", Identity{Subject: "u", Role: RoleUser}, time.Hour, now)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	wrongIssuer, err := IssueToken("s3cret", "someone-else", Identity{Subject: "u", Role: RoleUser}, time.Hour, now)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	noSubject, err := IssueToken("s3cret", "scoreboard-auth", Identity{Role: RoleAdmin}, time.Hour, now)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not-a-jwt",
		"expired":      expired,
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"no subject":   noSubject,
	}
	for name, token := range cases {
		if _, ok, err := resolver.ResolveToken(context.Background(), token); ok || err != nil {
			t.Fatalf("%s: expected rejection without error, got ok=%v err=%v", name, ok, err)
		}
	}
}

func TestTokenResolverAdminToken(t *testing.T) {
	resolver := NewTokenResolver("", "", "master-token")

	id, ok, err := resolver.ResolveToken(context.Background(), "master-token")
	if err != nil || !ok {
		t.Fatalf("expected admin token to resolve, ok=%v err=%v", ok, err)
	}
	if !id.IsAdmin() {
		t.Fatalf("expected admin role, got %s", id.Role)
	}

	if _, ok, _ := resolver.ResolveToken(context.Background(), "master-token-x"); ok {
		t.Fatal("expected near-miss admin token to be rejected")
	}
}

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := IdentityFromContext(ctx); ok {
		t.Fatal("expected no identity on empty context")
	}

	ctx = WithIdentity(ctx, Identity{Subject: "u-1", Role: RoleUser})
	id, ok := IdentityFromContext(ctx)
	if !ok || id.Subject != "u-1" {
		t.Fatalf("expected identity round trip, got %+v ok=%v", id, ok)
	}
	if id.IsAdmin() {
		t.Fatal("expected non-admin identity")
	}
}

func TestIdentityRecorder(t *testing.T) {
	ctx, rec := WithIdentityRecorder(context.Background())
	if _, ok := rec.Identity(); ok {
		t.Fatal("expected empty recorder")
	}

	derived, cancel := context.WithCancel(ctx)
	defer cancel()
	inner := WithIdentity(derived, Identity{Subject: "u-2", Role: RoleAdmin})

	id, ok := rec.Identity()
	if !ok || id.Subject != "u-2" {
		t.Fatalf("expected recorder to capture u-2, got %+v ok=%v", id, ok)
	}
	if _, ok := IdentityFromContext(ctx); ok {
		t.Fatal("expected outer context to carry no identity")
	}
	if got, _ := IdentityFromContext(inner); got.Subject != "u-2" {
		t.Fatalf("expected inner context identity u-2, got %+v", got)
	}
}

func TestParseRole(t *testing.T) {
	cases := map[string]Role{
		"admin":  RoleAdmin,
		" ADMIN": RoleAdmin,
		"user":   RoleUser,
		"":       RoleViewer,
		"root":   RoleViewer,
	}
	for in, want := range cases {
		if got := ParseRole(in); got != want {
			t.Fatalf("ParseRole(%q): expected %s got %s", in, want, got)
		}
	}
}

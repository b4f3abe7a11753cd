// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"strings"
	"sync"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleUser   Role = "user"
	RoleViewer Role = "viewer"
)

// Identity is the caller as resolved by the credential collaborator.
type Identity struct {
	Subject string
	Email   string
	Role    Role
}

// Anonymous is the identity used for unauthenticated viewers.
var Anonymous = Identity{Subject: "anonymous", Role: RoleViewer}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

type identityContextKey struct{}

var ctxIdentityKey identityContextKey

type recorderContextKey struct{}

var ctxRecorderKey recorderContextKey

// IdentityRecorder captures the identity resolved further down a handler
// chain so an outer handler can read it after the inner one returns.
type IdentityRecorder struct {
	mu  sync.Mutex
	id  Identity
	set bool
}

// WithIdentityRecorder attaches a fresh recorder to ctx. Every later
// WithIdentity on a derived context fills it.
func WithIdentityRecorder(ctx context.Context) (context.Context, *IdentityRecorder) {
	rec := &IdentityRecorder{}
	return context.WithValue(ctx, ctxRecorderKey, rec), rec
}

// Identity returns the last identity recorded, if any.
func (r *IdentityRecorder) Identity() (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.set || strings.TrimSpace(r.id.Subject) == "" {
		return Identity{}, false
	}
	return r.id, true
}

func (r *IdentityRecorder) record(id Identity) {
	r.mu.Lock()
	r.id = id
	r.set = true
	r.mu.Unlock()
}

// WithIdentity stores the resolved caller identity on the request context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	if rec, ok := ctx.Value(ctxRecorderKey).(*IdentityRecorder); ok {
		rec.record(id)
	}
	return context.WithValue(ctx, ctxIdentityKey, id)
}

// IdentityFromContext reads the resolved caller identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v := ctx.Value(ctxIdentityKey)
	id, ok := v.(Identity)
	if !ok || strings.TrimSpace(id.Subject) == "" {
		return Identity{}, false
	}
	return id, true
}

// ParseRole maps a claim value onto a known role; unknown values downgrade
// to viewer.
func ParseRole(raw string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleUser:
		return RoleUser
	default:
		return RoleViewer
	}
}

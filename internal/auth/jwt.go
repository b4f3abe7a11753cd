// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid bearer token")

type tokenClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// TokenResolver turns bearer tokens into identities. It accepts HS256 JWTs
// issued by the credential service and, optionally, one static admin token.
type TokenResolver struct {
	secret     []byte
	issuer     string
	adminToken string
	now        func() time.Time
}

func NewTokenResolver(secret, issuer, adminToken string) *TokenResolver {
	return &TokenResolver{
		secret:     []byte(secret),
		issuer:     strings.TrimSpace(issuer),
		adminToken: strings.TrimSpace(adminToken),
		now:        time.Now,
	}
}

// ResolveToken returns (identity, true, nil) on success and (_, false, nil)
// for tokens that are well-formed but not acceptable.
func (r *TokenResolver) ResolveToken(_ context.Context, bearerToken string) (Identity, bool, error) {
	if bearerToken == "" {
		return Identity{}, false, nil
	}

	if r.adminToken != "" && subtle.ConstantTimeCompare([]byte(bearerToken), []byte(r.adminToken)) == 1 {
		return Identity{Subject: "admin-token", Role: RoleAdmin}, true, nil
	}

	if len(r.secret) == 0 {
		return Identity{}, false, nil
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(r.now),
		jwt.WithExpirationRequired(),
	}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}

	var claims tokenClaims
	_, err := jwt.ParseWithClaims(bearerToken, &claims, func(*jwt.Token) (any, error) {
		return r.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, false, nil
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return Identity{}, false, nil
	}

	return Identity{
		Subject: subject,
		Email:   strings.TrimSpace(claims.Email),
		Role:    ParseRole(claims.Role),
	}, true, nil
}

// IssueToken signs an HS256 token. The credential service owns issuance in
// production; this is used by tests and local tooling.
func IssueToken(secret, issuer string, id Identity, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", ErrInvalidToken
	}
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: id.Email,
		Role:  string(id.Role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

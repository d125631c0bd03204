// Costboard Gateway - realtime presence and event fan-out for Costboard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/costboard/gateway

// Package auth verifies bearer credentials issued by the Costboard API.
//
// The gateway never issues, refreshes, or revokes tokens; it only checks
// the HMAC signature and claims of tokens minted by the CRUD layer's auth
// service, once per connection attempt. A connection's identity is fixed
// for its lifetime.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Authentication failure taxonomy. All three are terminal for the
// connection attempt; the client must reconnect with a fresh credential.
var (
	// ErrNoCredentials indicates no token was presented.
	ErrNoCredentials = errors.New("no credentials provided")

	// ErrExpiredCredentials indicates the token's exp claim has passed.
	ErrExpiredCredentials = errors.New("credentials expired")

	// ErrInvalidCredentials indicates a malformed, tampered, or
	// wrongly-signed token.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Identity is the verified identity snapshot captured at handshake time.
// It mirrors the claims the Costboard API embeds when signing a token and
// is never refreshed over an open connection.
type Identity struct {
	UserID        string `json:"userId"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	Name          string `json:"name"`
	Avatar        string `json:"avatar,omitempty"`
	IsActive      bool   `json:"isActive"`
	EmailVerified bool   `json:"emailVerified"`
}

// Claims is the JWT claim set produced by the Costboard API's auth service.
// The user id travels in the registered "sub" claim; display attributes are
// private claims.
type Claims struct {
	Email         string `json:"email"`
	Role          string `json:"role"`
	Name          string `json:"name"`
	Avatar        string `json:"avatar,omitempty"`
	IsActive      bool   `json:"isActive"`
	EmailVerified bool   `json:"emailVerified"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens and produces Identity snapshots.
// Uses HMAC-SHA256 with the secret shared with the token issuer.
type Verifier struct {
	secret []byte
	leeway time.Duration
}

// NewVerifier creates a token verifier.
//
// The secret must match the issuer's signing secret; length policy is
// enforced by config validation before this constructor runs, so an empty
// secret here is a programming error.
func NewVerifier(secret string, leeway time.Duration) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required but was empty")
	}
	return &Verifier{
		secret: []byte(secret),
		leeway: leeway,
	}, nil
}

// Verify validates a raw token string and returns the identity snapshot.
//
// Validation covers: HMAC signature, signing algorithm (HS256 family only,
// preventing algorithm confusion), exp/nbf with the configured leeway, and
// the isActive claim; deactivated accounts cannot open new connections.
func (v *Verifier) Verify(tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, ErrNoCredentials
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithLeeway(v.leeway))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredCredentials
		}
		return nil, ErrInvalidCredentials
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidCredentials
	}
	if claims.Subject == "" {
		return nil, ErrInvalidCredentials
	}
	if !claims.IsActive {
		return nil, ErrInvalidCredentials
	}

	return &Identity{
		UserID:        claims.Subject,
		Email:         claims.Email,
		Role:          claims.Role,
		Name:          claims.Name,
		Avatar:        claims.Avatar,
		IsActive:      claims.IsActive,
		EmailVerified: claims.EmailVerified,
	}, nil
}

// VerifyRequest extracts the bearer token from an HTTP request and
// verifies it. Token sources, in precedence order:
//
//  1. Authorization: Bearer <token> header
//  2. "token" query parameter (browser WebSocket clients cannot set
//     custom headers during the handshake)
//  3. "token" cookie
func (v *Verifier) VerifyRequest(r *http.Request) (*Identity, error) {
	tokenString := extractToken(r)
	if tokenString == "" {
		return nil, ErrNoCredentials
	}
	return v.Verify(tokenString)
}

// extractToken pulls the raw token from header, query, or cookie.
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if token := strings.TrimSpace(parts[1]); token != "" {
				return token
			}
		}
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	cookie, err := r.Cookie("token")
	if err == nil && cookie.Value != "" {
		return cookie.Value
	}

	return ""
}

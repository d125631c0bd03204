// Costboard Gateway - realtime presence and event fan-out for Costboard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/costboard/gateway

package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-that-is-at-least-32-chars"

// signToken creates a token the way the Costboard API's auth service does.
func signToken(t *testing.T, secret string, mutate func(*Claims)) string {
	t.Helper()

	claims := &Claims{
		Email:         "alice@example.com",
		Role:          "MEMBER",
		Name:          "Alice",
		Avatar:        "https://cdn.example.com/a.png",
		IsActive:      true,
		EmailVerified: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	if mutate != nil {
		mutate(claims)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func newTestVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(testSecret, 30*time.Second)
	if err != nil {
		t.Fatalf("NewVerifier() error: %v", err)
	}
	return v
}

func TestNewVerifier_EmptySecret(t *testing.T) {
	if _, err := NewVerifier("", 0); err == nil {
		t.Fatal("NewVerifier() expected error for empty secret")
	}
}

func TestVerify_Success(t *testing.T) {
	v := newTestVerifier(t)
	token := signToken(t, testSecret, nil)

	identity, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}

	if identity.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", identity.UserID)
	}
	if identity.Email != "alice@example.com" {
		t.Errorf("Email = %q, want alice@example.com", identity.Email)
	}
	if identity.Role != "MEMBER" {
		t.Errorf("Role = %q, want MEMBER", identity.Role)
	}
	if identity.Name != "Alice" {
		t.Errorf("Name = %q, want Alice", identity.Name)
	}
	if !identity.IsActive || !identity.EmailVerified {
		t.Errorf("flags = active:%v verified:%v, want both true", identity.IsActive, identity.EmailVerified)
	}
}

func TestVerify_Failures(t *testing.T) {
	v := newTestVerifier(t)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{
			name:    "empty token",
			token:   "",
			wantErr: ErrNoCredentials,
		},
		{
			name:    "malformed token",
			token:   "not.a.jwt",
			wantErr: ErrInvalidCredentials,
		},
		{
			name: "expired token",
			token: signToken(t, testSecret, func(c *Claims) {
				c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
			}),
			wantErr: ErrExpiredCredentials,
		},
		{
			name:    "wrong secret",
			token:   signToken(t, "another-secret-also-32-characters-xx", nil),
			wantErr: ErrInvalidCredentials,
		},
		{
			name: "missing subject",
			token: signToken(t, testSecret, func(c *Claims) {
				c.Subject = ""
			}),
			wantErr: ErrInvalidCredentials,
		},
		{
			name: "deactivated account",
			token: signToken(t, testSecret, func(c *Claims) {
				c.IsActive = false
			}),
			wantErr: ErrInvalidCredentials,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerify_ExpiredWithinLeeway(t *testing.T) {
	v := newTestVerifier(t)
	token := signToken(t, testSecret, func(c *Claims) {
		// Expired 10s ago, within the 30s leeway.
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-10 * time.Second))
	})

	if _, err := v.Verify(token); err != nil {
		t.Errorf("Verify() error = %v, want success within leeway", err)
	}
}

func TestVerify_RejectsNoneAlgorithm(t *testing.T) {
	v := newTestVerifier(t)

	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		IsActive:         true,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to sign none-alg token: %v", err)
	}

	if _, err := v.Verify(signed); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Verify() error = %v, want ErrInvalidCredentials for none alg", err)
	}
}

func TestVerifyRequest_TokenSources(t *testing.T) {
	v := newTestVerifier(t)
	token := signToken(t, testSecret, nil)

	tests := []struct {
		name         string
		setupRequest func(*http.Request)
		wantErr      error
	}{
		{
			name: "authorization header",
			setupRequest: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+token)
			},
		},
		{
			name: "query parameter",
			setupRequest: func(r *http.Request) {
				q := r.URL.Query()
				q.Set("token", token)
				r.URL.RawQuery = q.Encode()
			},
		},
		{
			name: "cookie",
			setupRequest: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: "token", Value: token})
			},
		},
		{
			name: "header takes precedence over bad cookie",
			setupRequest: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+token)
				r.AddCookie(&http.Cookie{Name: "token", Value: "garbage"})
			},
		},
		{
			name:         "no credentials",
			setupRequest: func(r *http.Request) {},
			wantErr:      ErrNoCredentials,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws/chat", nil)
			tt.setupRequest(req)

			identity, err := v.VerifyRequest(req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("VerifyRequest() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("VerifyRequest() error: %v", err)
			}
			if identity.UserID != "user-1" {
				t.Errorf("UserID = %q, want user-1", identity.UserID)
			}
		})
	}
}

func TestAuthenticateMiddleware(t *testing.T) {
	v := newTestVerifier(t)
	token := signToken(t, testSecret, nil)

	var gotIdentity *Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := Authenticate(v)(next)

	t.Run("authorized", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/presence/users", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
		if gotIdentity == nil || gotIdentity.UserID != "user-1" {
			t.Errorf("identity in context = %+v, want user-1", gotIdentity)
		}
	})

	t.Run("unauthorized", func(t *testing.T) {
		gotIdentity = nil
		req := httptest.NewRequest(http.MethodGet, "/api/v1/presence/users", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
		if gotIdentity != nil {
			t.Error("handler ran despite failed authentication")
		}
	})
}

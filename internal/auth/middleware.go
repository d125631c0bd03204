// Costboard Gateway - realtime presence and event fan-out for Costboard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/costboard/gateway

package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/costboard/gateway/internal/logging"
	"github.com/costboard/gateway/internal/metrics"
)

type contextKey string

// identityKey stores the verified Identity in the request context.
const identityKey contextKey = "identity"

// ContextWithIdentity returns a context carrying the verified identity.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the verified identity stored by the
// Authenticate middleware, or nil if the request was not authenticated.
func IdentityFromContext(ctx context.Context) *Identity {
	if id, ok := ctx.Value(identityKey).(*Identity); ok {
		return id
	}
	return nil
}

// Authenticate returns middleware that rejects requests without a valid
// bearer token and stores the verified identity in the request context.
//
// Used for the REST surface and for WebSocket handshake routes: it runs
// before the upgrade, so a rejected credential costs one plain HTTP 401
// and never creates gateway state.
func Authenticate(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := v.VerifyRequest(r)
			if err != nil {
				metrics.RecordAuthFailure(failureReason(err))
				logging.Debug().Err(err).Str("path", r.URL.Path).Msg("request authentication failed")
				writeUnauthorized(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

// failureReason buckets verification errors for the auth failure counter.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrNoCredentials):
		return "missing"
	case errors.Is(err, ErrExpiredCredentials):
		return "expired"
	default:
		return "invalid"
	}
}

// writeUnauthorized writes a 401 with a machine-readable error code.
// The response shape matches the api package's error envelope; duplicated
// here to keep auth free of an api import cycle.
func writeUnauthorized(w http.ResponseWriter, err error) {
	code := "UNAUTHORIZED"
	if errors.Is(err, ErrExpiredCredentials) {
		code = "TOKEN_EXPIRED"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	//nolint:errcheck // nothing useful to do if the 401 body fails to write
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error": map[string]string{
			"code":    code,
			"message": "authentication required",
		},
	})
}

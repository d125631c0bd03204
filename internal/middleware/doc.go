// Costboard Gateway - realtime presence and event fan-out for Costboard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/costboard/gateway

// Package middleware provides the gateway's HTTP middleware: request ID
// propagation for log correlation and Prometheus request instrumentation.
//
// Both are standard func(http.Handler) http.Handler wrappers composed via
// chi's Use. PrometheusMetrics wraps the ResponseWriter to capture status
// codes and therefore must not wrap WebSocket upgrade routes, which need
// the raw hijackable writer; the router mounts /ws outside the
// instrumented group.
package middleware

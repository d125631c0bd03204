// Costboard Gateway - realtime presence and event fan-out for Costboard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/costboard/gateway

// Package api exposes the gateway over HTTP: the two WebSocket handshake
// endpoints (/ws/chat and /ws/notifications), read-only presence queries,
// the internal deliver endpoint the business layer posts persisted events
// to, health probes and the Prometheus scrape endpoint.
//
// Every route except health and /metrics requires a verified bearer token.
// Authentication runs before the WebSocket upgrade, so a rejected
// credential never creates gateway state.
package api

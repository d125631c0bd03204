// Costboard Gateway - realtime presence and event fan-out for Costboard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/costboard/gateway

// Package services provides suture.Service adapters for the gateway's
// long-running components: the HTTP server and the dispatch loop. Each
// wrapper translates its component's lifecycle into the blocking
// Serve(ctx) contract the supervision tree expects.
package services

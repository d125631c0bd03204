// Costboard Gateway - realtime presence and event fan-out for Costboard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/costboard/gateway

// Package websocket owns the transport side of a gateway connection: the
// gorilla/websocket read and write pumps, keepalive pings, and the inbound
// command dispatch (join, leave, typing, mark_read).
//
// Each Client runs its commands sequentially on its own read pump and
// writes all outbound frames from its own write pump, so the socket is
// never written concurrently. The gateway core interacts with a Client
// only through the non-blocking TrySend, which makes one dead or slow
// socket invisible to every other connection.
package websocket

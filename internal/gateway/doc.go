// Costboard Gateway - realtime presence and event fan-out for Costboard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/costboard/gateway

// Package gateway implements the in-memory realtime core: the connection
// registry, room membership tracking, presence broadcasting, event fan-out
// and the typing relay.
//
// All state is transient and rebuilt from zero on restart. The business
// layer persists messages and notifications first, then hands them to
// Deliver for best-effort push to whoever is currently connected; a
// disconnected recipient fetches the durable copy over REST on reconnect.
//
// Concurrency model: one mutex serializes every mutation of the registry
// and the room tracker. Outbound frames are enqueued to per-connection
// buffered channels and written to the network by each connection's own
// write loop, so no network I/O ever happens under the lock and one slow
// connection cannot stall delivery to its siblings. Within a single room,
// presence events are observed in the order the operations were applied;
// no ordering is guaranteed across rooms.
package gateway

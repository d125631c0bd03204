// Costboard Gateway - realtime presence and event fan-out for Costboard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/costboard/gateway

package gateway

import "sort"

// Conn is the gateway's view of one live transport connection. The
// websocket layer owns the socket; the gateway only enqueues frames.
//
// TrySend must never block: it enqueues into the connection's buffered send
// channel and reports false when the buffer is full. A false return means
// the frame is dropped for that connection only.
type Conn interface {
	ID() string
	UserID() string
	Endpoint() string
	TrySend(*Envelope) bool
}

// Connection endpoints. A chat connection joins rooms on command; a
// notifications connection is implicitly subscribed to the user's personal
// channel for its whole lifetime.
const (
	EndpointChat          = "chat"
	EndpointNotifications = "notifications"
)

// registry tracks the set of open connections per user. It is not
// self-locking: every method must be called with the owning Gateway's
// mutex held.
type registry struct {
	// conns indexes every live connection by connection id.
	conns map[string]Conn
	// users maps user id to that user's open connection ids. An entry is
	// dropped the moment its set becomes empty, so the key set is exactly
	// the set of online users.
	users map[string]map[string]Conn
}

func newRegistry() *registry {
	return &registry{
		conns: make(map[string]Conn),
		users: make(map[string]map[string]Conn),
	}
}

// add registers a connection under its owning user. Re-adding the same
// connection id is a no-op.
func (r *registry) add(c Conn) bool {
	if _, ok := r.conns[c.ID()]; ok {
		return false
	}
	r.conns[c.ID()] = c
	set := r.users[c.UserID()]
	if set == nil {
		set = make(map[string]Conn)
		r.users[c.UserID()] = set
	}
	set[c.ID()] = c
	return true
}

// remove deregisters a connection id. It is idempotent: removing an unknown
// id reports existed=false. last is true when this removal closed the
// user's final connection, which is the registry's signal that the user
// went offline.
func (r *registry) remove(connID string) (c Conn, last, existed bool) {
	c, existed = r.conns[connID]
	if !existed {
		return nil, false, false
	}
	delete(r.conns, connID)
	set := r.users[c.UserID()]
	delete(set, connID)
	if len(set) == 0 {
		delete(r.users, c.UserID())
		last = true
	}
	return c, last, true
}

// connectionsOf returns the live connections of a user. Unknown users get
// an empty slice, never an error.
func (r *registry) connectionsOf(userID string) []Conn {
	set := r.users[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

func (r *registry) isOnline(userID string) bool {
	return len(r.users[userID]) > 0
}

// onlineUsers returns the ids of all users with at least one open
// connection, sorted for deterministic snapshots.
func (r *registry) onlineUsers() []string {
	out := make([]string, 0, len(r.users))
	for id := range r.users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *registry) connectionCount() int {
	return len(r.conns)
}

func (r *registry) userCount() int {
	return len(r.users)
}

// Costboard Gateway - realtime presence and event fan-out for Costboard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/costboard/gateway

package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/costboard/gateway/internal/logging"
	"github.com/costboard/gateway/internal/metrics"
)

var (
	// ErrQueueFull is returned by Deliver when the dispatch queue is at
	// capacity. The event is not queued; the durable copy in the business
	// layer remains the source of truth.
	ErrQueueFull = errors.New("dispatch queue full")

	errAmbiguousTarget = errors.New("target must name a room or a user, not both")
	errEmptyTarget     = errors.New("target must name a room or a user")
)

// Deliverer is the producer-side contract the business layer calls after
// persisting a domain record. The gateway never calls back into the
// business layer; the dependency is strictly one-directional.
type Deliverer interface {
	Deliver(target Target, payload Payload) error
}

// Config tunes the gateway's queues. Zero values fall back to defaults.
type Config struct {
	// DispatchBuffer is the capacity of the Deliver queue drained by Serve.
	DispatchBuffer int
}

const defaultDispatchBuffer = 256

type queuedDelivery struct {
	target  Target
	payload Payload
}

// Gateway owns the connection registry and the room membership tracker and
// implements presence broadcasting, event fan-out and the typing relay on
// top of them.
//
// A single mutex serializes all mutations. Presence events are enqueued to
// the affected connections' send buffers while the lock is held; because
// enqueueing never blocks, this gives per-room presence ordering without
// ever holding the lock across a network write. Deliver is asynchronous:
// it enqueues into a buffered queue drained by Serve.
type Gateway struct {
	mu       sync.RWMutex
	registry *registry
	rooms    *rooms

	queue chan queuedDelivery
	log   zerolog.Logger
}

var _ Deliverer = (*Gateway)(nil)

// New constructs an isolated gateway instance. State is entirely in-memory
// and rebuilt from zero on process restart.
func New(cfg Config) *Gateway {
	if cfg.DispatchBuffer <= 0 {
		cfg.DispatchBuffer = defaultDispatchBuffer
	}
	return &Gateway{
		registry: newRegistry(),
		rooms:    newRooms(),
		queue:    make(chan queuedDelivery, cfg.DispatchBuffer),
		log:      logging.WithComponent("gateway"),
	}
}

// Connect registers a verified connection. A notifications connection is
// implicitly joined to its user's personal room for its whole lifetime.
// The new connection receives a connected acknowledgement.
func (g *Gateway) Connect(c Conn) {
	g.mu.Lock()
	if !g.registry.add(c) {
		g.mu.Unlock()
		return
	}
	if c.Endpoint() == EndpointNotifications {
		// Personal rooms carry no presence semantics, so no broadcast here.
		if g.rooms.join(UserRoom(c.UserID()), c.UserID()) {
			metrics.RoomJoinsTotal.WithLabelValues(string(KindUser)).Inc()
		}
		metrics.RoomsActive.Set(float64(g.rooms.roomCount()))
	}
	g.send(c, &Envelope{
		Event: EventConnected,
		Data:  connectedPayload{Message: "Successfully connected", UserID: c.UserID()},
	})
	g.mu.Unlock()

	metrics.RecordConnect(c.Endpoint())
	g.log.Debug().
		Str("connection_id", c.ID()).
		Str("user_id", c.UserID()).
		Str("endpoint", c.Endpoint()).
		Msg("connection registered")
}

// Disconnect removes a connection by id. It is idempotent: duplicate close
// events from the transport are no-ops. When the user's last connection
// closes, the user leaves every tracked room and departures are announced
// to the remaining members.
func (g *Gateway) Disconnect(connID string) {
	g.mu.Lock()
	c, last, existed := g.registry.remove(connID)
	if !existed {
		g.mu.Unlock()
		return
	}
	var affected []RoomKey
	if last {
		affected = g.rooms.leaveAll(c.UserID())
		for _, key := range affected {
			metrics.RoomLeavesTotal.WithLabelValues(string(key.Kind)).Inc()
			if key.Kind == KindUser {
				continue
			}
			g.broadcast(key, &Envelope{
				Event: EventUserLeft,
				Data: presencePayload{
					UserID:      c.UserID(),
					Room:        key.String(),
					OnlineUsers: g.rooms.membersOf(key),
				},
			}, "")
		}
		metrics.RoomsActive.Set(float64(g.rooms.roomCount()))
	}
	g.mu.Unlock()

	metrics.RecordDisconnect(c.Endpoint())
	g.log.Debug().
		Str("connection_id", connID).
		Str("user_id", c.UserID()).
		Bool("last_connection", last).
		Int("rooms_left", len(affected)).
		Msg("connection removed")
}

// Join adds the connection's user to a room and announces the arrival.
// Membership is tracked per user: joining from a second tab changes
// nothing, but the joining connection always receives a room_joined
// acknowledgement with the full presence snapshot.
func (g *Gateway) Join(c Conn, key RoomKey) error {
	if err := key.Validate(); err != nil {
		return err
	}

	g.mu.Lock()
	added := g.rooms.join(key, c.UserID())
	snapshot := g.rooms.membersOf(key)
	g.send(c, &Envelope{
		Event: EventRoomJoined,
		Data:  presencePayload{Room: key.String(), OnlineUsers: snapshot},
	})
	if added {
		g.broadcast(key, &Envelope{
			Event: EventUserJoined,
			Data: presencePayload{
				UserID:      c.UserID(),
				Room:        key.String(),
				OnlineUsers: snapshot,
			},
		}, c.ID())
		metrics.RoomJoinsTotal.WithLabelValues(string(key.Kind)).Inc()
		metrics.RoomsActive.Set(float64(g.rooms.roomCount()))
	}
	g.mu.Unlock()
	return nil
}

// Leave removes the connection's user from a room. Leaving an unknown room
// is a no-op, not an error; emptiness is a valid terminal state.
func (g *Gateway) Leave(c Conn, key RoomKey) error {
	if err := key.Validate(); err != nil {
		return err
	}

	g.mu.Lock()
	removed := g.rooms.leave(key, c.UserID())
	g.send(c, &Envelope{
		Event: EventRoomLeft,
		Data:  presencePayload{Room: key.String()},
	})
	if removed {
		g.broadcast(key, &Envelope{
			Event: EventUserLeft,
			Data: presencePayload{
				UserID:      c.UserID(),
				Room:        key.String(),
				OnlineUsers: g.rooms.membersOf(key),
			},
		}, "")
		metrics.RoomLeavesTotal.WithLabelValues(string(key.Kind)).Inc()
		metrics.RoomsActive.Set(float64(g.rooms.roomCount()))
	}
	g.mu.Unlock()
	return nil
}

// Typing relays an ephemeral typing signal to every member of the room
// except the sender. Signals from non-members are dropped; there is no
// queueing and no delivery guarantee.
func (g *Gateway) Typing(c Conn, key RoomKey, name string, isTyping bool) {
	if key.Validate() != nil {
		return
	}

	g.mu.RLock()
	if !g.rooms.contains(key, c.UserID()) {
		g.mu.RUnlock()
		return
	}
	env := &Envelope{
		Event: EventUserTyping,
		Data: typingPayload{
			UserID:   c.UserID(),
			Name:     name,
			Room:     key.String(),
			IsTyping: isTyping,
		},
	}
	for _, member := range g.rooms.membersOf(key) {
		if member == c.UserID() {
			continue
		}
		for _, conn := range g.registry.connectionsOf(member) {
			g.send(conn, env)
		}
	}
	g.mu.RUnlock()

	metrics.TypingRelayed.Inc()
}

// MarkRead relays a notification_read acknowledgement to every
// notifications connection of the sender's user, so other open tabs and
// devices update without polling. The authoritative read-state mutation
// happens in the business layer before or after this signal; the gateway
// only forwards it.
func (g *Gateway) MarkRead(c Conn, notificationID string) {
	env := &Envelope{
		Event: EventNotificationRead,
		Data:  readPayload{NotificationID: notificationID, UserID: c.UserID()},
	}

	g.mu.RLock()
	for _, conn := range g.registry.connectionsOf(c.UserID()) {
		if conn.Endpoint() != EndpointNotifications {
			continue
		}
		g.send(conn, env)
	}
	g.mu.RUnlock()
}

// Deliver accepts a payload for best-effort fan-out to a room or a user.
// It never blocks: the event is queued for the dispatch loop, and a full
// queue rejects the call with ErrQueueFull. Acceptance is the only
// acknowledgement; durability is the caller's responsibility.
func (g *Gateway) Deliver(target Target, payload Payload) error {
	if payload == nil {
		return fmt.Errorf("payload is required")
	}
	if err := target.validate(); err != nil {
		return err
	}
	if target.Room != nil && target.Room.Kind == KindUser {
		// Personal channels are addressed by user id, not room key.
		target = UserTarget(target.Room.ID)
	}

	select {
	case g.queue <- queuedDelivery{target: target, payload: payload}:
		metrics.DispatchQueueDepth.Set(float64(len(g.queue)))
		return nil
	default:
		metrics.DispatchQueueRejects.Inc()
		return ErrQueueFull
	}
}

// Serve drains the dispatch queue until the context is cancelled. It is
// run under the process supervision tree; returning ctx.Err() tells the
// supervisor the stop was deliberate.
func (g *Gateway) Serve(ctx context.Context) error {
	g.log.Info().Int("queue_capacity", cap(g.queue)).Msg("dispatch loop started")
	for {
		select {
		case <-ctx.Done():
			g.log.Info().Msg("dispatch loop stopped")
			return ctx.Err()
		case d := <-g.queue:
			metrics.DispatchQueueDepth.Set(float64(len(g.queue)))
			g.dispatch(d)
		}
	}
}

// dispatch fans one queued event out to its current audience. Targets are
// resolved under the read lock; a member with zero open connections simply
// receives nothing.
func (g *Gateway) dispatch(d queuedDelivery) {
	env := &Envelope{Event: d.payload.event(), Data: d.payload}

	var delivered int
	g.mu.RLock()
	if d.target.Room != nil {
		for _, member := range g.rooms.membersOf(*d.target.Room) {
			for _, conn := range g.registry.connectionsOf(member) {
				if g.send(conn, env) {
					delivered++
				}
			}
		}
	} else {
		for _, conn := range g.registry.connectionsOf(d.target.User) {
			if g.send(conn, env) {
				delivered++
			}
		}
	}
	g.mu.RUnlock()

	metrics.RecordDelivery(string(env.Event), delivered)
}

// broadcast enqueues an envelope to every connection of every member of a
// room, skipping the excluded connection id. Callers hold the mutex.
func (g *Gateway) broadcast(key RoomKey, env *Envelope, excludeConnID string) {
	for _, member := range g.rooms.membersOf(key) {
		for _, conn := range g.registry.connectionsOf(member) {
			if conn.ID() == excludeConnID {
				continue
			}
			g.send(conn, env)
		}
	}
}

// send enqueues one envelope on one connection, counting drops. A full
// send buffer means the connection is slow or dead; the frame is dropped
// for that connection only and siblings are unaffected.
func (g *Gateway) send(c Conn, env *Envelope) bool {
	if !c.TrySend(env) {
		metrics.WSDroppedSends.Inc()
		g.log.Warn().
			Str("connection_id", c.ID()).
			Str("user_id", c.UserID()).
			Str("event", string(env.Event)).
			Msg("send buffer full, frame dropped")
		return false
	}
	metrics.WSMessagesSent.Inc()
	return true
}

// ConnectionsOf returns the ids of a user's open connections. Unknown
// users get an empty slice.
func (g *Gateway) ConnectionsOf(userID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	conns := g.registry.connectionsOf(userID)
	out := make([]string, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.ID())
	}
	return out
}

// MembersOf returns the sorted member user ids of a room; empty for
// unknown rooms.
func (g *Gateway) MembersOf(key RoomKey) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rooms.membersOf(key)
}

// OnlineUsers returns the sorted ids of all users with at least one open
// connection.
func (g *Gateway) OnlineUsers() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.registry.onlineUsers()
}

// IsOnline reports whether the user has at least one open connection.
func (g *Gateway) IsOnline(userID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.registry.isOnline(userID)
}

// Stats is a point-in-time snapshot of gateway state for health reporting.
type Stats struct {
	Connections   int `json:"connections"`
	Users         int `json:"users"`
	Rooms         int `json:"rooms"`
	QueueDepth    int `json:"queueDepth"`
	QueueCapacity int `json:"queueCapacity"`
}

// Stats returns current connection, user and room counts.
func (g *Gateway) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Stats{
		Connections:   g.registry.connectionCount(),
		Users:         g.registry.userCount(),
		Rooms:         g.rooms.roomCount(),
		QueueDepth:    len(g.queue),
		QueueCapacity: cap(g.queue),
	}
}

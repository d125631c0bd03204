// Costboard Gateway - realtime presence and event fan-out for Costboard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/costboard/gateway

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/costboard/gateway/internal/logging"
)

func TestMain(m *testing.M) {
	logging.SetLogger(logging.NewTestLogger(io.Discard))
	os.Exit(m.Run())
}

// fakeConn is a test double for the websocket client: an id, an owner and
// a bounded send buffer.
type fakeConn struct {
	id       string
	userID   string
	endpoint string
	frames   chan *Envelope
}

func newFakeConn(id, userID, endpoint string) *fakeConn {
	return &fakeConn{
		id:       id,
		userID:   userID,
		endpoint: endpoint,
		frames:   make(chan *Envelope, 32),
	}
}

func (c *fakeConn) ID() string       { return c.id }
func (c *fakeConn) UserID() string   { return c.userID }
func (c *fakeConn) Endpoint() string { return c.endpoint }

func (c *fakeConn) TrySend(env *Envelope) bool {
	select {
	case c.frames <- env:
		return true
	default:
		return false
	}
}

// recv waits for the next frame or fails the test.
func (c *fakeConn) recv(t *testing.T) *Envelope {
	t.Helper()
	select {
	case env := <-c.frames:
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("connection %s: timed out waiting for frame", c.id)
		return nil
	}
}

// recvEvent waits for the next frame and asserts its event type.
func (c *fakeConn) recvEvent(t *testing.T, want Event) *Envelope {
	t.Helper()
	env := c.recv(t)
	if env.Event != want {
		t.Fatalf("connection %s: event = %q, want %q", c.id, env.Event, want)
	}
	return env
}

// assertIdle asserts no frame arrives within a short window.
func (c *fakeConn) assertIdle(t *testing.T) {
	t.Helper()
	select {
	case env := <-c.frames:
		t.Fatalf("connection %s: unexpected frame %q", c.id, env.Event)
	case <-time.After(50 * time.Millisecond):
	}
}

// newTestGateway constructs an isolated gateway with its dispatch loop
// running for the duration of the test.
func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	g := New(Config{DispatchBuffer: 64})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = g.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return g
}

// connect registers a fake connection and consumes the connected ack.
func connect(t *testing.T, g *Gateway, id, userID, endpoint string) *fakeConn {
	t.Helper()
	c := newFakeConn(id, userID, endpoint)
	g.Connect(c)
	c.recvEvent(t, EventConnected)
	return c
}

func presenceData(t *testing.T, env *Envelope) presencePayload {
	t.Helper()
	p, ok := env.Data.(presencePayload)
	if !ok {
		t.Fatalf("envelope data is %T, want presencePayload", env.Data)
	}
	return p
}

func TestConnectAck(t *testing.T) {
	g := newTestGateway(t)
	c := newFakeConn("c1", "alice", EndpointChat)

	g.Connect(c)

	env := c.recvEvent(t, EventConnected)
	data, ok := env.Data.(connectedPayload)
	if !ok {
		t.Fatalf("data is %T, want connectedPayload", env.Data)
	}
	if data.UserID != "alice" {
		t.Errorf("UserID = %q, want alice", data.UserID)
	}
}

func TestConnectionsOf_UnknownUserEmpty(t *testing.T) {
	g := newTestGateway(t)

	if got := g.ConnectionsOf("nobody"); len(got) != 0 {
		t.Errorf("ConnectionsOf(nobody) = %v, want empty", got)
	}
	if g.IsOnline("nobody") {
		t.Error("IsOnline(nobody) = true, want false")
	}
}

func TestDisconnect_NoStaleEntries(t *testing.T) {
	g := newTestGateway(t)
	connect(t, g, "c1", "alice", EndpointChat)

	g.Disconnect("c1")

	if got := g.ConnectionsOf("alice"); len(got) != 0 {
		t.Errorf("ConnectionsOf(alice) = %v, want empty after disconnect", got)
	}
	if users := g.OnlineUsers(); len(users) != 0 {
		t.Errorf("OnlineUsers() = %v, want empty (no stale user entry)", users)
	}
}

func TestDisconnect_Idempotent(t *testing.T) {
	g := newTestGateway(t)
	c := connect(t, g, "c1", "alice", EndpointChat)
	if err := g.Join(c, ProjectRoom("p1")); err != nil {
		t.Fatalf("Join() error: %v", err)
	}

	g.Disconnect("c1")
	statsOnce := g.Stats()

	g.Disconnect("c1")
	statsTwice := g.Stats()

	if statsOnce != statsTwice {
		t.Errorf("duplicate disconnect changed state: %+v vs %+v", statsOnce, statsTwice)
	}
	if statsTwice.Connections != 0 || statsTwice.Rooms != 0 {
		t.Errorf("stats after disconnect = %+v, want all zero", statsTwice)
	}
}

func TestJoin_Idempotent(t *testing.T) {
	g := newTestGateway(t)
	c := connect(t, g, "c1", "alice", EndpointChat)
	room := DiscussionRoom("d1")

	if err := g.Join(c, room); err != nil {
		t.Fatalf("Join() error: %v", err)
	}
	c.recvEvent(t, EventRoomJoined)
	first := g.MembersOf(room)

	if err := g.Join(c, room); err != nil {
		t.Fatalf("second Join() error: %v", err)
	}
	c.recvEvent(t, EventRoomJoined)
	second := g.MembersOf(room)

	if len(first) != 1 || len(second) != 1 || first[0] != second[0] {
		t.Errorf("member sets differ after duplicate join: %v vs %v", first, second)
	}
	// No user_joined must have been rebroadcast for the duplicate.
	c.assertIdle(t)
}

func TestJoinLeave_RoundTrip(t *testing.T) {
	g := newTestGateway(t)
	c := connect(t, g, "c1", "alice", EndpointChat)
	room := ProjectRoom("p1")

	if err := g.Join(c, room); err != nil {
		t.Fatalf("Join() error: %v", err)
	}
	if err := g.Leave(c, room); err != nil {
		t.Fatalf("Leave() error: %v", err)
	}

	if got := g.MembersOf(room); len(got) != 0 {
		t.Errorf("MembersOf() = %v, want empty after round trip", got)
	}
	if stats := g.Stats(); stats.Rooms != 0 {
		t.Errorf("Rooms = %d, want 0 (sole member left, key dropped)", stats.Rooms)
	}
}

func TestLeave_UnknownRoomNoop(t *testing.T) {
	g := newTestGateway(t)
	c := connect(t, g, "c1", "alice", EndpointChat)

	if err := g.Leave(c, ProjectRoom("never-joined")); err != nil {
		t.Fatalf("Leave() of unknown room errored: %v", err)
	}
	c.recvEvent(t, EventRoomLeft)
}

func TestJoin_InvalidKey(t *testing.T) {
	g := newTestGateway(t)
	c := connect(t, g, "c1", "alice", EndpointChat)

	if err := g.Join(c, RoomKey{Kind: "bogus", ID: "x"}); err == nil {
		t.Error("Join() with unknown kind: expected error")
	}
	if err := g.Join(c, RoomKey{Kind: KindProject}); err == nil {
		t.Error("Join() with empty id: expected error")
	}
}

func TestPresenceCompleteness(t *testing.T) {
	g := newTestGateway(t)
	ca := connect(t, g, "c-a", "alice", EndpointChat)
	cb := connect(t, g, "c-b", "bob", EndpointChat)
	room := ProjectRoom("p1")

	if err := g.Join(cb, room); err != nil {
		t.Fatalf("bob Join() error: %v", err)
	}
	cb.recvEvent(t, EventRoomJoined)

	if err := g.Join(ca, room); err != nil {
		t.Fatalf("alice Join() error: %v", err)
	}
	ca.recvEvent(t, EventRoomJoined)

	// Bob observes alice's arrival with the full, two-member snapshot.
	env := cb.recvEvent(t, EventUserJoined)
	data := presenceData(t, env)
	if data.UserID != "alice" {
		t.Errorf("UserID = %q, want alice", data.UserID)
	}
	if len(data.OnlineUsers) != 2 {
		t.Errorf("OnlineUsers = %v, want 2 members", data.OnlineUsers)
	}
	found := false
	for _, u := range data.OnlineUsers {
		if u == "alice" {
			found = true
		}
	}
	if !found {
		t.Errorf("OnlineUsers = %v, missing the joiner", data.OnlineUsers)
	}
}

func TestPresenceOrdering_JoinThenLeave(t *testing.T) {
	g := newTestGateway(t)
	observer := connect(t, g, "c-o", "olga", EndpointChat)
	actor := connect(t, g, "c-a", "alice", EndpointChat)
	room := DiscussionRoom("d1")

	if err := g.Join(observer, room); err != nil {
		t.Fatalf("Join() error: %v", err)
	}
	observer.recvEvent(t, EventRoomJoined)

	if err := g.Join(actor, room); err != nil {
		t.Fatalf("Join() error: %v", err)
	}
	if err := g.Leave(actor, room); err != nil {
		t.Fatalf("Leave() error: %v", err)
	}

	// Join-then-leave must never arrive leave-before-join.
	observer.recvEvent(t, EventUserJoined)
	env := observer.recvEvent(t, EventUserLeft)
	data := presenceData(t, env)
	if data.UserID != "alice" {
		t.Errorf("UserID = %q, want alice", data.UserID)
	}
	if len(data.OnlineUsers) != 1 {
		t.Errorf("OnlineUsers = %v, want just the observer", data.OnlineUsers)
	}
}

func TestMultiDeviceFanout(t *testing.T) {
	g := newTestGateway(t)
	c1 := connect(t, g, "c1", "alice", EndpointNotifications)
	c2 := connect(t, g, "c2", "alice", EndpointChat)
	other := connect(t, g, "c3", "bob", EndpointNotifications)

	n := Notification{ID: "n1", Type: "task_assigned", Title: "New task"}
	if err := g.Deliver(UserTarget("alice"), n); err != nil {
		t.Fatalf("Deliver() error: %v", err)
	}

	for _, c := range []*fakeConn{c1, c2} {
		env := c.recvEvent(t, EventNotification)
		got, ok := env.Data.(Notification)
		if !ok {
			t.Fatalf("data is %T, want Notification", env.Data)
		}
		if got.ID != "n1" {
			t.Errorf("notification ID = %q, want n1", got.ID)
		}
	}
	other.assertIdle(t)
}

func TestChatDeliveryScenario(t *testing.T) {
	g := newTestGateway(t)
	c1 := connect(t, g, "c1", "alice", EndpointChat)
	c2 := connect(t, g, "c2", "bob", EndpointChat)
	c3 := connect(t, g, "c3", "bob", EndpointChat)
	outsider := connect(t, g, "c4", "carol", EndpointChat)
	room := DiscussionRoom("d1")

	for _, c := range []*fakeConn{c1, c2, c3} {
		if err := g.Join(c, room); err != nil {
			t.Fatalf("Join() error: %v", err)
		}
	}
	// Drain acks and presence chatter before the delivery under test.
	drain := func(c *fakeConn) {
		for {
			select {
			case <-c.frames:
			case <-time.After(50 * time.Millisecond):
				return
			}
		}
	}
	for _, c := range []*fakeConn{c1, c2, c3} {
		drain(c)
	}

	msg := ChatMessage{ID: "m1", Content: "hello", Author: Author{ID: "alice", Name: "Alice"}}
	if err := g.Deliver(RoomTarget(room), msg); err != nil {
		t.Fatalf("Deliver() error: %v", err)
	}

	// Exactly once to each of c1, c2, c3; nothing to c4.
	for _, c := range []*fakeConn{c1, c2, c3} {
		env := c.recvEvent(t, EventNewMessage)
		got, ok := env.Data.(ChatMessage)
		if !ok {
			t.Fatalf("data is %T, want ChatMessage", env.Data)
		}
		if got.ID != "m1" {
			t.Errorf("message ID = %q, want m1", got.ID)
		}
		c.assertIdle(t)
	}
	outsider.assertIdle(t)
}

func TestDisconnectCleanup(t *testing.T) {
	g := newTestGateway(t)
	ca := connect(t, g, "c-a", "alice", EndpointChat)
	cb := connect(t, g, "c-b", "bob", EndpointChat)
	p1 := ProjectRoom("p1")
	d1 := DiscussionRoom("d1")

	for _, room := range []RoomKey{p1, d1} {
		if err := g.Join(ca, room); err != nil {
			t.Fatalf("alice Join() error: %v", err)
		}
	}
	if err := g.Join(cb, p1); err != nil {
		t.Fatalf("bob Join() error: %v", err)
	}
	cb.recvEvent(t, EventRoomJoined)

	g.Disconnect("c-a")

	for _, room := range []RoomKey{p1, d1} {
		for _, member := range g.MembersOf(room) {
			if member == "alice" {
				t.Errorf("alice still a member of %s after disconnect", room)
			}
		}
	}
	// d1 had alice as sole member, so the key must be gone.
	if got := g.MembersOf(d1); len(got) != 0 {
		t.Errorf("MembersOf(d1) = %v, want empty", got)
	}
	if stats := g.Stats(); stats.Rooms != 1 {
		t.Errorf("Rooms = %d, want 1 (only p1 with bob remains)", stats.Rooms)
	}

	// Bob, still in p1, observes the departure.
	env := cb.recvEvent(t, EventUserLeft)
	data := presenceData(t, env)
	if data.UserID != "alice" {
		t.Errorf("UserID = %q, want alice", data.UserID)
	}
}

func TestDisconnect_SecondDeviceKeepsMembership(t *testing.T) {
	g := newTestGateway(t)
	c1 := connect(t, g, "c1", "alice", EndpointChat)
	connect(t, g, "c2", "alice", EndpointChat)
	room := ProjectRoom("p1")

	if err := g.Join(c1, room); err != nil {
		t.Fatalf("Join() error: %v", err)
	}

	g.Disconnect("c1")

	// Alice still has c2 open, so membership must survive.
	members := g.MembersOf(room)
	if len(members) != 1 || members[0] != "alice" {
		t.Errorf("MembersOf() = %v, want [alice]", members)
	}
}

func TestOfflineNotification(t *testing.T) {
	g := newTestGateway(t)

	err := g.Deliver(UserTarget("ghost"), Notification{ID: "n1", Type: "info"})
	if err != nil {
		t.Fatalf("Deliver() to offline user errored: %v", err)
	}
	// Nothing to assert beyond a clean return; the dispatch loop processes
	// the event against an empty audience.
}

func TestDeliver_TargetValidation(t *testing.T) {
	g := newTestGateway(t)
	room := ProjectRoom("p1")

	tests := []struct {
		name    string
		target  Target
		payload Payload
		wantErr bool
	}{
		{"room target", RoomTarget(room), ChatMessage{ID: "m1"}, false},
		{"user target", UserTarget("alice"), Notification{ID: "n1"}, false},
		{"empty target", Target{}, Notification{ID: "n1"}, true},
		{"ambiguous target", Target{Room: &room, User: "alice"}, Notification{ID: "n1"}, true},
		{"invalid room kind", RoomTarget(RoomKey{Kind: "bogus", ID: "x"}), ChatMessage{ID: "m1"}, true},
		{"nil payload", UserTarget("alice"), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.Deliver(tt.target, tt.payload)
			if (err != nil) != tt.wantErr {
				t.Errorf("Deliver() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDeliver_UserRoomTargetReachesAllDevices(t *testing.T) {
	g := newTestGateway(t)
	c1 := connect(t, g, "c1", "alice", EndpointNotifications)
	c2 := connect(t, g, "c2", "alice", EndpointChat)

	// A user-kind room target is equivalent to addressing the user.
	if err := g.Deliver(RoomTarget(UserRoom("alice")), NotificationUpdate{ID: "n1", Read: true}); err != nil {
		t.Fatalf("Deliver() error: %v", err)
	}

	c1.recvEvent(t, EventNotificationUpdate)
	c2.recvEvent(t, EventNotificationUpdate)
}

func TestDeliver_QueueFull(t *testing.T) {
	// No dispatch loop running: the queue fills and overflow is rejected.
	g := New(Config{DispatchBuffer: 2})

	for i := 0; i < 2; i++ {
		if err := g.Deliver(UserTarget("alice"), Notification{ID: fmt.Sprintf("n%d", i), Type: "info"}); err != nil {
			t.Fatalf("Deliver() %d error: %v", i, err)
		}
	}
	err := g.Deliver(UserTarget("alice"), Notification{ID: "n-overflow", Type: "info"})
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("Deliver() error = %v, want ErrQueueFull", err)
	}
}

func TestTyping_ExcludesSender(t *testing.T) {
	g := newTestGateway(t)
	ca := connect(t, g, "c-a", "alice", EndpointChat)
	cb := connect(t, g, "c-b", "bob", EndpointChat)
	room := DiscussionRoom("d1")

	for _, c := range []*fakeConn{ca, cb} {
		if err := g.Join(c, room); err != nil {
			t.Fatalf("Join() error: %v", err)
		}
		c.recvEvent(t, EventRoomJoined)
	}
	ca.recvEvent(t, EventUserJoined)

	g.Typing(ca, room, "Alice", true)

	env := cb.recvEvent(t, EventUserTyping)
	data, ok := env.Data.(typingPayload)
	if !ok {
		t.Fatalf("data is %T, want typingPayload", env.Data)
	}
	if data.UserID != "alice" || !data.IsTyping {
		t.Errorf("typing payload = %+v, want alice typing", data)
	}
	ca.assertIdle(t)
}

func TestTyping_NonMemberDropped(t *testing.T) {
	g := newTestGateway(t)
	ca := connect(t, g, "c-a", "alice", EndpointChat)
	cb := connect(t, g, "c-b", "bob", EndpointChat)
	room := DiscussionRoom("d1")

	if err := g.Join(cb, room); err != nil {
		t.Fatalf("Join() error: %v", err)
	}
	cb.recvEvent(t, EventRoomJoined)

	// Alice never joined; her signal must not reach the room.
	g.Typing(ca, room, "Alice", true)
	cb.assertIdle(t)
}

func TestMarkRead_ReachesNotificationConnectionsOnly(t *testing.T) {
	g := newTestGateway(t)
	sender := connect(t, g, "c1", "alice", EndpointNotifications)
	tab2 := connect(t, g, "c2", "alice", EndpointNotifications)
	chatTab := connect(t, g, "c3", "alice", EndpointChat)
	other := connect(t, g, "c4", "bob", EndpointNotifications)

	g.MarkRead(sender, "n1")

	for _, c := range []*fakeConn{sender, tab2} {
		env := c.recvEvent(t, EventNotificationRead)
		data, ok := env.Data.(readPayload)
		if !ok {
			t.Fatalf("data is %T, want readPayload", env.Data)
		}
		if data.NotificationID != "n1" {
			t.Errorf("NotificationID = %q, want n1", data.NotificationID)
		}
	}
	chatTab.assertIdle(t)
	other.assertIdle(t)
}

func TestNotificationConnect_ImplicitPersonalRoom(t *testing.T) {
	g := newTestGateway(t)
	connect(t, g, "c1", "alice", EndpointNotifications)

	members := g.MembersOf(UserRoom("alice"))
	if len(members) != 1 || members[0] != "alice" {
		t.Errorf("personal room members = %v, want [alice]", members)
	}

	g.Disconnect("c1")
	if got := g.MembersOf(UserRoom("alice")); len(got) != 0 {
		t.Errorf("personal room members = %v, want empty after disconnect", got)
	}
}

func TestSlowConnection_DoesNotStallSiblings(t *testing.T) {
	g := newTestGateway(t)
	healthy := connect(t, g, "c1", "alice", EndpointChat)

	// A connection whose buffer is permanently full.
	stuck := &fakeConn{id: "c2", userID: "bob", endpoint: EndpointChat, frames: make(chan *Envelope)}
	g.Connect(stuck)

	room := ProjectRoom("p1")
	for _, c := range []*fakeConn{healthy, stuck} {
		if err := g.Join(c, room); err != nil {
			t.Fatalf("Join() error: %v", err)
		}
	}
	// Drain healthy's acks and presence chatter.
	for {
		select {
		case <-healthy.frames:
			continue
		case <-time.After(50 * time.Millisecond):
		}
		break
	}

	if err := g.Deliver(RoomTarget(room), ChatMessage{ID: "m1", Content: "hi"}); err != nil {
		t.Fatalf("Deliver() error: %v", err)
	}

	// The healthy sibling still gets the message.
	healthy.recvEvent(t, EventNewMessage)
}

func TestConcurrentJoinLeave(t *testing.T) {
	g := newTestGateway(t)
	room := ProjectRoom("p1")

	const workers = 16
	conns := make([]*fakeConn, workers)
	for i := range conns {
		c := newFakeConn(fmt.Sprintf("c%d", i), fmt.Sprintf("user%d", i), EndpointChat)
		// Unbounded-enough buffer so presence chatter never blocks.
		c.frames = make(chan *Envelope, 4096)
		g.Connect(c)
		conns[i] = c
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(c *fakeConn) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if err := g.Join(c, room); err != nil {
					t.Errorf("Join() error: %v", err)
					return
				}
				g.Typing(c, room, "", j%2 == 0)
				if err := g.Leave(c, room); err != nil {
					t.Errorf("Leave() error: %v", err)
					return
				}
			}
		}(conns[i])
	}
	wg.Wait()

	// Every worker's last operation was Leave, so the room must be gone.
	if got := g.MembersOf(room); len(got) != 0 {
		t.Errorf("MembersOf() = %v, want empty after all workers left", got)
	}
	stats := g.Stats()
	if stats.Rooms != 0 {
		t.Errorf("Rooms = %d, want 0", stats.Rooms)
	}
	if stats.Connections != workers {
		t.Errorf("Connections = %d, want %d", stats.Connections, workers)
	}
}

func TestConcurrentDeliverAndDisconnect(t *testing.T) {
	g := newTestGateway(t)
	room := DiscussionRoom("d1")

	const users = 8
	for i := 0; i < users; i++ {
		c := newFakeConn(fmt.Sprintf("c%d", i), fmt.Sprintf("user%d", i), EndpointChat)
		c.frames = make(chan *Envelope, 4096)
		g.Connect(c)
		if err := g.Join(c, room); err != nil {
			t.Fatalf("Join() error: %v", err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = g.Deliver(RoomTarget(room), ChatMessage{ID: fmt.Sprintf("m%d", i)})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < users; i++ {
			g.Disconnect(fmt.Sprintf("c%d", i))
		}
	}()
	wg.Wait()

	if stats := g.Stats(); stats.Connections != 0 || stats.Rooms != 0 {
		t.Errorf("stats = %+v, want empty gateway", stats)
	}
}

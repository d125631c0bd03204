// Costboard Gateway - realtime presence and event fan-out for Costboard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/costboard/gateway

package gateway

import (
	"time"
)

// Event names the outbound event types pushed to clients. The set is closed;
// clients switch on this field to route the envelope's data.
type Event string

const (
	EventConnected          Event = "connected"
	EventRoomJoined         Event = "room_joined"
	EventRoomLeft           Event = "room_left"
	EventUserJoined         Event = "user_joined"
	EventUserLeft           Event = "user_left"
	EventUserTyping         Event = "user_typing"
	EventNewMessage         Event = "new_message"
	EventMessageUpdate      Event = "message_update"
	EventNotification       Event = "notification"
	EventNotificationUpdate Event = "notification_update"
	EventNotificationRead   Event = "notification_read"
	EventError              Event = "error"
)

// ErrorPayload is the data of error events sent back on a rejected inbound
// command. The connection stays open; only the command is refused.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Envelope is the single outbound frame shape. Data holds one of the payload
// variants below, matched to Event.
type Envelope struct {
	Event Event `json:"event"`
	Data  any   `json:"data,omitempty"`
}

// Payload is the closed set of variants the business layer may hand to
// Deliver. The unexported method seals the set so the dispatcher can be
// statically verified never to misroute a payload shape.
type Payload interface {
	event() Event
}

// Author identifies the user that produced a chat message.
type Author struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Attachment references a file attached to a chat message. The file itself
// lives in the business layer's storage; the gateway forwards metadata only.
type Attachment struct {
	ID       string `json:"id"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	URL      string `json:"url,omitempty"`
}

// ChatMessage is a persisted chat message fanned out to a room.
type ChatMessage struct {
	ID          string       `json:"id" validate:"required"`
	Content     string       `json:"content"`
	Author      Author       `json:"author"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt,omitempty"`
}

func (ChatMessage) event() Event { return EventNewMessage }

// MessageUpdate announces an edit or deletion of an existing chat message.
type MessageUpdate struct {
	ID      string       `json:"id" validate:"required"`
	Action  string       `json:"action" validate:"required,oneof=edited deleted"`
	Message *ChatMessage `json:"message,omitempty"`
}

func (MessageUpdate) event() Event { return EventMessageUpdate }

// Notification is a persisted notification pushed to every open connection
// of a single user.
type Notification struct {
	ID          string    `json:"id" validate:"required"`
	Type        string    `json:"type" validate:"required"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	RelatedID   string    `json:"relatedId,omitempty"`
	RelatedType string    `json:"relatedType,omitempty"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (Notification) event() Event { return EventNotification }

// NotificationUpdate announces a state change (typically read/unread) of an
// existing notification, so every device a user has open stays in sync.
type NotificationUpdate struct {
	ID   string `json:"id" validate:"required"`
	Read bool   `json:"read"`
}

func (NotificationUpdate) event() Event { return EventNotificationUpdate }

// presencePayload is the data of user_joined, user_left, room_joined and
// room_left events. OnlineUsers is always the room's full current member
// list, never a delta, so a late joiner needs no incremental state.
type presencePayload struct {
	UserID      string   `json:"userId,omitempty"`
	Room        string   `json:"room"`
	OnlineUsers []string `json:"onlineUsers,omitempty"`
}

// typingPayload is the data of user_typing events.
type typingPayload struct {
	UserID   string `json:"userId"`
	Name     string `json:"name,omitempty"`
	Room     string `json:"room"`
	IsTyping bool   `json:"isTyping"`
}

// connectedPayload acknowledges a successful handshake.
type connectedPayload struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

// readPayload is the data of notification_read events relayed between a
// user's own connections after a mark_read command.
type readPayload struct {
	NotificationID string `json:"notificationId"`
	UserID         string `json:"userId"`
}

// Target selects the audience of a Deliver call: exactly one of Room or
// User must be set.
type Target struct {
	Room *RoomKey `json:"room,omitempty"`
	User string   `json:"user,omitempty"`
}

// RoomTarget selects every member of a room.
func RoomTarget(key RoomKey) Target {
	return Target{Room: &key}
}

// UserTarget selects every open connection of a single user.
func UserTarget(userID string) Target {
	return Target{User: userID}
}

func (t Target) validate() error {
	switch {
	case t.Room != nil && t.User != "":
		return errAmbiguousTarget
	case t.Room != nil:
		return t.Room.Validate()
	case t.User != "":
		return nil
	default:
		return errEmptyTarget
	}
}

// Costboard Gateway - realtime presence and event fan-out for Costboard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/costboard/gateway

package gateway

import (
	"fmt"
	"strings"
)

// RoomKind identifies the broadcast domain a room belongs to.
type RoomKind string

const (
	// KindProject is a project chat room.
	KindProject RoomKind = "project"
	// KindDiscussion is a discussion thread room.
	KindDiscussion RoomKind = "discussion"
	// KindUser is a user's implicit personal notification channel.
	// Personal rooms carry no presence semantics.
	KindUser RoomKind = "user"
)

// Valid reports whether k is one of the known room kinds.
func (k RoomKind) Valid() bool {
	switch k {
	case KindProject, KindDiscussion, KindUser:
		return true
	}
	return false
}

// ParseRoomKind converts a client-supplied kind string to a RoomKind.
func ParseRoomKind(s string) (RoomKind, error) {
	k := RoomKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown room kind %q", s)
	}
	return k, nil
}

// RoomKey is the composite identifier of a room. Rooms are not persisted
// entities; a key exists only while at least one member is joined.
type RoomKey struct {
	Kind RoomKind `json:"kind"`
	ID   string   `json:"id"`
}

// ProjectRoom returns the room key for a project chat room.
func ProjectRoom(projectID string) RoomKey {
	return RoomKey{Kind: KindProject, ID: projectID}
}

// DiscussionRoom returns the room key for a discussion thread room.
func DiscussionRoom(discussionID string) RoomKey {
	return RoomKey{Kind: KindDiscussion, ID: discussionID}
}

// UserRoom returns the implicit personal notification room for a user.
func UserRoom(userID string) RoomKey {
	return RoomKey{Kind: KindUser, ID: userID}
}

// Validate checks that the key names a well-formed room.
func (k RoomKey) Validate() error {
	if !k.Kind.Valid() {
		return fmt.Errorf("unknown room kind %q", k.Kind)
	}
	if k.ID == "" {
		return fmt.Errorf("room id is required")
	}
	return nil
}

// String renders the key in the "kind:id" wire form used in event payloads.
func (k RoomKey) String() string {
	return string(k.Kind) + ":" + k.ID
}

// ParseRoomKey parses the "kind:id" wire form back into a RoomKey.
func ParseRoomKey(s string) (RoomKey, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return RoomKey{}, fmt.Errorf("malformed room key %q", s)
	}
	k, err := ParseRoomKind(kind)
	if err != nil {
		return RoomKey{}, err
	}
	return RoomKey{Kind: k, ID: id}, nil
}

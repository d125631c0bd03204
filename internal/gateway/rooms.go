// Costboard Gateway - realtime presence and event fan-out for Costboard
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/costboard/gateway

package gateway

import "sort"

// rooms tracks room membership at user granularity: a user is either in a
// room or not, regardless of how many connections they have open. Like the
// registry it is guarded by the owning Gateway's mutex, and a room key
// exists only while its member set is non-empty.
type rooms struct {
	members map[RoomKey]map[string]struct{}
	// byUser is the reverse index used by leaveAll on disconnect, so the
	// affected rooms come from tracked state rather than anything the
	// client claimed.
	byUser map[string]map[RoomKey]struct{}
}

func newRooms() *rooms {
	return &rooms{
		members: make(map[RoomKey]map[string]struct{}),
		byUser:  make(map[string]map[RoomKey]struct{}),
	}
}

// join adds the user to the room. Joining twice is a no-op; added reports
// whether membership actually changed.
func (t *rooms) join(key RoomKey, userID string) (added bool) {
	set := t.members[key]
	if set == nil {
		set = make(map[string]struct{})
		t.members[key] = set
	}
	if _, ok := set[userID]; ok {
		return false
	}
	set[userID] = struct{}{}

	userRooms := t.byUser[userID]
	if userRooms == nil {
		userRooms = make(map[RoomKey]struct{})
		t.byUser[userID] = userRooms
	}
	userRooms[key] = struct{}{}
	return true
}

// leave removes the user from the room, dropping the room key entirely when
// the last member leaves. Leaving a room the user is not in is a no-op.
func (t *rooms) leave(key RoomKey, userID string) (removed bool) {
	set, ok := t.members[key]
	if !ok {
		return false
	}
	if _, ok := set[userID]; !ok {
		return false
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(t.members, key)
	}

	userRooms := t.byUser[userID]
	delete(userRooms, key)
	if len(userRooms) == 0 {
		delete(t.byUser, userID)
	}
	return true
}

// leaveAll removes the user from every room they are in and returns the
// affected room keys so departures can be announced to each.
func (t *rooms) leaveAll(userID string) []RoomKey {
	userRooms := t.byUser[userID]
	if len(userRooms) == 0 {
		return nil
	}
	keys := make([]RoomKey, 0, len(userRooms))
	for key := range userRooms {
		keys = append(keys, key)
	}
	for _, key := range keys {
		t.leave(key, userID)
	}
	return keys
}

// membersOf returns the room's member user ids, sorted for deterministic
// presence snapshots. Unknown rooms yield an empty slice.
func (t *rooms) membersOf(key RoomKey) []string {
	set := t.members[key]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (t *rooms) contains(key RoomKey, userID string) bool {
	_, ok := t.members[key][userID]
	return ok
}

func (t *rooms) roomCount() int {
	return len(t.members)
}

package chat

import (
	"sort"
	"strings"
)

// Room id prefixes. DM and group ids never collide because the prefixes differ.
const (
	dmPrefix    = "dm:"
	groupPrefix = "group:"
	dmSeparator = "|"

	// WorldRoom is the implicit room every connection belongs to.
	WorldRoom = "world"
)

// DMRoomID returns the canonical room for a pair of users; argument order does not matter.
func DMRoomID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return dmPrefix + strings.Join(pair, dmSeparator)
}

// GroupRoomID returns the room for a group name.
func GroupRoomID(name string) string {
	return groupPrefix + name
}

// ParseDMRoom splits a DM room id into its two participants.
func ParseDMRoom(room string) (a, b string, ok bool) {
	rest, found := strings.CutPrefix(room, dmPrefix)
	if !found {
		return "", "", false
	}
	a, b, ok = strings.Cut(rest, dmSeparator)
	if !ok || a == "" || b == "" || strings.Contains(b, dmSeparator) {
		return "", "", false
	}
	return a, b, true
}

// ParseGroupRoom returns the group name for a group room id.
func ParseGroupRoom(room string) (string, bool) {
	name, ok := strings.CutPrefix(room, groupPrefix)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

// isDMParticipant reports whether user is one of the two members of a DM room.
func isDMParticipant(room, user string) bool {
	a, b, ok := ParseDMRoom(room)
	return ok && (a == user || b == user)
}

// dmPeer returns the other participant of a DM room.
func dmPeer(room, user string) string {
	a, b, ok := ParseDMRoom(room)
	switch {
	case !ok:
		return ""
	case a == user:
		return b
	case b == user:
		return a
	}
	return ""
}

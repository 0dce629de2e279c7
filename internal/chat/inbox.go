package chat

import (
	"sort"
	"strings"
)

// ThreadKind tells DM threads from group threads in an inbox.
type ThreadKind string

const (
	ThreadDM    ThreadKind = "dm"
	ThreadGroup ThreadKind = "group"
)

// ThreadPreview is one inbox row: the latest message of a room and how many
// messages the user has not read yet.
type ThreadPreview struct {
	Room     string     `json:"room"`
	Kind     ThreadKind `json:"kind"`
	Title    string     `json:"title"`
	LastFrom string     `json:"lastFrom,omitempty"`
	LastText string     `json:"lastText,omitempty"`
	LastTs   int64      `json:"lastTs"`
	Unread   int        `json:"unread"`
}

// Inbox summarizes every DM and group room visible to username from the
// in-memory log, most recent first. Groups without messages are listed too.
func (e *Engine) Inbox(username string) []ThreadPreview {
	name := strings.TrimSpace(username)
	if name == "" {
		return []ThreadPreview{}
	}
	groups := e.directory.MemberOf(name)
	groupRooms := make([]string, 0, len(groups))
	for _, g := range groups {
		groupRooms = append(groupRooms, GroupRoomID(g))
	}
	history := e.log.visibleTo(name, groupRooms)

	out := make([]ThreadPreview, 0, len(history)+len(groups))
	for room, msgs := range history {
		p := ThreadPreview{Room: room, Unread: e.tracker.UnreadCount(name, room, msgs)}
		if g, ok := ParseGroupRoom(room); ok {
			p.Kind, p.Title = ThreadGroup, g
		} else {
			p.Kind, p.Title = ThreadDM, dmPeer(room, name)
		}
		last := msgs[len(msgs)-1]
		p.LastFrom, p.LastText, p.LastTs = last.From, last.Text, last.Timestamp
		out = append(out, p)
	}
	for _, g := range groups {
		if _, ok := history[GroupRoomID(g)]; !ok {
			out = append(out, ThreadPreview{Room: GroupRoomID(g), Kind: ThreadGroup, Title: g})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastTs != out[j].LastTs {
			return out[i].LastTs > out[j].LastTs
		}
		return out[i].Room < out[j].Room
	})
	return out
}

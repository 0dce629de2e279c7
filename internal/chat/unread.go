package chat

import (
	"sort"
	"strings"
	"sync"
)

// Tracker keeps per-user, per-room read watermarks (unix ms).
// A watermark only moves forward: a stale timestamp arriving late never
// overwrites a newer one.
type Tracker struct {
	mu    sync.RWMutex
	marks map[string]map[string]int64 // username -> room -> read up to
}

func NewTracker() *Tracker {
	return &Tracker{marks: map[string]map[string]int64{}}
}

// MarkRead records that user has read room up to at. It returns the
// resulting watermark and whether it moved.
func (t *Tracker) MarkRead(user, room string, at int64) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rooms, ok := t.marks[user]
	if !ok {
		rooms = map[string]int64{}
		t.marks[user] = rooms
	}
	if cur, ok := rooms[room]; ok && cur >= at {
		return cur, false
	}
	rooms[room] = at
	return at, true
}

// Watermark returns the stored watermark, 0 when the room was never read.
func (t *Tracker) Watermark(user, room string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.marks[user][room]
}

// Merge folds watermarks loaded from a store into memory, keeping the larger value.
func (t *Tracker) Merge(user string, marks map[string]int64) {
	for room, at := range marks {
		t.MarkRead(user, room, at)
	}
}

// UnreadCount counts messages in msgs that are newer than the watermark
// and were not sent by user.
func (t *Tracker) UnreadCount(user, room string, msgs []Message) int {
	mark := t.Watermark(user, room)
	n := 0
	for _, m := range msgs {
		if m.Room == room && m.From != user && m.Timestamp > mark {
			n++
		}
	}
	return n
}

// MaxRoomLog bounds the in-memory history kept per room.
const MaxRoomLog = 500

// roomLog is the in-memory message history used for history replay and
// unread counts when no store is configured, or when it fails.
type roomLog struct {
	mu    sync.RWMutex
	limit int
	rooms map[string][]Message
}

func newRoomLog(limit int) *roomLog {
	if limit <= 0 {
		limit = MaxRoomLog
	}
	return &roomLog{limit: limit, rooms: map[string][]Message{}}
}

func (l *roomLog) append(m Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msgs := append(l.rooms[m.Room], m)
	if len(msgs) > l.limit {
		msgs = msgs[len(msgs)-l.limit:]
	}
	l.rooms[m.Room] = msgs
}

func (l *roomLog) drop(room string) {
	l.mu.Lock()
	delete(l.rooms, room)
	l.mu.Unlock()
}

// visibleTo returns the history of every DM room user takes part in plus
// the listed group rooms, keyed by room, oldest first.
func (l *roomLog) visibleTo(user string, groupRooms []string) map[string][]Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := map[string][]Message{}
	for room, msgs := range l.rooms {
		if strings.HasPrefix(room, dmPrefix) && isDMParticipant(room, user) && len(msgs) > 0 {
			out[room] = append([]Message(nil), msgs...)
		}
	}
	for _, room := range groupRooms {
		if msgs := l.rooms[room]; len(msgs) > 0 {
			out[room] = append([]Message(nil), msgs...)
		}
	}
	return out
}

// groupByRoom buckets msgs by room and orders each bucket by timestamp.
func groupByRoom(msgs []Message) map[string][]Message {
	out := map[string][]Message{}
	for _, m := range msgs {
		out[m.Room] = append(out[m.Room], m)
	}
	for _, bucket := range out {
		sort.SliceStable(bucket, func(i, j int) bool { return bucket[i].Timestamp < bucket[j].Timestamp })
	}
	return out
}

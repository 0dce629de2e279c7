package chat

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerWatermarkNeverMovesBack(t *testing.T) {
	tr := NewTracker()

	at, moved := tr.MarkRead("bob", "dm:alice|bob", 200)
	assert.True(t, moved)
	assert.Equal(t, int64(200), at)

	at, moved = tr.MarkRead("bob", "dm:alice|bob", 150)
	assert.False(t, moved)
	assert.Equal(t, int64(200), at)
	assert.Equal(t, int64(200), tr.Watermark("bob", "dm:alice|bob"))

	tr.Merge("bob", map[string]int64{"dm:alice|bob": 100, "group:eng": 50})
	assert.Equal(t, int64(200), tr.Watermark("bob", "dm:alice|bob"))
	assert.Equal(t, int64(50), tr.Watermark("bob", "group:eng"))
	assert.Zero(t, tr.Watermark("alice", "group:eng"))
}

func TestTrackerUnreadCount(t *testing.T) {
	room := "group:eng"
	msgs := []Message{
		{Room: room, From: "alice", Timestamp: 100},
		{Room: room, From: "bob", Timestamp: 110},
		{Room: room, From: "alice", Timestamp: 120},
		{Room: "group:ops", From: "alice", Timestamp: 130},
	}

	tests := []struct {
		name string
		mark int64
		want int
	}{
		{"never read", 0, 2},
		{"read first", 100, 1},
		{"read all", 120, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker()
			if tt.mark > 0 {
				tr.MarkRead("bob", room, tt.mark)
			}
			assert.Equal(t, tt.want, tr.UnreadCount("bob", room, msgs))
		})
	}
}

func TestRoomLogBoundsAndVisibility(t *testing.T) {
	l := newRoomLog(3)
	for i := 0; i < 5; i++ {
		l.append(Message{ID: fmt.Sprint(i), Room: "dm:alice|bob", Timestamp: int64(i)})
	}
	l.append(Message{ID: "g", Room: "group:eng"})
	l.append(Message{ID: "x", Room: "dm:carol|dave"})

	got := l.visibleTo("bob", []string{"group:eng", "group:none"})
	require.Len(t, got, 2)
	assert.Equal(t, []string{"2", "3", "4"}, ids(got["dm:alice|bob"]))
	assert.Equal(t, []string{"g"}, ids(got["group:eng"]))

	l.drop("group:eng")
	assert.NotContains(t, l.visibleTo("bob", []string{"group:eng"}), "group:eng")
}

func TestGroupByRoomOrdersByTimestamp(t *testing.T) {
	got := groupByRoom([]Message{
		{ID: "b", Room: "r1", Timestamp: 20},
		{ID: "x", Room: "r2", Timestamp: 5},
		{ID: "a", Room: "r1", Timestamp: 10},
	})
	assert.Equal(t, []string{"a", "b"}, ids(got["r1"]))
	assert.Equal(t, []string{"x"}, ids(got["r2"]))
}

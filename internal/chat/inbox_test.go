package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboxSummarizesRooms(t *testing.T) {
	e := newTestEngine(t, nil)
	register(t, e, "c1", "alice")
	register(t, e, "c2", "bob")
	register(t, e, "c3", "carol")

	_, err := e.CreateGroup("c1", "eng", false)
	require.NoError(t, err)
	_, err = e.CreateGroup("c1", "quiet", false)
	require.NoError(t, err)
	_, err = e.JoinGroup("c2", "eng")
	require.NoError(t, err)

	_, err = e.SendGroupMessage("c2", "eng", "standup?")
	require.NoError(t, err)
	_, err = e.StartDM("c3", "alice")
	require.NoError(t, err)
	_, err = e.SendDM("c3", "dm:alice|carol", "lunch")
	require.NoError(t, err)
	_, err = e.SendDM("c3", "dm:alice|carol", "now?")
	require.NoError(t, err)

	inbox := e.Inbox("alice")
	require.Len(t, inbox, 3)

	assert.Equal(t, ThreadPreview{
		Room: "dm:alice|carol", Kind: ThreadDM, Title: "carol",
		LastFrom: "carol", LastText: "now?", LastTs: inbox[0].LastTs, Unread: 2,
	}, inbox[0])
	assert.Equal(t, "eng", inbox[1].Title)
	assert.Equal(t, 1, inbox[1].Unread)
	assert.Equal(t, ThreadPreview{Room: "group:quiet", Kind: ThreadGroup, Title: "quiet"}, inbox[2])

	require.NoError(t, e.MarkRead("c1", []string{"dm:alice|carol"}))
	assert.Zero(t, e.Inbox("alice")[0].Unread)

	assert.Empty(t, e.Inbox(" "))
}

package chat

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pushedFrame struct {
	Event string          `json:"event"`
	ID    *int64          `json:"id"`
	Data  json.RawMessage `json:"data"`
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// tickingClock returns a clock that advances one millisecond per call.
func tickingClock() func() time.Time {
	var n atomic.Int64
	n.Store(1_700_000_000_000)
	return func() time.Time { return time.UnixMilli(n.Add(1)) }
}

func newTestEngine(t *testing.T, store Store) *Engine {
	t.Helper()
	return NewEngine(Options{
		Store:  store,
		Logger: discardLogger(),
		Now:    tickingClock(),
	})
}

func attach(t *testing.T, e *Engine, connID string) *Client {
	t.Helper()
	c := NewClient(connID, nil, nil)
	e.Connect(c)
	return c
}

func register(t *testing.T, e *Engine, connID, name string) *Client {
	t.Helper()
	c := attach(t, e, connID)
	_, err := e.Register(connID, name)
	require.NoError(t, err)
	return c
}

// received drains every frame queued for c.
func received(t *testing.T, c *Client) []pushedFrame {
	t.Helper()
	var out []pushedFrame
	for {
		select {
		case data := <-c.Send:
			var f pushedFrame
			require.NoError(t, json.Unmarshal(data, &f))
			out = append(out, f)
		default:
			return out
		}
	}
}

func eventsNamed(frames []pushedFrame, event string) []json.RawMessage {
	var out []json.RawMessage
	for _, f := range frames {
		if f.Event == event {
			out = append(out, f.Data)
		}
	}
	return out
}

func lastEvent[T any](t *testing.T, frames []pushedFrame, event string) T {
	t.Helper()
	all := eventsNamed(frames, event)
	require.NotEmpty(t, all, "no %q frame", event)
	var v T
	require.NoError(t, json.Unmarshal(all[len(all)-1], &v))
	return v
}

func TestConnectSendsWorldHistory(t *testing.T) {
	e := newTestEngine(t, nil)
	first := attach(t, e, "c1")
	_, err := e.SendWorld("c1", "hello")
	require.NoError(t, err)
	received(t, first)

	second := attach(t, e, "c2")
	history := lastEvent[[]Message](t, received(t, second), EventWorldHistory)
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Text)
	assert.Equal(t, "Guest-c1", history[0].From)
}

func TestRegisterBroadcastsUsers(t *testing.T) {
	e := newTestEngine(t, nil)
	alice := register(t, e, "c1", "alice")
	received(t, alice)

	bob := attach(t, e, "c2")
	res, err := e.Register("c2", "  bob ")
	require.NoError(t, err)
	assert.Equal(t, "bob", res.Username)
	assert.Equal(t, []string{"alice", "bob"}, res.Users)

	assert.Equal(t, []string{"alice", "bob"}, lastEvent[[]string](t, received(t, alice), EventUsersUpdate))
	assert.Equal(t, []string{"alice", "bob"}, lastEvent[[]string](t, received(t, bob), EventUsersUpdate))

	attach(t, e, "c3")
	_, err = e.Register("c3", "alice")
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestDisconnectReleasesName(t *testing.T) {
	e := newTestEngine(t, nil)
	alice := register(t, e, "c1", "alice")
	bob := register(t, e, "c2", "bob")
	received(t, bob)

	e.Disconnect("c1")
	assert.Equal(t, []string{"bob"}, lastEvent[[]string](t, received(t, bob), EventUsersUpdate))
	select {
	case <-alice.Done():
	default:
		t.Fatal("client not closed on disconnect")
	}

	attach(t, e, "c3")
	_, err := e.Register("c3", "alice")
	assert.NoError(t, err)
}

func TestDirectMessageFlow(t *testing.T) {
	e := newTestEngine(t, nil)
	alice := register(t, e, "c1", "alice")
	bob := register(t, e, "c2", "bob")
	received(t, alice)
	received(t, bob)

	ready, err := e.StartDM("c2", "alice")
	require.NoError(t, err)
	assert.Equal(t, "dm:alice|bob", ready.Room)
	assert.Equal(t, []string{"alice", "bob"}, ready.With)
	assert.True(t, e.Hub().Subscribed("c1", ready.Room))
	assert.True(t, e.Hub().Subscribed("c2", ready.Room))

	assert.Equal(t, ready.Room, lastEvent[DMReady](t, received(t, alice), EventDMReady).Room)
	received(t, bob)

	_, err = e.SendDM("c2", ready.Room, "hi")
	require.NoError(t, err)
	for _, c := range []*Client{alice, bob} {
		m := lastEvent[Message](t, received(t, c), EventDMMessage)
		assert.Equal(t, "bob", m.From)
		assert.Equal(t, "hi", m.Text)
		assert.Equal(t, MessageDM, m.Type)
		assert.Equal(t, ready.Room, m.Room)
	}
}

func TestDirectMessageErrors(t *testing.T) {
	e := newTestEngine(t, nil)
	register(t, e, "c1", "alice")
	register(t, e, "c2", "bob")
	register(t, e, "c3", "carol")
	attach(t, e, "c4")

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"offline target", func() error { _, err := e.StartDM("c1", "dave"); return err }, ErrTargetOffline},
		{"self target", func() error { _, err := e.StartDM("c1", "alice"); return err }, ErrInvalidTarget},
		{"empty target", func() error { _, err := e.StartDM("c1", " "); return err }, ErrInvalidTarget},
		{"unregistered", func() error { _, err := e.StartDM("c4", "bob"); return err }, ErrNotRegistered},
		{"outsider sends", func() error { _, err := e.SendDM("c3", "dm:alice|bob", "x"); return err }, ErrInvalidRoom},
		{"group room", func() error { _, err := e.SendDM("c1", "group:eng", "x"); return err }, ErrInvalidRoom},
		{"empty text", func() error { _, err := e.SendDM("c1", "dm:alice|bob", "  "); return err }, ErrEmptyText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(), tt.want)
		})
	}
}

func TestPrivateGroupWorkflow(t *testing.T) {
	e := newTestEngine(t, nil)
	alice := register(t, e, "c1", "alice")
	bob := register(t, e, "c2", "bob")

	g, err := e.CreateGroup("c1", "eng", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, g.Members)
	assert.True(t, e.Hub().Subscribed("c1", "group:eng"))

	_, err = e.JoinGroup("c2", "eng")
	assert.ErrorIs(t, err, ErrGroupPrivate)

	received(t, alice)
	received(t, bob)
	require.NoError(t, e.RequestJoin("c2", "eng"))

	aliceFrames := received(t, alice)
	req := lastEvent[JoinRequest](t, aliceFrames, EventJoinRequest)
	assert.Equal(t, JoinRequest{GroupName: "eng", Requester: "bob"}, req)
	aliceView := lastEvent[[]GroupView](t, aliceFrames, EventGroupsUpdate)
	require.Len(t, aliceView, 1)
	assert.Equal(t, []string{"bob"}, aliceView[0].Pending)

	bobView := lastEvent[[]GroupView](t, received(t, bob), EventGroupsUpdate)
	require.Len(t, bobView, 1)
	assert.Empty(t, bobView[0].Pending)

	assert.ErrorIs(t, e.Approve("c2", "eng", "bob"), ErrNotOwner)
	require.NoError(t, e.Approve("c1", "eng", "bob"))
	assert.ErrorIs(t, e.Approve("c1", "eng", "bob"), ErrNoSuchPending)

	assert.True(t, e.Hub().Subscribed("c2", "group:eng"))
	assert.Equal(t, "eng", lastEvent[GroupDecision](t, received(t, bob), EventGroupApproved).GroupName)

	got, ok := e.Group("eng")
	require.True(t, ok)
	assert.Equal(t, []string{"alice", "bob"}, got.MemberList())
	assert.Empty(t, got.PendingList())
}

func TestRejectNotifiesRequester(t *testing.T) {
	e := newTestEngine(t, nil)
	register(t, e, "c1", "alice")
	bob := register(t, e, "c2", "bob")
	_, err := e.CreateGroup("c1", "eng", true)
	require.NoError(t, err)
	require.NoError(t, e.RequestJoin("c2", "eng"))
	received(t, bob)

	require.NoError(t, e.Reject("c1", "eng", "bob"))
	assert.Equal(t, "eng", lastEvent[GroupDecision](t, received(t, bob), EventGroupRejected).GroupName)
	assert.False(t, e.Hub().Subscribed("c2", "group:eng"))

	// a rejected user may ask again
	assert.NoError(t, e.RequestJoin("c2", "eng"))
}

func TestGroupMessageAndDelete(t *testing.T) {
	e := newTestEngine(t, nil)
	alice := register(t, e, "c1", "alice")
	bob := register(t, e, "c2", "bob")
	carol := register(t, e, "c3", "carol")

	_, err := e.CreateGroup("c1", "eng", false)
	require.NoError(t, err)
	_, err = e.JoinGroup("c2", "eng")
	require.NoError(t, err)
	received(t, alice)
	received(t, bob)
	received(t, carol)

	_, err = e.SendGroupMessage("c3", "eng", "let me in")
	assert.ErrorIs(t, err, ErrNotAMember)

	m, err := e.SendGroupMessage("c1", "eng", "standup")
	require.NoError(t, err)
	assert.Equal(t, "group:eng", m.Room)
	assert.Equal(t, "eng", m.GroupName)
	assert.Len(t, eventsNamed(received(t, bob), EventGroupMessage), 1)
	assert.Empty(t, eventsNamed(received(t, carol), EventGroupMessage))

	assert.ErrorIs(t, e.DeleteGroup("c3", "eng"), ErrNotAMember)
	require.NoError(t, e.DeleteGroup("c2", "eng"))
	assert.False(t, e.Hub().Subscribed("c1", "group:eng"))
	assert.False(t, e.Hub().Subscribed("c2", "group:eng"))
	assert.Empty(t, lastEvent[[]GroupView](t, received(t, alice), EventGroupsUpdate))

	_, err = e.SendGroupMessage("c1", "eng", "anyone?")
	assert.ErrorIs(t, err, ErrNotAMember)
	assert.ErrorIs(t, e.DeleteGroup("c1", "eng"), ErrGroupNotFound)
}

func TestReconnectRestoresMembershipAndHistory(t *testing.T) {
	e := newTestEngine(t, nil)
	register(t, e, "c1", "alice")
	register(t, e, "c2", "bob")

	_, err := e.CreateGroup("c1", "eng", false)
	require.NoError(t, err)
	_, err = e.JoinGroup("c2", "eng")
	require.NoError(t, err)
	_, err = e.StartDM("c1", "bob")
	require.NoError(t, err)

	e.Disconnect("c2")
	_, err = e.SendDM("c1", "dm:alice|bob", "one")
	require.NoError(t, err)
	_, err = e.SendDM("c1", "dm:alice|bob", "two")
	require.NoError(t, err)
	_, err = e.SendGroupMessage("c1", "eng", "standup")
	require.NoError(t, err)

	bob := attach(t, e, "c9")
	res, err := e.Register("c9", "bob")
	require.NoError(t, err)
	require.Len(t, res.Groups, 1)
	assert.Equal(t, []string{"alice", "bob"}, res.Groups[0].Members)

	assert.True(t, e.Hub().Subscribed("c9", "group:eng"))
	assert.True(t, e.Hub().Subscribed("c9", "dm:alice|bob"))

	frames := received(t, bob)
	history := lastEvent[map[string][]Message](t, frames, EventHistoryLoad)
	require.Len(t, history["dm:alice|bob"], 2)
	assert.Equal(t, "one", history["dm:alice|bob"][0].Text)
	assert.Len(t, history["group:eng"], 1)

	unread := lastEvent[map[string]int](t, frames, EventUnreadUpdate)
	assert.Equal(t, map[string]int{"dm:alice|bob": 2, "group:eng": 1}, unread)
}

func TestMarkReadClearsUnread(t *testing.T) {
	e := newTestEngine(t, nil)
	register(t, e, "c1", "alice")
	register(t, e, "c2", "bob")
	_, err := e.StartDM("c1", "bob")
	require.NoError(t, err)

	_, err = e.SendDM("c1", "dm:alice|bob", "ping")
	require.NoError(t, err)
	assert.Equal(t, 1, e.UnreadCount("bob", "dm:alice|bob"))
	assert.Equal(t, 0, e.UnreadCount("alice", "dm:alice|bob"))

	require.NoError(t, e.MarkRead("c2", []string{"dm:alice|bob"}))
	assert.Equal(t, 0, e.UnreadCount("bob", "dm:alice|bob"))

	_, err = e.SendDM("c1", "dm:alice|bob", "pong")
	require.NoError(t, err)
	assert.Equal(t, 1, e.UnreadCount("bob", "dm:alice|bob"))

	e.Disconnect("c2")
	bob := attach(t, e, "c3")
	_, err = e.Register("c3", "bob")
	require.NoError(t, err)
	unread := lastEvent[map[string]int](t, received(t, bob), EventUnreadUpdate)
	assert.Equal(t, map[string]int{"dm:alice|bob": 1}, unread)
}

func TestMarkReadValidation(t *testing.T) {
	e := newTestEngine(t, nil)
	register(t, e, "c1", "alice")
	attach(t, e, "c2")

	assert.ErrorIs(t, e.MarkRead("c2", []string{"world"}), ErrNotRegistered)
	assert.ErrorIs(t, e.MarkRead("c1", nil), ErrNoRooms)
	assert.ErrorIs(t, e.MarkRead("c1", []string{" "}), ErrInvalidRoom)

	assert.ErrorIs(t, e.MarkRead("c1", []string{"dm:alice|bob", ""}), ErrInvalidRoom)
	assert.Zero(t, e.tracker.Watermark("alice", "dm:alice|bob"))
}

func TestWorldBroadcastReachesGuests(t *testing.T) {
	e := newTestEngine(t, nil)
	alice := register(t, e, "c1", "alice")
	guest := attach(t, e, "abcdef")
	received(t, alice)
	received(t, guest)

	m, err := e.SendWorld("abcdef", "hey all")
	require.NoError(t, err)
	assert.Equal(t, "Guest-abcd", m.From)
	assert.Equal(t, WorldRoom, m.Room)
	assert.Equal(t, "hey all", lastEvent[Message](t, received(t, alice), EventWorldMessage).Text)
	assert.Equal(t, "hey all", lastEvent[Message](t, received(t, guest), EventWorldMessage).Text)

	_, err = e.SendWorld("c1", "")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestListGroupsForGuestHidesPending(t *testing.T) {
	e := newTestEngine(t, nil)
	register(t, e, "c1", "alice")
	register(t, e, "c2", "bob")
	attach(t, e, "c3")
	_, err := e.CreateGroup("c1", "eng", true)
	require.NoError(t, err)
	require.NoError(t, e.RequestJoin("c2", "eng"))

	assert.Equal(t, []string{"bob"}, e.ListGroups("c1")[0].Pending)
	assert.Empty(t, e.ListGroups("c2")[0].Pending)
	assert.Empty(t, e.ListGroups("c3")[0].Pending)
}

// raceJoinAndDelete runs bob's join and alice's delete of "eng" concurrently.
func raceJoinAndDelete(t *testing.T, e *Engine) {
	t.Helper()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = e.JoinGroup("c2", "eng")
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, e.DeleteGroup("c1", "eng"))
	}()
	wg.Wait()
}

func TestDeleteRacingJoinLeavesNoStaleSubscriber(t *testing.T) {
	for i := 0; i < 200; i++ {
		e := newTestEngine(t, nil)
		alice := register(t, e, "c1", "alice")
		bob := register(t, e, "c2", "bob")
		_, err := e.CreateGroup("c1", "eng", false)
		require.NoError(t, err)

		raceJoinAndDelete(t, e)
		_, exists := e.Group("eng")
		require.False(t, exists)
		require.False(t, e.hub.Subscribed("c2", GroupRoomID("eng")), "iteration %d", i)

		_, err = e.CreateGroup("c1", "eng", true)
		require.NoError(t, err)
		received(t, alice)
		received(t, bob)
		_, err = e.SendGroupMessage("c1", "eng", "secret")
		require.NoError(t, err)
		require.Empty(t, eventsNamed(received(t, bob), EventGroupMessage), "iteration %d", i)
	}
}

func TestDeleteRacingJoinIsNotResurrectedByStore(t *testing.T) {
	for i := 0; i < 200; i++ {
		store := newMemStore()
		e := newTestEngine(t, store)
		stop := runEngine(t, e)
		register(t, e, "c1", "alice")
		register(t, e, "c2", "bob")
		_, err := e.CreateGroup("c1", "eng", false)
		require.NoError(t, err)

		raceJoinAndDelete(t, e)
		stop()

		records, err := store.LoadGroups(context.Background())
		require.NoError(t, err)
		require.Empty(t, records, "iteration %d", i)
	}
}

func TestSendAfterDeleteIsRejectedAndNotLogged(t *testing.T) {
	e := newTestEngine(t, nil)
	register(t, e, "c1", "alice")
	_, err := e.CreateGroup("c1", "eng", false)
	require.NoError(t, err)
	require.NoError(t, e.DeleteGroup("c1", "eng"))

	_, err = e.SendGroupMessage("c1", "eng", "late")
	assert.ErrorIs(t, err, ErrNotAMember)
	assert.Zero(t, e.UnreadCount("bob", GroupRoomID("eng")))
	assert.Empty(t, e.Inbox("alice"))
}

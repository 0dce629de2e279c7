package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultHistoryLimit caps the messages replayed on register.
const DefaultHistoryLimit = 1000

// Options configures an Engine. The zero value runs purely in memory.
type Options struct {
	Store        Store
	Logger       *slog.Logger
	StoreTimeout time.Duration
	HistoryLimit int
	QueueSize    int
	Now          func() time.Time
}

// Engine coordinates presence, groups, routing and read state for every
// connection attached to its Hub.
type Engine struct {
	registry  *Registry
	directory *Directory
	tracker   *Tracker
	world     *History
	log       *roomLog
	hub       *Hub
	persister *Persister
	store     Store

	// groupMu orders directory mutations together with the room
	// subscriptions and store writes that follow from them.
	groupMu sync.RWMutex

	logger       *slog.Logger
	storeTimeout time.Duration
	historyLimit int
	now          func() time.Time
}

func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 3 * time.Second
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		registry:     NewRegistry(),
		directory:    NewDirectory(),
		tracker:      NewTracker(),
		world:        NewHistory(WorldHistorySize),
		log:          newRoomLog(MaxRoomLog),
		hub:          NewHub(logger),
		persister:    NewPersister(opts.Store, opts.QueueSize, opts.StoreTimeout, logger),
		store:        opts.Store,
		logger:       logger,
		storeTimeout: opts.StoreTimeout,
		historyLimit: opts.HistoryLimit,
		now:          opts.Now,
	}
}

// Run drives the persistence side channel until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.persister.Run(ctx)
}

// Wait blocks until Run has drained pending writes.
func (e *Engine) Wait() {
	e.persister.Wait()
}

// Restore loads durable groups into the directory. Without a store it is a no-op.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	records, err := e.store.LoadGroups(ctx)
	if err != nil {
		return err
	}
	groups := make([]*Group, 0, len(records))
	for _, r := range records {
		groups = append(groups, groupOf(r))
	}
	e.directory.Load(groups)
	e.logger.Info("groups restored", "count", len(groups))
	return nil
}

func (e *Engine) Hub() *Hub { return e.hub }

func (e *Engine) Shutdown() { e.hub.Close() }

func (e *Engine) stamp() int64 { return e.now().UnixMilli() }

// username resolves the identity bound to connID.
func (e *Engine) username(connID string) (string, error) {
	name, ok := e.registry.LookupByConnection(connID)
	if !ok {
		return "", ErrNotRegistered
	}
	return name, nil
}

// Connect attaches a client and replays world history to it.
func (e *Engine) Connect(c *Client) {
	e.hub.Add(c)
	e.hub.Emit(c.ID, EventWorldHistory, e.world.Snapshot())
	e.logger.Info("client connected", "conn", c.ID)
}

// Disconnect detaches the client and releases its username. Group
// membership is left untouched.
func (e *Engine) Disconnect(connID string) {
	if c, ok := e.hub.Remove(connID); ok {
		c.Close()
	}
	name, ok := e.registry.Unregister(connID)
	if !ok {
		e.logger.Info("client disconnected", "conn", connID)
		return
	}
	e.persister.UpsertUser(name)
	e.broadcastUsers()
	e.broadcastGroups()
	e.logger.Info("user disconnected", "username", name, "conn", connID)
}

// RegisterResult is what a successful register returns to the caller.
type RegisterResult struct {
	Username string
	Users    []string
	Groups   []GroupView
}

// Register binds connID to username, resubscribes it to its group rooms
// and replays history and unread counts.
func (e *Engine) Register(connID, username string) (RegisterResult, error) {
	name, err := e.registry.Register(connID, username)
	if err != nil {
		return RegisterResult{}, err
	}
	e.logger.Info("user registered", "username", name, "conn", connID)
	e.persister.UpsertUser(name)
	e.broadcastUsers()

	groupRooms := make([]string, 0)
	e.groupMu.RLock()
	for _, g := range e.directory.MemberOf(name) {
		room := GroupRoomID(g)
		e.hub.Join(connID, room)
		groupRooms = append(groupRooms, room)
	}
	e.groupMu.RUnlock()
	e.restore(connID, name, groupRooms)

	return RegisterResult{
		Username: name,
		Users:    e.registry.Usernames(),
		Groups:   e.directory.List(name),
	}, nil
}

// restore pushes history:load and unread:update for a freshly registered user.
func (e *Engine) restore(connID, name string, groupRooms []string) {
	history, fromStore := e.loadHistory(name, groupRooms)
	if len(history) == 0 {
		return
	}
	e.hub.Emit(connID, EventHistoryLoad, history)
	for room := range history {
		if strings.HasPrefix(room, dmPrefix) {
			e.hub.Join(connID, room)
		}
	}
	if unread := e.unreadCounts(name, history, fromStore); len(unread) > 0 {
		e.hub.Emit(connID, EventUnreadUpdate, unread)
	}
}

// loadHistory reads DM and group history for name. It prefers the store and
// falls back to the in-memory log. The bool reports whether the store served it.
func (e *Engine) loadHistory(name string, groupRooms []string) (map[string][]Message, bool) {
	if e.store == nil {
		return e.log.visibleTo(name, groupRooms), false
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.storeTimeout)
	defer cancel()

	var (
		g     errgroup.Group
		msgs  []Message
		marks map[string]int64
	)
	g.Go(func() error {
		var err error
		msgs, err = e.store.FindMessages(ctx, MessageFilter{Rooms: groupRooms, DMParticipant: name}, e.historyLimit)
		return err
	})
	g.Go(func() error {
		var err error
		if marks, err = e.store.LastRead(ctx, name); err != nil {
			e.logger.Warn("failed to load read marks", "username", name, "error", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		e.logger.Warn("failed to load history, using memory", "username", name, "error", err)
		return e.log.visibleTo(name, groupRooms), false
	}
	e.tracker.Merge(name, marks)
	return groupByRoom(msgs), true
}

func (e *Engine) unreadCounts(name string, history map[string][]Message, fromStore bool) map[string]int {
	out := map[string]int{}
	for room, msgs := range history {
		n := -1
		if fromStore {
			ctx, cancel := context.WithTimeout(context.Background(), e.storeTimeout)
			count, err := e.store.CountMessagesSince(ctx, room, e.tracker.Watermark(name, room), name)
			cancel()
			if err != nil {
				e.logger.Warn("failed to count unread", "username", name, "room", room, "error", err)
			} else {
				n = count
			}
		}
		if n < 0 {
			n = e.tracker.UnreadCount(name, room, msgs)
		}
		if n > 0 {
			out[room] = n
		}
	}
	return out
}

// Users lists online usernames.
func (e *Engine) Users() []string {
	return e.registry.Usernames()
}

// ListGroups returns the group projection for whoever holds connID.
// Unregistered connections never see pending requests.
func (e *Engine) ListGroups(connID string) []GroupView {
	name, _ := e.registry.LookupByConnection(connID)
	return e.directory.List(name)
}

// GroupsFor returns the group projection as username would see it.
func (e *Engine) GroupsFor(username string) []GroupView {
	return e.directory.List(username)
}

// Group returns a copy of the named group.
func (e *Engine) Group(name string) (*Group, bool) {
	return e.directory.Get(name)
}

// WorldHistory returns the buffered world messages, oldest first.
func (e *Engine) WorldHistory() []Message {
	return e.world.Snapshot()
}

func (e *Engine) broadcastUsers() {
	e.hub.Broadcast(EventUsersUpdate, e.registry.Usernames())
}

// broadcastGroups sends each registered user its own projection.
func (e *Engine) broadcastGroups() {
	for _, user := range e.registry.Usernames() {
		if connID, ok := e.registry.Lookup(user); ok {
			e.hub.Emit(connID, EventGroupsUpdate, e.directory.List(user))
		}
	}
}

// CreateGroup creates a group owned by the caller and subscribes it to the room.
func (e *Engine) CreateGroup(connID, name string, private bool) (GroupView, error) {
	user, err := e.username(connID)
	if err != nil {
		return GroupView{}, err
	}
	e.groupMu.Lock()
	g, err := e.directory.Create(name, user, private)
	if err != nil {
		e.groupMu.Unlock()
		return GroupView{}, err
	}
	e.hub.Join(connID, GroupRoomID(g.Name))
	e.persister.SaveGroup(recordOf(g))
	e.groupMu.Unlock()

	e.broadcastGroups()
	e.logger.Info("group created", "group", g.Name, "owner", user, "private", private)
	return g.ViewFor(user), nil
}

// JoinGroup adds the caller to a public group.
func (e *Engine) JoinGroup(connID, name string) (GroupView, error) {
	user, err := e.username(connID)
	if err != nil {
		return GroupView{}, err
	}
	e.groupMu.Lock()
	g, err := e.directory.JoinPublic(strings.TrimSpace(name), user)
	if err != nil {
		e.groupMu.Unlock()
		return GroupView{}, err
	}
	e.hub.Join(connID, GroupRoomID(g.Name))
	e.persister.SaveGroup(recordOf(g))
	e.groupMu.Unlock()

	e.broadcastGroups()
	return g.ViewFor(user), nil
}

// RequestJoin files a join request on a private group and notifies its owner.
func (e *Engine) RequestJoin(connID, name string) error {
	user, err := e.username(connID)
	if err != nil {
		return err
	}
	e.groupMu.Lock()
	g, err := e.directory.RequestJoin(strings.TrimSpace(name), user)
	if err != nil {
		e.groupMu.Unlock()
		return err
	}
	e.persister.SaveGroup(recordOf(g))
	e.groupMu.Unlock()

	if ownerConn, ok := e.registry.Lookup(g.Owner); ok {
		e.hub.Emit(ownerConn, EventJoinRequest, JoinRequest{GroupName: g.Name, Requester: user})
	}
	e.broadcastGroups()
	return nil
}

// Approve accepts target's pending request. Only the owner may approve.
func (e *Engine) Approve(connID, groupName, target string) error {
	user, err := e.username(connID)
	if err != nil {
		return err
	}
	e.groupMu.Lock()
	g, err := e.directory.Approve(strings.TrimSpace(groupName), user, strings.TrimSpace(target))
	if err != nil {
		e.groupMu.Unlock()
		return err
	}
	targetConn, online := e.registry.Lookup(strings.TrimSpace(target))
	if online {
		e.hub.Join(targetConn, GroupRoomID(g.Name))
	}
	e.persister.SaveGroup(recordOf(g))
	e.groupMu.Unlock()

	e.broadcastGroups()
	if online {
		e.hub.Emit(targetConn, EventGroupApproved, GroupDecision{GroupName: g.Name})
	}
	return nil
}

// Reject drops target's pending request. Only the owner may reject.
func (e *Engine) Reject(connID, groupName, target string) error {
	user, err := e.username(connID)
	if err != nil {
		return err
	}
	e.groupMu.Lock()
	g, err := e.directory.Reject(strings.TrimSpace(groupName), user, strings.TrimSpace(target))
	if err != nil {
		e.groupMu.Unlock()
		return err
	}
	e.persister.SaveGroup(recordOf(g))
	e.groupMu.Unlock()

	if targetConn, ok := e.registry.Lookup(strings.TrimSpace(target)); ok {
		e.hub.Emit(targetConn, EventGroupRejected, GroupDecision{GroupName: g.Name})
	}
	e.broadcastGroups()
	return nil
}

// DeleteGroup removes a group entirely and evicts every member from its room.
func (e *Engine) DeleteGroup(connID, name string) error {
	user, err := e.username(connID)
	if err != nil {
		return err
	}
	n, err := NormalizeGroupName(name)
	if err != nil {
		return err
	}
	e.groupMu.Lock()
	g, err := e.directory.Delete(n, user)
	if err != nil {
		e.groupMu.Unlock()
		return err
	}
	room := GroupRoomID(g.Name)
	e.hub.CloseRoom(room)
	e.log.drop(room)
	e.persister.DeleteGroup(g.Name)
	e.groupMu.Unlock()

	e.broadcastGroups()
	e.logger.Info("group deleted", "group", g.Name, "by", user)
	return nil
}

// MarkRead moves the caller's watermark for each room to now. Nothing is
// applied unless every room is valid.
func (e *Engine) MarkRead(connID string, rooms []string) error {
	user, err := e.username(connID)
	if err != nil {
		return err
	}
	if len(rooms) == 0 {
		return ErrNoRooms
	}
	cleaned := make([]string, 0, len(rooms))
	for _, r := range rooms {
		room := strings.TrimSpace(r)
		if room == "" {
			return ErrInvalidRoom
		}
		cleaned = append(cleaned, room)
	}
	at := e.stamp()
	for _, room := range cleaned {
		if _, moved := e.tracker.MarkRead(user, room, at); moved {
			e.persister.SetLastRead(user, room, at)
		}
	}
	return nil
}

// UnreadCount counts in-memory messages in room newer than username's watermark.
func (e *Engine) UnreadCount(username, room string) int {
	e.log.mu.RLock()
	msgs := e.log.rooms[room]
	e.log.mu.RUnlock()
	return e.tracker.UnreadCount(username, room, msgs)
}

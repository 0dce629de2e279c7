package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrStoreNotFound is returned by stores when a record does not exist.
var ErrStoreNotFound = errors.New("record not found")

// MessageFilter selects history. A message matches when its room is listed
// in Rooms, or when DMParticipant is set and the message is in a DM room
// that user takes part in.
type MessageFilter struct {
	Rooms         []string
	DMParticipant string
}

// Matches applies the filter to a single message.
func (f MessageFilter) Matches(m Message) bool {
	if f.DMParticipant != "" && m.Type == MessageDM && isDMParticipant(m.Room, f.DMParticipant) {
		return true
	}
	for _, r := range f.Rooms {
		if m.Room == r {
			return true
		}
	}
	return false
}

// GroupRecord is the durable form of a group.
type GroupRecord struct {
	Name    string
	Owner   string
	Private bool
	Members []string
	Pending []string
}

func recordOf(g *Group) GroupRecord {
	return GroupRecord{
		Name:    g.Name,
		Owner:   g.Owner,
		Private: g.Private,
		Members: g.MemberList(),
		Pending: g.PendingList(),
	}
}

func groupOf(r GroupRecord) *Group {
	g := &Group{
		Name:    r.Name,
		Owner:   r.Owner,
		Private: r.Private,
		Members: make(map[string]struct{}, len(r.Members)),
		Pending: make(map[string]struct{}, len(r.Pending)),
	}
	for _, m := range r.Members {
		g.Members[m] = struct{}{}
	}
	for _, p := range r.Pending {
		g.Pending[p] = struct{}{}
	}
	return g
}

// Store is the durable collaborator. Every call is best effort: the engine
// keeps working in memory when a call fails or no store is configured.
//
// FindMessages returns at most limit of the newest matching messages,
// ordered oldest first.
type Store interface {
	UpsertUser(ctx context.Context, username string) error
	SetLastRead(ctx context.Context, username, room string, at int64) error
	LastRead(ctx context.Context, username string) (map[string]int64, error)
	SaveMessage(ctx context.Context, m Message) error
	FindMessages(ctx context.Context, filter MessageFilter, limit int) ([]Message, error)
	CountMessagesSince(ctx context.Context, room string, since int64, excludeSender string) (int, error)
	SaveGroup(ctx context.Context, g GroupRecord) error
	DeleteGroup(ctx context.Context, name string) error
	LoadGroups(ctx context.Context) ([]GroupRecord, error)
}

type persistOp struct {
	name string
	fn   func(ctx context.Context, s Store) error
}

// Persister is the write side channel to the Store. Writes are queued and
// applied in arrival order by one goroutine; a full queue drops the write.
// Failures are logged and never reach the caller.
type Persister struct {
	store   Store
	ops     chan persistOp
	timeout time.Duration
	logger  *slog.Logger
	done    chan struct{}
}

func NewPersister(store Store, queue int, timeout time.Duration, logger *slog.Logger) *Persister {
	if queue <= 0 {
		queue = 1024
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		store:   store,
		ops:     make(chan persistOp, queue),
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Enabled reports whether a store is attached.
func (p *Persister) Enabled() bool {
	return p != nil && p.store != nil
}

// Run applies queued writes until ctx is cancelled, then drains what is left.
func (p *Persister) Run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case op := <-p.ops:
					p.apply(op)
				default:
					return
				}
			}
		case op := <-p.ops:
			p.apply(op)
		}
	}
}

// Wait blocks until Run has returned.
func (p *Persister) Wait() {
	<-p.done
}

func (p *Persister) apply(op persistOp) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := op.fn(ctx, p.store); err != nil {
		p.logger.Warn("persistence failed", "op", op.name, "error", err)
	}
}

func (p *Persister) enqueue(name string, fn func(ctx context.Context, s Store) error) {
	if !p.Enabled() {
		return
	}
	select {
	case p.ops <- persistOp{name: name, fn: fn}:
	default:
		p.logger.Warn("persistence queue full, dropping write", "op", name)
	}
}

func (p *Persister) UpsertUser(username string) {
	p.enqueue("upsert_user", func(ctx context.Context, s Store) error {
		return s.UpsertUser(ctx, username)
	})
}

func (p *Persister) SetLastRead(username, room string, at int64) {
	p.enqueue("set_last_read", func(ctx context.Context, s Store) error {
		return s.SetLastRead(ctx, username, room, at)
	})
}

func (p *Persister) SaveMessage(m Message) {
	p.enqueue("save_message", func(ctx context.Context, s Store) error {
		return s.SaveMessage(ctx, m)
	})
}

func (p *Persister) SaveGroup(g GroupRecord) {
	p.enqueue("save_group", func(ctx context.Context, s Store) error {
		return s.SaveGroup(ctx, g)
	})
}

func (p *Persister) DeleteGroup(name string) {
	p.enqueue("delete_group", func(ctx context.Context, s Store) error {
		return s.DeleteGroup(ctx, name)
	})
}

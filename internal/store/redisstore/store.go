// Package redisstore persists chat state in Redis.
//
// Layout, relative to the configured prefix:
//
//	users              hash  username -> last seen (unix ms)
//	room:<room>        zset  message JSON scored by timestamp
//	dmrooms:<user>     set   DM rooms the user takes part in
//	reads:<user>       hash  room -> read watermark (unix ms)
//	groups             hash  group name -> group JSON
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/pelusa-v/pelusa-chat/internal/chat"
)

var _ chat.Store = (*Store)(nil)

// DefaultRoomLimit bounds how many messages are kept per room.
const DefaultRoomLimit = 10000

// setMaxScript writes ARGV[2] into field ARGV[1] of hash KEYS[1] only when
// it is larger than the stored value.
var setMaxScript = redis.NewScript(`
	local cur = redis.call('HGET', KEYS[1], ARGV[1])
	local at = tonumber(ARGV[2])
	if cur and tonumber(cur) >= at then
		return 0
	end
	redis.call('HSET', KEYS[1], ARGV[1], at)
	return 1
`)

// Store implements chat.Store on a Redis client.
type Store struct {
	client    *redis.Client
	prefix    string
	roomLimit int64
}

func New(client *redis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix, roomLimit: DefaultRoomLimit}
}

// Open connects to addr and verifies the server answers.
func Open(ctx context.Context, addr, prefix string) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return New(client, prefix), nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) usersKey() string              { return s.prefix + "users" }
func (s *Store) roomKey(room string) string    { return s.prefix + "room:" + room }
func (s *Store) dmRoomsKey(user string) string { return s.prefix + "dmrooms:" + user }
func (s *Store) readsKey(user string) string   { return s.prefix + "reads:" + user }
func (s *Store) groupsKey() string             { return s.prefix + "groups" }

func (s *Store) UpsertUser(ctx context.Context, username string) error {
	if err := s.client.HSet(ctx, s.usersKey(), username, time.Now().UnixMilli()).Err(); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// SetLastRead stores at as the watermark unless a later one is already stored.
func (s *Store) SetLastRead(ctx context.Context, username, room string, at int64) error {
	if err := setMaxScript.Run(ctx, s.client, []string{s.readsKey(username)}, room, at).Err(); err != nil {
		return fmt.Errorf("failed to set last read: %w", err)
	}
	return nil
}

func (s *Store) LastRead(ctx context.Context, username string) (map[string]int64, error) {
	raw, err := s.client.HGetAll(ctx, s.readsKey(username)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load read marks: %w", err)
	}
	out := make(map[string]int64, len(raw))
	for room, v := range raw {
		at, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid read mark for %s: %w", room, err)
		}
		out[room] = at
	}
	return out, nil
}

func (s *Store) SaveMessage(ctx context.Context, m chat.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	key := s.roomKey(m.Room)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(m.Timestamp), Member: data})
		pipe.ZRemRangeByRank(ctx, key, 0, -s.roomLimit-1)
		if a, b, ok := chat.ParseDMRoom(m.Room); ok {
			pipe.SAdd(ctx, s.dmRoomsKey(a), m.Room)
			pipe.SAdd(ctx, s.dmRoomsKey(b), m.Room)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// FindMessages reads the newest limit messages of every matching room
// concurrently, then keeps the newest limit overall, oldest first.
func (s *Store) FindMessages(ctx context.Context, filter chat.MessageFilter, limit int) ([]chat.Message, error) {
	rooms := append([]string(nil), filter.Rooms...)
	if filter.DMParticipant != "" {
		dms, err := s.client.SMembers(ctx, s.dmRoomsKey(filter.DMParticipant)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list dm rooms: %w", err)
		}
		rooms = append(rooms, dms...)
	}
	if len(rooms) == 0 || limit <= 0 {
		return nil, nil
	}

	var (
		mu  sync.Mutex
		out []chat.Message
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, room := range rooms {
		room := room
		g.Go(func() error {
			raw, err := s.client.ZRevRange(gctx, s.roomKey(room), 0, int64(limit-1)).Result()
			if err != nil {
				return fmt.Errorf("failed to read room %s: %w", room, err)
			}
			msgs, err := decodeMessages(raw)
			if err != nil {
				return err
			}
			mu.Lock()
			out = append(out, msgs...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) CountMessagesSince(ctx context.Context, room string, since int64, excludeSender string) (int, error) {
	raw, err := s.client.ZRangeByScore(ctx, s.roomKey(room), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(since, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	msgs, err := decodeMessages(raw)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range msgs {
		if m.From != excludeSender {
			n++
		}
	}
	return n, nil
}

func (s *Store) SaveGroup(ctx context.Context, g chat.GroupRecord) error {
	data, err := json.Marshal(groupJSON(g))
	if err != nil {
		return fmt.Errorf("failed to encode group: %w", err)
	}
	if err := s.client.HSet(ctx, s.groupsKey(), g.Name, data).Err(); err != nil {
		return fmt.Errorf("failed to save group: %w", err)
	}
	return nil
}

func (s *Store) DeleteGroup(ctx context.Context, name string) error {
	n, err := s.client.HDel(ctx, s.groupsKey(), name).Result()
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	if n == 0 {
		return chat.ErrStoreNotFound
	}
	return nil
}

func (s *Store) LoadGroups(ctx context.Context) ([]chat.GroupRecord, error) {
	raw, err := s.client.HGetAll(ctx, s.groupsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load groups: %w", err)
	}
	out := make([]chat.GroupRecord, 0, len(raw))
	for name, v := range raw {
		var g group
		if err := json.Unmarshal([]byte(v), &g); err != nil {
			return nil, fmt.Errorf("invalid group %s: %w", name, err)
		}
		out = append(out, g.record())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type group struct {
	Name    string   `json:"name"`
	Owner   string   `json:"owner"`
	Private bool     `json:"private"`
	Members []string `json:"members"`
	Pending []string `json:"pending"`
}

func groupJSON(r chat.GroupRecord) group {
	return group{Name: r.Name, Owner: r.Owner, Private: r.Private, Members: r.Members, Pending: r.Pending}
}

func (g group) record() chat.GroupRecord {
	members, pending := g.Members, g.Pending
	if members == nil {
		members = []string{}
	}
	if pending == nil {
		pending = []string{}
	}
	return chat.GroupRecord{Name: g.Name, Owner: g.Owner, Private: g.Private, Members: members, Pending: pending}
}

func decodeMessages(raw []string) ([]chat.Message, error) {
	out := make([]chat.Message, 0, len(raw))
	for _, v := range raw {
		var m chat.Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("invalid message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

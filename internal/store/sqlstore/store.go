// Package sqlstore persists chat state in SQLite through gorm.
package sqlstore

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/pelusa-v/pelusa-chat/internal/chat"
)

var _ chat.Store = (*Store)(nil)

// Store implements chat.Store on a gorm database.
type Store struct {
	db *gorm.DB
}

// New wraps an open database. Call Migrate before first use.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open opens (or creates) the SQLite database at path and migrates it.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:" shared.
	sqlDB.SetMaxOpenConns(1)

	s := New(db)
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Migrate creates or updates the schema.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&User{}, &Message{}, &ReadMark{}, &Group{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) UpsertUser(ctx context.Context, username string) error {
	user := User{Username: username, LastSeen: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seen"}),
	}).Create(&user).Error
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// SetLastRead stores at as the watermark unless a later one is already stored.
func (s *Store) SetLastRead(ctx context.Context, username, room string, at int64) error {
	mark := ReadMark{Username: username, Room: room, ReadAt: at}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "username"}, {Name: "room"}},
		DoUpdates: clause.Assignments(map[string]any{
			"read_at": gorm.Expr("MAX(read_marks.read_at, excluded.read_at)"),
		}),
	}).Create(&mark).Error
	if err != nil {
		return fmt.Errorf("failed to set last read: %w", err)
	}
	return nil
}

func (s *Store) LastRead(ctx context.Context, username string) (map[string]int64, error) {
	var marks []ReadMark
	if err := s.db.WithContext(ctx).Where("username = ?", username).Find(&marks).Error; err != nil {
		return nil, fmt.Errorf("failed to load read marks: %w", err)
	}
	out := make(map[string]int64, len(marks))
	for _, m := range marks {
		out[m.Room] = m.ReadAt
	}
	return out, nil
}

func (s *Store) SaveMessage(ctx context.Context, m chat.Message) error {
	row := messageOf(m)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// FindMessages returns the newest limit messages matching filter, oldest first.
func (s *Store) FindMessages(ctx context.Context, filter chat.MessageFilter, limit int) ([]chat.Message, error) {
	var (
		conds []string
		args  []any
	)
	if len(filter.Rooms) > 0 {
		conds = append(conds, "room IN ?")
		args = append(args, filter.Rooms)
	}
	if p := filter.DMParticipant; p != "" {
		name := likeEscaper.Replace(p)
		conds = append(conds, `(type = ? AND (room LIKE ? ESCAPE '\' OR room LIKE ? ESCAPE '\'))`)
		args = append(args, string(chat.MessageDM), "dm:"+name+"|%", "dm:%|"+name)
	}
	if len(conds) == 0 {
		return nil, nil
	}

	var rows []Message
	err := s.db.WithContext(ctx).
		Where(strings.Join(conds, " OR "), args...).
		Order("timestamp DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find messages: %w", err)
	}
	slices.Reverse(rows)

	out := make([]chat.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toChat())
	}
	return out, nil
}

func (s *Store) CountMessagesSince(ctx context.Context, room string, since int64, excludeSender string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Message{}).
		Where("room = ? AND timestamp > ? AND sender <> ?", room, since, excludeSender).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return int(n), nil
}

func (s *Store) SaveGroup(ctx context.Context, g chat.GroupRecord) error {
	row := groupOf(g)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"owner", "private", "members", "pending", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save group: %w", err)
	}
	return nil
}

func (s *Store) DeleteGroup(ctx context.Context, name string) error {
	result := s.db.WithContext(ctx).Delete(&Group{}, "name = ?", name)
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	if result.RowsAffected == 0 {
		return chat.ErrStoreNotFound
	}
	return nil
}

func (s *Store) LoadGroups(ctx context.Context) ([]chat.GroupRecord, error) {
	var rows []Group
	if err := s.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load groups: %w", err)
	}
	out := make([]chat.GroupRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRecord())
	}
	return out, nil
}


package sqlstore

import (
	"time"

	"github.com/pelusa-v/pelusa-chat/internal/chat"
)

// User is a username that has registered at least once.
type User struct {
	Username  string `gorm:"primarykey;size:50"`
	CreatedAt time.Time
	LastSeen  time.Time `gorm:"index"`
}

func (User) TableName() string {
	return "users"
}

// Message is a persisted DM, group or world message.
type Message struct {
	ID        string `gorm:"primarykey;size:36"`
	Type      string `gorm:"size:10;not null;index"`
	Room      string `gorm:"size:210;not null;index:idx_messages_room_ts,priority:1"`
	Sender    string `gorm:"size:50;not null"`
	Text      string `gorm:"size:5000;not null"`
	Timestamp int64  `gorm:"not null;index:idx_messages_room_ts,priority:2"`
	GroupName string `gorm:"size:100"`
}

func (Message) TableName() string {
	return "messages"
}

// ReadMark is a user's read watermark for one room.
type ReadMark struct {
	Username string `gorm:"primarykey;size:50"`
	Room     string `gorm:"primarykey;size:210"`
	ReadAt   int64  `gorm:"not null"`
}

func (ReadMark) TableName() string {
	return "read_marks"
}

// Group is a chat group with its member and pending sets stored as JSON.
type Group struct {
	Name      string   `gorm:"primarykey;size:100"`
	Owner     string   `gorm:"size:50;not null"`
	Private   bool     `gorm:"not null;default:false"`
	Members   []string `gorm:"serializer:json"`
	Pending   []string `gorm:"serializer:json"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Group) TableName() string {
	return "chat_groups"
}

func messageOf(m chat.Message) Message {
	return Message{
		ID:        m.ID,
		Type:      string(m.Type),
		Room:      m.Room,
		Sender:    m.From,
		Text:      m.Text,
		Timestamp: m.Timestamp,
		GroupName: m.GroupName,
	}
}

func (m Message) toChat() chat.Message {
	return chat.Message{
		ID:        m.ID,
		Type:      chat.MessageType(m.Type),
		Room:      m.Room,
		From:      m.Sender,
		Text:      m.Text,
		Timestamp: m.Timestamp,
		GroupName: m.GroupName,
	}
}

func groupOf(r chat.GroupRecord) Group {
	return Group{
		Name:    r.Name,
		Owner:   r.Owner,
		Private: r.Private,
		Members: nonNil(r.Members),
		Pending: nonNil(r.Pending),
	}
}

func (g Group) toRecord() chat.GroupRecord {
	return chat.GroupRecord{
		Name:    g.Name,
		Owner:   g.Owner,
		Private: g.Private,
		Members: nonNil(g.Members),
		Pending: nonNil(g.Pending),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

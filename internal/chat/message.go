package chat

import "encoding/json"

// MessageType tags where a message was sent.
type MessageType string

const (
	MessageDM    MessageType = "dm"
	MessageGroup MessageType = "group"
	MessageWorld MessageType = "world"
)

// Message is immutable once built. Timestamp is unix milliseconds.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Room      string      `json:"room"`
	From      string      `json:"from"`
	Text      string      `json:"text"`
	Timestamp int64       `json:"timestamp"`
	GroupName string      `json:"groupName,omitempty"`
}

// GroupView is the projection of a group sent to one viewer.
// Pending is empty unless the viewer owns the group.
type GroupView struct {
	Name    string   `json:"name"`
	Owner   string   `json:"owner"`
	Members []string `json:"members"`
	Private bool     `json:"private"`
	Pending []string `json:"pending"`
}

// Server push event names.
const (
	EventUsersUpdate   = "users:update"
	EventGroupsUpdate  = "groups:update"
	EventDMReady       = "dm:ready"
	EventDMMessage     = "dm:message"
	EventGroupMessage  = "group:message"
	EventWorldMessage  = "world:message"
	EventWorldHistory  = "world:history"
	EventHistoryLoad   = "history:load"
	EventUnreadUpdate  = "unread:update"
	EventJoinRequest   = "groups:join:request"
	EventGroupApproved = "groups:approved"
	EventGroupRejected = "groups:rejected"
	EventAck           = "ack"
)

// Frame is the envelope for everything written to a connection.
type Frame struct {
	Event string `json:"event"`
	ID    *int64 `json:"id,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Request is one inbound client frame. Data is decoded per event in Dispatch.
type Request struct {
	ID    *int64          `json:"id,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Ack answers a Request within the same round trip.
type Ack struct {
	OK      bool        `json:"ok"`
	Error   string      `json:"error,omitempty"`
	Users   []string    `json:"users,omitempty"`
	Groups  []GroupView `json:"groups,omitempty"`
	Group   *GroupView  `json:"group,omitempty"`
	Room    string      `json:"room,omitempty"`
	Pending bool        `json:"pending,omitempty"`
}

// MarshalJSON writes Users and Groups whenever they are non-nil, so list
// results encode an empty list as [] rather than dropping the field.
func (a Ack) MarshalJSON() ([]byte, error) {
	type plain Ack
	out := struct {
		plain
		Users  *[]string    `json:"users,omitempty"`
		Groups *[]GroupView `json:"groups,omitempty"`
	}{plain: plain(a)}
	if a.Users != nil {
		out.Users = &a.Users
	}
	if a.Groups != nil {
		out.Groups = &a.Groups
	}
	return json.Marshal(out)
}

// DMReady is pushed to both sides once a DM room is subscribed.
type DMReady struct {
	Room string   `json:"room"`
	Type string   `json:"type"`
	With []string `json:"with"`
}

// JoinRequest is pushed to a private group's owner.
type JoinRequest struct {
	GroupName string `json:"groupName"`
	Requester string `json:"requester"`
}

// GroupDecision is pushed to a requester after approve or reject.
type GroupDecision struct {
	GroupName string `json:"groupName"`
}

package chat

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxMessageLength bounds message text in runes.
const MaxMessageLength = 5000

func normalizeText(text string) (string, error) {
	t := strings.TrimSpace(text)
	if t == "" {
		return "", ErrEmptyText
	}
	if utf8.RuneCountInString(t) > MaxMessageLength {
		return "", ErrTextTooLong
	}
	return t, nil
}

func guestTag(connID string) string {
	tag := connID
	if len(tag) > 4 {
		tag = tag[:4]
	}
	return "Guest-" + tag
}

func (e *Engine) newMessage(kind MessageType, room, from, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Type:      kind,
		Room:      room,
		From:      from,
		Text:      text,
		Timestamp: e.stamp(),
	}
}

// route records m in memory, fans it out to the room and queues it for the store.
func (e *Engine) route(event string, m Message) {
	e.log.append(m)
	e.hub.Publish(m.Room, event, m)
	e.persister.SaveMessage(m)
}

// StartDM subscribes the caller and the target to their shared room and
// tells both it is ready. The target must be online.
func (e *Engine) StartDM(connID, target string) (DMReady, error) {
	from, err := e.username(connID)
	if err != nil {
		return DMReady{}, err
	}
	to := strings.TrimSpace(target)
	if to == "" || to == from {
		return DMReady{}, ErrInvalidTarget
	}
	targetConn, ok := e.registry.Lookup(to)
	if !ok {
		return DMReady{}, ErrTargetOffline
	}
	room := DMRoomID(from, to)
	e.hub.Join(connID, room)
	e.hub.Join(targetConn, room)

	a, b, _ := ParseDMRoom(room)
	ready := DMReady{Room: room, Type: string(MessageDM), With: []string{a, b}}
	e.hub.Emit(connID, EventDMReady, ready)
	e.hub.Emit(targetConn, EventDMReady, ready)
	return ready, nil
}

// SendDM publishes text to an established DM room. The caller must be one
// of the room's two participants.
func (e *Engine) SendDM(connID, room, text string) (Message, error) {
	from, err := e.username(connID)
	if err != nil {
		return Message{}, err
	}
	r := strings.TrimSpace(room)
	if !isDMParticipant(r, from) {
		return Message{}, ErrInvalidRoom
	}
	t, err := normalizeText(text)
	if err != nil {
		return Message{}, err
	}
	e.hub.Join(connID, r)
	m := e.newMessage(MessageDM, r, from, t)
	e.route(EventDMMessage, m)
	return m, nil
}

// SendGroupMessage publishes text to a group the caller belongs to.
func (e *Engine) SendGroupMessage(connID, groupName, text string) (Message, error) {
	from, err := e.username(connID)
	if err != nil {
		return Message{}, err
	}
	name := strings.TrimSpace(groupName)
	if name == "" {
		return Message{}, ErrGroupNameRequired
	}
	t, err := normalizeText(text)
	if err != nil {
		return Message{}, err
	}
	e.groupMu.RLock()
	defer e.groupMu.RUnlock()
	if !e.directory.IsMember(name, from) {
		return Message{}, ErrNotAMember
	}
	m := e.newMessage(MessageGroup, GroupRoomID(name), from, t)
	m.GroupName = name
	e.route(EventGroupMessage, m)
	return m, nil
}

// SendWorld broadcasts text to every connection. Unregistered senders are
// labelled with a guest tag.
func (e *Engine) SendWorld(connID, text string) (Message, error) {
	t, err := normalizeText(text)
	if err != nil {
		return Message{}, err
	}
	from, ok := e.registry.LookupByConnection(connID)
	if !ok {
		from = guestTag(connID)
	}
	m := e.newMessage(MessageWorld, WorldRoom, from, t)
	e.world.Append(m)
	e.hub.Broadcast(EventWorldMessage, m)
	e.persister.SaveMessage(m)
	return m, nil
}

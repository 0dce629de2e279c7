package chat

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client request event names.
const (
	ReqRegister      = "register"
	ReqGroupsList    = "groups:list"
	ReqGroupsCreate  = "groups:create"
	ReqGroupsJoin    = "groups:join"
	ReqGroupsRequest = "groups:requestJoin"
	ReqGroupsApprove = "groups:approve"
	ReqGroupsReject  = "groups:reject"
	ReqGroupsDelete  = "groups:delete"
	ReqGroupMessage  = "group:message"
	ReqDMStart       = "dm:start"
	ReqDMMessage     = "dm:message"
	ReqWorldMessage  = "world:message"
	ReqRoomsRead     = "rooms:read"
	ReqUsersList     = "users:list"
)

type createGroupPayload struct {
	Name    string `json:"name"`
	Private bool   `json:"private"`
}

type groupDecisionPayload struct {
	GroupName string `json:"groupName"`
	Username  string `json:"username"`
}

type groupMessagePayload struct {
	GroupName string `json:"groupName"`
	Text      string `json:"text"`
}

type dmMessagePayload struct {
	Room string `json:"room"`
	Text string `json:"text"`
}

type worldMessagePayload struct {
	Text string `json:"text"`
}

// roomList accepts either a single room id or a list of them.
type roomList []string

func (r *roomList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*r = roomList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*r = many
	return nil
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, ErrInvalidPayload
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, ErrInvalidPayload
	}
	return v, nil
}

func success() Ack { return Ack{OK: true} }

func failure(err error) Ack {
	var e *Error
	if errors.As(err, &e) {
		return Ack{OK: false, Error: e.Msg}
	}
	return Ack{OK: false, Error: "Internal error"}
}

// Dispatch validates and runs one request for connID and always returns an ack.
func (e *Engine) Dispatch(connID string, req Request) (ack Ack) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("request panicked", "conn", connID, "event", req.Event, "panic", fmt.Sprint(r))
			ack = failure(nil)
		}
	}()
	ack, err := e.dispatch(connID, req)
	if err != nil {
		if KindOf(err) == KindInternal {
			e.logger.Error("request failed", "conn", connID, "event", req.Event, "error", err)
		}
		return failure(err)
	}
	return ack
}

func (e *Engine) dispatch(connID string, req Request) (Ack, error) {
	switch req.Event {
	case ReqRegister:
		name, err := decode[string](req.Data)
		if err != nil {
			return Ack{}, ErrInvalidName
		}
		res, err := e.Register(connID, name)
		if err != nil {
			return Ack{}, err
		}
		return Ack{OK: true, Users: res.Users, Groups: res.Groups}, nil

	case ReqUsersList:
		return Ack{OK: true, Users: e.Users()}, nil

	case ReqGroupsList:
		return Ack{OK: true, Groups: e.ListGroups(connID)}, nil

	case ReqGroupsCreate:
		p, err := decode[createGroupPayload](req.Data)
		if err != nil {
			return Ack{}, err
		}
		g, err := e.CreateGroup(connID, p.Name, p.Private)
		if err != nil {
			return Ack{}, err
		}
		return Ack{OK: true, Group: &g}, nil

	case ReqGroupsJoin:
		name, err := decode[string](req.Data)
		if err != nil {
			return Ack{}, err
		}
		g, err := e.JoinGroup(connID, name)
		if err != nil {
			return Ack{}, err
		}
		return Ack{OK: true, Group: &g}, nil

	case ReqGroupsRequest:
		name, err := decode[string](req.Data)
		if err != nil {
			return Ack{}, err
		}
		if err := e.RequestJoin(connID, name); err != nil {
			return Ack{}, err
		}
		return Ack{OK: true, Pending: true}, nil

	case ReqGroupsApprove, ReqGroupsReject:
		p, err := decode[groupDecisionPayload](req.Data)
		if err != nil {
			return Ack{}, err
		}
		if req.Event == ReqGroupsApprove {
			err = e.Approve(connID, p.GroupName, p.Username)
		} else {
			err = e.Reject(connID, p.GroupName, p.Username)
		}
		if err != nil {
			return Ack{}, err
		}
		return success(), nil

	case ReqGroupsDelete:
		name, err := decode[string](req.Data)
		if err != nil {
			return Ack{}, err
		}
		if err := e.DeleteGroup(connID, name); err != nil {
			return Ack{}, err
		}
		return success(), nil

	case ReqGroupMessage:
		p, err := decode[groupMessagePayload](req.Data)
		if err != nil {
			return Ack{}, err
		}
		if _, err := e.SendGroupMessage(connID, p.GroupName, p.Text); err != nil {
			return Ack{}, err
		}
		return success(), nil

	case ReqDMStart:
		target, err := decode[string](req.Data)
		if err != nil {
			return Ack{}, ErrInvalidTarget
		}
		ready, err := e.StartDM(connID, target)
		if err != nil {
			return Ack{}, err
		}
		return Ack{OK: true, Room: ready.Room}, nil

	case ReqDMMessage:
		p, err := decode[dmMessagePayload](req.Data)
		if err != nil {
			return Ack{}, err
		}
		if _, err := e.SendDM(connID, p.Room, p.Text); err != nil {
			return Ack{}, err
		}
		return success(), nil

	case ReqWorldMessage:
		p, err := decode[worldMessagePayload](req.Data)
		if err != nil {
			return Ack{}, err
		}
		if _, err := e.SendWorld(connID, p.Text); err != nil {
			return Ack{}, err
		}
		return success(), nil

	case ReqRoomsRead:
		rooms, err := decode[roomList](req.Data)
		if err != nil {
			return Ack{}, ErrNoRooms
		}
		if err := e.MarkRead(connID, rooms); err != nil {
			return Ack{}, err
		}
		return success(), nil
	}
	return Ack{}, ErrUnknownEvent
}

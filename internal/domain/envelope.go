package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound message types (client -> server).
const (
	TypeJoinRoom  = "join-room"
	TypeLeaveRoom = "leave-room"
	TypeSignal    = "signal"
)

// Outbound message types (server -> client).
const (
	TypeUserList = "user-list"
	TypeError    = "error"
)

type Inbound struct {
	Type         string          `json:"type"`
	RoomID       string          `json:"roomId,omitempty"`
	UserID       string          `json:"userId,omitempty"`
	TargetUserID string          `json:"targetUserId,omitempty"`
	Signal       json.RawMessage `json:"signal,omitempty"`
}

type RosterEntry struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
}

type Outbound struct {
	Type       string
	RoomID     string
	Users      []RosterEntry
	FromUserID string
	Signal     json.RawMessage
	Error      string
}

// outboundHead is everything but the signal payload.
type outboundHead struct {
	Type       string         `json:"type"`
	RoomID     string         `json:"roomId,omitempty"`
	Users      *[]RosterEntry `json:"users,omitempty"`
	FromUserID string         `json:"fromUserId,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// DecodeInbound parses one client frame and checks the fields its type needs.
func DecodeInbound(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	in.RoomID = strings.TrimSpace(in.RoomID)
	in.UserID = strings.TrimSpace(in.UserID)
	in.TargetUserID = strings.TrimSpace(in.TargetUserID)

	switch in.Type {
	case TypeJoinRoom:
		if in.RoomID == "" {
			return in, fmt.Errorf("%w: join-room requires roomId", ErrMalformedEnvelope)
		}
		if in.UserID == "" {
			return in, fmt.Errorf("%w: join-room requires userId", ErrMalformedEnvelope)
		}
	case TypeLeaveRoom:
	case TypeSignal:
		if in.TargetUserID == "" {
			return in, fmt.Errorf("%w: signal requires targetUserId", ErrMalformedEnvelope)
		}
		if len(in.Signal) == 0 || bytes.Equal(in.Signal, []byte("null")) {
			return in, fmt.Errorf("%w: signal requires a payload", ErrMalformedEnvelope)
		}
	case "":
		return in, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	default:
		return in, fmt.Errorf("%w: unknown type %q", ErrMalformedEnvelope, in.Type)
	}
	return in, nil
}

// Encode renders the message. The signal payload is spliced in as-is so peers
// receive exactly the bytes the sender produced; encoding/json would compact
// and re-escape it.
func (o Outbound) Encode() ([]byte, error) {
	h := outboundHead{Type: o.Type, RoomID: o.RoomID, FromUserID: o.FromUserID, Error: o.Error}
	if o.Type == TypeUserList {
		users := o.Users
		if users == nil {
			users = []RosterEntry{}
		}
		h.Users = &users
	}
	head, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	if len(o.Signal) == 0 {
		return head, nil
	}
	if !json.Valid(o.Signal) {
		return nil, fmt.Errorf("%w: signal payload is not valid json", ErrMalformedEnvelope)
	}

	out := make([]byte, 0, len(head)+len(o.Signal)+len(`,"signal":`))
	out = append(out, head[:len(head)-1]...)
	out = append(out, `,"signal":`...)
	out = append(out, o.Signal...)
	out = append(out, '}')
	return out, nil
}

func NewUserList(r Roster) Outbound {
	return Outbound{Type: TypeUserList, RoomID: r.RoomID, Users: r.Entries()}
}

func NewSignal(roomID, fromUserID string, payload json.RawMessage) Outbound {
	return Outbound{Type: TypeSignal, RoomID: roomID, FromUserID: fromUserID, Signal: payload}
}

func NewError(roomID, msg string) Outbound {
	return Outbound{Type: TypeError, RoomID: roomID, Error: msg}
}

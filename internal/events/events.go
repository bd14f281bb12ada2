package events

import (
	"context"
	"time"

	"github.com/cwrk-planet/signal-service/internal/domain"
)

const (
	KindRosterChanged = "room.roster_changed"
)

// RosterChanged is emitted after every membership change that produced a roster broadcast.
type RosterChanged struct {
	RoomID     string               `json:"roomId"`
	Reason     string               `json:"reason"` // join|leave|disconnect|prune|evict
	Users      []domain.RosterEntry `json:"users"`
	NodeID     string               `json:"nodeId,omitempty"`
	OccurredAt time.Time            `json:"occurredAt"`
}

type Publisher interface {
	PublishRosterChanged(ctx context.Context, ev RosterChanged) error
}

type Nop struct{}

func (Nop) PublishRosterChanged(context.Context, RosterChanged) error { return nil }

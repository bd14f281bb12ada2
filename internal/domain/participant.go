package domain

import (
	"sort"
	"time"
)

const DefaultParticipantTTL = 24 * time.Hour

type Participant struct {
	RoomID       string    `db:"room_id" json:"roomId"`
	ConnectionID string    `db:"connection_id" json:"connectionId"`
	UserID       string    `db:"user_id" json:"userId"`
	ExpiresAt    time.Time `db:"expires_at" json:"expiresAt"`
}

func (p Participant) Expired(now time.Time) bool {
	return !p.ExpiresAt.After(now)
}

// Roster is the set of participants of one room as read from the store.
// Rooms are never stored on their own; a roster is the only view of a room.
type Roster struct {
	RoomID       string
	Participants []Participant
}

func NewRoster(roomID string, parts []Participant) Roster {
	sorted := make([]Participant, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].UserID != sorted[j].UserID {
			return sorted[i].UserID < sorted[j].UserID
		}
		return sorted[i].ConnectionID < sorted[j].ConnectionID
	})
	return Roster{RoomID: roomID, Participants: sorted}
}

func (r Roster) Len() int { return len(r.Participants) }

func (r Roster) Entries() []RosterEntry {
	out := make([]RosterEntry, 0, len(r.Participants))
	for _, p := range r.Participants {
		out = append(out, RosterEntry{UserID: p.UserID, ConnectionID: p.ConnectionID})
	}
	return out
}

// FindUser returns the first participant claiming userID. Two connections
// may claim the same id; which one wins is store order.
func FindUser(parts []Participant, userID string) (Participant, bool) {
	for _, p := range parts {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

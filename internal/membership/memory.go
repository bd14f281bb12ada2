package membership

import (
	"context"
	"sync"
	"time"

	"github.com/cwrk-planet/signal-service/internal/domain"
)

type key struct {
	room string
	conn string
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	byKey  map[key]domain.Participant
	byConn map[string]map[string]struct{} // connectionID -> set of roomID
	byRoom map[string]map[string]struct{} // roomID -> set of connectionID

	ttl time.Duration
	now Clock
}

type MemoryOption func(*MemoryStore)

func WithClock(c Clock) MemoryOption {
	return func(s *MemoryStore) {
		if c != nil {
			s.now = c
		}
	}
}

func NewMemoryStore(ttl time.Duration, opts ...MemoryOption) *MemoryStore {
	if ttl <= 0 {
		ttl = domain.DefaultParticipantTTL
	}
	s := &MemoryStore{
		byKey:  make(map[key]domain.Participant),
		byConn: make(map[string]map[string]struct{}),
		byRoom: make(map[string]map[string]struct{}),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *MemoryStore) Put(ctx context.Context, p domain.Participant) (domain.Participant, error) {
	if err := ctx.Err(); err != nil {
		return domain.Participant{}, err
	}
	p.ExpiresAt = s.now().Add(s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.byKey[key{p.RoomID, p.ConnectionID}] = p
	addIndex(s.byConn, p.ConnectionID, p.RoomID)
	addIndex(s.byRoom, p.RoomID, p.ConnectionID)
	return p, nil
}

func (s *MemoryStore) ListByRoom(ctx context.Context, roomID string) ([]domain.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	conns := s.byRoom[roomID]
	out := make([]domain.Participant, 0, len(conns))
	for c := range conns {
		p, ok := s.byKey[key{roomID, c}]
		if !ok || p.Expired(now) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *MemoryStore) ListByConnection(ctx context.Context, connectionID string) ([]domain.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := s.byConn[connectionID]
	out := make([]domain.Participant, 0, len(rooms))
	for r := range rooms {
		p, ok := s.byKey[key{r, connectionID}]
		if !ok || p.Expired(now) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, roomID, connectionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteLocked(roomID, connectionID)
	return nil
}

// PurgeExpired physically drops expired records. Reads already hide them.
func (s *MemoryStore) PurgeExpired(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, p := range s.byKey {
		if p.Expired(now) {
			s.deleteLocked(k.room, k.conn)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

// Len returns the number of physically stored records, expired included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byKey)
}

func (s *MemoryStore) deleteLocked(roomID, connectionID string) {
	delete(s.byKey, key{roomID, connectionID})
	dropIndex(s.byConn, connectionID, roomID)
	dropIndex(s.byRoom, roomID, connectionID)
}

func addIndex(idx map[string]map[string]struct{}, k, v string) {
	set, ok := idx[k]
	if !ok {
		set = make(map[string]struct{})
		idx[k] = set
	}
	set[v] = struct{}{}
}

func dropIndex(idx map[string]map[string]struct{}, k, v string) {
	set, ok := idx[k]
	if !ok {
		return
	}
	delete(set, v)
	if len(set) == 0 {
		delete(idx, k)
	}
}

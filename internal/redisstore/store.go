package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwrk-planet/signal-service/internal/domain"

	"github.com/redis/go-redis/v9"
)

// Store keeps one JSON value per participant record with a native key TTL,
// plus two set indexes (room -> connections, connection -> rooms).
// Index entries whose record already expired are dropped on read.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func New(rdb redis.UniversalClient, prefix string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = domain.DefaultParticipantTTL
	}
	return &Store{rdb: rdb, prefix: prefix, ttl: ttl, now: time.Now}
}

func (s *Store) recordKey(roomID, connID string) string {
	return fmt.Sprintf("%sparticipant:%s:%s", s.prefix, roomID, connID)
}

func (s *Store) roomKey(roomID string) string {
	return fmt.Sprintf("%sroom:%s:conns", s.prefix, roomID)
}

func (s *Store) connKey(connID string) string {
	return fmt.Sprintf("%sconn:%s:rooms", s.prefix, connID)
}

func (s *Store) Put(ctx context.Context, p domain.Participant) (domain.Participant, error) {
	p.ExpiresAt = s.now().Add(s.ttl)
	b, err := json.Marshal(p)
	if err != nil {
		return domain.Participant{}, err
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.recordKey(p.RoomID, p.ConnectionID), b, s.ttl)
	pipe.SAdd(ctx, s.roomKey(p.RoomID), p.ConnectionID)
	pipe.Expire(ctx, s.roomKey(p.RoomID), s.ttl)
	pipe.SAdd(ctx, s.connKey(p.ConnectionID), p.RoomID)
	pipe.Expire(ctx, s.connKey(p.ConnectionID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Participant{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return p, nil
}

func (s *Store) ListByRoom(ctx context.Context, roomID string) ([]domain.Participant, error) {
	conns, err := s.rdb.SMembers(ctx, s.roomKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	keys := make([]string, len(conns))
	for i, c := range conns {
		keys[i] = s.recordKey(roomID, c)
	}

	out, missing, err := s.load(ctx, keys)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		gone := make([]ref, 0, len(missing))
		for _, i := range missing {
			gone = append(gone, ref{room: roomID, conn: conns[i]})
		}
		s.unlink(ctx, gone)
	}
	return out, nil
}

func (s *Store) ListByConnection(ctx context.Context, connectionID string) ([]domain.Participant, error) {
	rooms, err := s.rdb.SMembers(ctx, s.connKey(connectionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	keys := make([]string, len(rooms))
	for i, r := range rooms {
		keys[i] = s.recordKey(r, connectionID)
	}

	out, missing, err := s.load(ctx, keys)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		gone := make([]ref, 0, len(missing))
		for _, i := range missing {
			gone = append(gone, ref{room: rooms[i], conn: connectionID})
		}
		s.unlink(ctx, gone)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, roomID, connectionID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.recordKey(roomID, connectionID))
	pipe.SRem(ctx, s.roomKey(roomID), connectionID)
	pipe.SRem(ctx, s.connKey(connectionID), roomID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// load fetches the given record keys; indexes of keys that no longer exist are returned as missing.
func (s *Store) load(ctx context.Context, keys []string) ([]domain.Participant, []int, error) {
	if len(keys) == 0 {
		return []domain.Participant{}, nil, nil
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	out := make([]domain.Participant, 0, len(vals))
	var missing []int
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			missing = append(missing, i)
			continue
		}
		var p domain.Participant
		if err := json.Unmarshal([]byte(str), &p); err != nil {
			slog.Warn("redisstore: corrupt participant record", "key", keys[i], "err", err)
			continue
		}
		out = append(out, p)
	}
	return out, missing, nil
}

type ref struct {
	room string
	conn string
}

// KEYS: record, room set, conn set. ARGV: conn id, room id.
// Индексы чистятся только если записи всё ещё нет: между MGET и очисткой мог пройти rejoin.
var unlinkScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	redis.call("SREM", KEYS[2], ARGV[1])
	redis.call("SREM", KEYS[3], ARGV[2])
	return 1
end
return 0
`)

// unlink — best-effort, чтение уже отфильтровало протухшие записи
func (s *Store) unlink(ctx context.Context, gone []ref) {
	pipe := s.rdb.Pipeline()
	for _, r := range gone {
		unlinkScript.Eval(ctx, pipe,
			[]string{s.recordKey(r.room, r.conn), s.roomKey(r.room), s.connKey(r.conn)},
			r.conn, r.room)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Debug("redisstore: lazy index cleanup failed", "err", err)
	}
}

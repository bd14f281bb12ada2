package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/cwrk-planet/signal-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

/*
абстрактный слой над *pgxpool.Pool / pgx.Tx / pgxmock
*/
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
}

type ParticipantRepository struct {
	db  querier
	ttl time.Duration
	now func() time.Time
}

func NewParticipantRepository(db querier, ttl time.Duration) *ParticipantRepository {
	if ttl <= 0 {
		ttl = domain.DefaultParticipantTTL
	}
	return &ParticipantRepository{db: db, ttl: ttl, now: time.Now}
}

// Put — upsert по (room_id, connection_id); повторный join продлевает expires_at.
func (r *ParticipantRepository) Put(ctx context.Context, p domain.Participant) (domain.Participant, error) {
	p.ExpiresAt = r.now().Add(r.ttl).UTC()
	if _, err := r.db.Exec(ctx, queryUpsertParticipant, p.RoomID, p.ConnectionID, p.UserID, p.ExpiresAt); err != nil {
		return domain.Participant{}, unavailable(err)
	}
	return p, nil
}

func (r *ParticipantRepository) ListByRoom(ctx context.Context, roomID string) ([]domain.Participant, error) {
	return r.list(ctx, queryListByRoom, roomID)
}

func (r *ParticipantRepository) ListByConnection(ctx context.Context, connectionID string) ([]domain.Participant, error) {
	return r.list(ctx, queryListByConnection, connectionID)
}

func (r *ParticipantRepository) Delete(ctx context.Context, roomID, connectionID string) error {
	if _, err := r.db.Exec(ctx, queryDeleteParticipant, roomID, connectionID); err != nil {
		return unavailable(err)
	}
	return nil
}

// PurgeExpired физически удаляет протухшие строки. Чтения их и так не видят.
func (r *ParticipantRepository) PurgeExpired(ctx context.Context) (int, error) {
	cmd, err := r.db.Exec(ctx, queryPurgeExpired, r.now().UTC())
	if err != nil {
		return 0, unavailable(err)
	}
	return int(cmd.RowsAffected()), nil
}

func (r *ParticipantRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *ParticipantRepository) list(ctx context.Context, q string, arg string) ([]domain.Participant, error) {
	rows, err := r.db.Query(ctx, q, arg, r.now().UTC())
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	list := make([]domain.Participant, 0, 8)
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.RoomID, &p.ConnectionID, &p.UserID, &p.ExpiresAt); err != nil {
			return nil, unavailable(err)
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return list, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}

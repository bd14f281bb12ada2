package membership

import (
	"context"
	"time"

	"github.com/cwrk-planet/signal-service/internal/domain"
)

// Store — авторитетный список участников комнат.
// Ключ записи: (RoomID, ConnectionID). Просроченные записи не видны ни одному чтению.
type Store interface {
	// Put вставляет или перезаписывает запись и выставляет ExpiresAt = now + TTL.
	Put(ctx context.Context, p domain.Participant) (domain.Participant, error)
	ListByRoom(ctx context.Context, roomID string) ([]domain.Participant, error)
	ListByConnection(ctx context.Context, connectionID string) ([]domain.Participant, error)
	// Delete идемпотентен: отсутствие записи не ошибка.
	Delete(ctx context.Context, roomID, connectionID string) error
}

// Pinger is implemented by backends that can report their own health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Purger is implemented by backends that keep expired records physically until swept.
type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

type Clock func() time.Time

// RunPurge periodically removes expired records until ctx is done.
func RunPurge(ctx context.Context, p Purger, every time.Duration, onPurged func(n int, err error)) {
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := p.PurgeExpired(ctx)
			if onPurged != nil {
				onPurged(n, err)
			}
		}
	}
}

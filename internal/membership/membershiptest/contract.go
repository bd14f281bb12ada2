// Package membershiptest holds the behaviour every membership.Store backend must share.
package membershiptest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/signal-service/internal/domain"
	"github.com/cwrk-planet/signal-service/internal/membership"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory builds a fresh store with the given TTL and returns a function that moves
// the backend's notion of time forward.
type Factory func(t *testing.T, ttl time.Duration) (membership.Store, func(time.Duration))

func rec(room, conn, user string) domain.Participant {
	return domain.Participant{RoomID: room, ConnectionID: conn, UserID: user}
}

func userIDs(ps []domain.Participant) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.UserID)
	}
	return out
}

func RunContract(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("put then list by room and connection", func(t *testing.T) {
		s, _ := newStore(t, time.Hour)

		_, err := s.Put(ctx, rec("r1", "c1", "alice"))
		require.NoError(t, err)
		_, err = s.Put(ctx, rec("r1", "c2", "bob"))
		require.NoError(t, err)
		_, err = s.Put(ctx, rec("r2", "c1", "alice"))
		require.NoError(t, err)

		inRoom, err := s.ListByRoom(ctx, "r1")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"alice", "bob"}, userIDs(inRoom))

		byConn, err := s.ListByConnection(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, byConn, 2)
		rooms := []string{byConn[0].RoomID, byConn[1].RoomID}
		assert.ElementsMatch(t, []string{"r1", "r2"}, rooms)
	})

	t.Run("put sets expiry", func(t *testing.T) {
		s, _ := newStore(t, time.Hour)
		before := time.Now().Add(-time.Second)

		got, err := s.Put(ctx, rec("r1", "c1", "alice"))
		require.NoError(t, err)
		assert.True(t, got.ExpiresAt.After(before.Add(time.Hour-time.Minute)))
	})

	t.Run("same room and connection is one record", func(t *testing.T) {
		s, _ := newStore(t, time.Hour)

		_, err := s.Put(ctx, rec("r1", "c1", "alice"))
		require.NoError(t, err)
		_, err = s.Put(ctx, rec("r1", "c1", "alice-renamed"))
		require.NoError(t, err)

		inRoom, err := s.ListByRoom(ctx, "r1")
		require.NoError(t, err)
		require.Len(t, inRoom, 1)
		assert.Equal(t, "alice-renamed", inRoom[0].UserID)
	})

	t.Run("same user on two connections is two records", func(t *testing.T) {
		s, _ := newStore(t, time.Hour)

		_, err := s.Put(ctx, rec("r1", "c1", "alice"))
		require.NoError(t, err)
		_, err = s.Put(ctx, rec("r1", "c2", "alice"))
		require.NoError(t, err)

		inRoom, err := s.ListByRoom(ctx, "r1")
		require.NoError(t, err)
		assert.Len(t, inRoom, 2)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		s, _ := newStore(t, time.Hour)

		_, err := s.Put(ctx, rec("r1", "c1", "alice"))
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, "r1", "c1"))
		require.NoError(t, s.Delete(ctx, "r1", "c1"))
		require.NoError(t, s.Delete(ctx, "nope", "nope"))

		inRoom, err := s.ListByRoom(ctx, "r1")
		require.NoError(t, err)
		assert.Empty(t, inRoom)
		byConn, err := s.ListByConnection(ctx, "c1")
		require.NoError(t, err)
		assert.Empty(t, byConn)
	})

	t.Run("expired records are invisible", func(t *testing.T) {
		s, advance := newStore(t, time.Minute)

		_, err := s.Put(ctx, rec("r1", "c1", "alice"))
		require.NoError(t, err)
		advance(30 * time.Second)
		_, err = s.Put(ctx, rec("r1", "c2", "bob"))
		require.NoError(t, err)
		advance(45 * time.Second)

		inRoom, err := s.ListByRoom(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, []string{"bob"}, userIDs(inRoom))

		byConn, err := s.ListByConnection(ctx, "c1")
		require.NoError(t, err)
		assert.Empty(t, byConn)
	})

	t.Run("rejoin refreshes expiry", func(t *testing.T) {
		s, advance := newStore(t, time.Minute)

		_, err := s.Put(ctx, rec("r1", "c1", "alice"))
		require.NoError(t, err)
		advance(50 * time.Second)
		_, err = s.Put(ctx, rec("r1", "c1", "alice"))
		require.NoError(t, err)
		advance(50 * time.Second)

		inRoom, err := s.ListByRoom(ctx, "r1")
		require.NoError(t, err)
		assert.Len(t, inRoom, 1)
	})

	t.Run("concurrent puts keep one record per key", func(t *testing.T) {
		s, _ := newStore(t, time.Hour)

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, _ = s.Put(ctx, rec("r1", fmt.Sprintf("c%d", i%4), fmt.Sprintf("u%d", i)))
			}(i)
		}
		wg.Wait()

		inRoom, err := s.ListByRoom(ctx, "r1")
		require.NoError(t, err)
		assert.Len(t, inRoom, 4)
	})
}

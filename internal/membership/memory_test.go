package membership_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/signal-service/internal/domain"
	"github.com/cwrk-planet/signal-service/internal/membership"
	"github.com/cwrk-planet/signal-service/internal/membership/membershiptest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newMemory(t *testing.T, ttl time.Duration) (membership.Store, func(time.Duration)) {
	t.Helper()
	clk := &fakeClock{now: time.Now()}
	return membership.NewMemoryStore(ttl, membership.WithClock(clk.Now)), clk.Advance
}

func TestMemoryStore_Contract(t *testing.T) {
	membershiptest.RunContract(t, newMemory)
}

func TestMemoryStore_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{now: time.Now()}
	s := membership.NewMemoryStore(time.Minute, membership.WithClock(clk.Now))

	_, err := s.Put(ctx, domain.Participant{RoomID: "r1", ConnectionID: "c1", UserID: "alice"})
	require.NoError(t, err)
	clk.Advance(30 * time.Second)
	_, err = s.Put(ctx, domain.Participant{RoomID: "r1", ConnectionID: "c2", UserID: "bob"})
	require.NoError(t, err)
	clk.Advance(45 * time.Second)

	assert.Equal(t, 2, s.Len())
	n, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := membership.NewMemoryStore(0)

	_, err := s.Put(ctx, domain.Participant{RoomID: "r1", ConnectionID: "c1", UserID: "alice"})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.Len())
}

func TestRunPurge_StopsOnCancel(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	s := membership.NewMemoryStore(time.Millisecond, membership.WithClock(clk.Now))
	_, err := s.Put(context.Background(), domain.Participant{RoomID: "r1", ConnectionID: "c1", UserID: "alice"})
	require.NoError(t, err)
	clk.Advance(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	purged := make(chan int, 16)
	done := make(chan struct{})
	go func() {
		membership.RunPurge(ctx, s, 5*time.Millisecond, func(n int, err error) {
			if err == nil && n > 0 {
				purged <- n
			}
		})
		close(done)
	}()

	select {
	case n := <-purged:
		assert.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("purge loop did not run")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("purge loop did not stop")
	}
}

package relay_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cwrk-planet/signal-service/internal/domain"
	"github.com/cwrk-planet/signal-service/internal/membership"
	"github.com/cwrk-planet/signal-service/internal/metrics"
	"github.com/cwrk-planet/signal-service/internal/relay"
	"github.com/cwrk-planet/signal-service/internal/relay/relaytest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store *membership.MemoryStore
	disp  *relay.LocalDispatcher
	relay *relay.Relay
	conns map[string]*relaytest.Conn

	mu     sync.Mutex
	pruned []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: membership.NewMemoryStore(0),
		disp:  relay.NewLocalDispatcher(),
		conns: map[string]*relaytest.Conn{},
	}
	f.relay = relay.New(f.store, f.disp, relay.WithMetrics(metrics.New()))
	f.relay.OnPrune(func(_ context.Context, roomID string) {
		f.mu.Lock()
		f.pruned = append(f.pruned, roomID)
		f.mu.Unlock()
	})
	return f
}

func (f *fixture) join(t *testing.T, room, conn, user string) *relaytest.Conn {
	t.Helper()
	c, ok := f.conns[conn]
	if !ok {
		c = relaytest.NewConn(conn)
		f.conns[conn] = c
		f.disp.Register(c)
	}
	_, err := f.store.Put(context.Background(), domain.Participant{RoomID: room, ConnectionID: conn, UserID: user})
	require.NoError(t, err)
	return c
}

func (f *fixture) prunedRooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pruned...)
}

func TestForwardToParticipant_DeliversVerbatim(t *testing.T) {
	f := newFixture(t)
	f.join(t, "r1", "c1", "alice")
	bob := f.join(t, "r1", "c2", "bob")

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	err := f.relay.ForwardToParticipant(context.Background(), "r1", "bob", domain.NewSignal("r1", "alice", payload))
	require.NoError(t, err)

	msg, ok := bob.Last(domain.TypeSignal)
	require.True(t, ok)
	assert.Equal(t, "alice", msg.FromUserID)
	assert.Equal(t, string(payload), string(msg.Signal))
}

func TestForwardToParticipant_TargetNotFound(t *testing.T) {
	f := newFixture(t)
	f.join(t, "r1", "c1", "alice")

	err := f.relay.ForwardToParticipant(context.Background(), "r1", "carol", domain.NewSignal("r1", "alice", json.RawMessage(`{}`)))
	require.ErrorIs(t, err, domain.ErrTargetNotFound)
	assert.False(t, errors.Is(err, domain.ErrStaleConnection))
}

func TestForwardToParticipant_StalePrunes(t *testing.T) {
	f := newFixture(t)
	f.join(t, "r1", "c1", "alice")
	bob := f.join(t, "r1", "c2", "bob")
	bob.Break()

	err := f.relay.ForwardToParticipant(context.Background(), "r1", "bob", domain.NewSignal("r1", "alice", json.RawMessage(`{}`)))
	require.ErrorIs(t, err, domain.ErrTargetNotFound)
	require.ErrorIs(t, err, domain.ErrStaleConnection)

	left, err := f.store.ListByRoom(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "alice", left[0].UserID)
	assert.Equal(t, []string{"r1"}, f.prunedRooms())
}

func TestForwardToParticipant_UnregisteredConnIsStale(t *testing.T) {
	f := newFixture(t)
	f.join(t, "r1", "c1", "alice")
	// запись есть, а сокета в таблице нет
	_, err := f.store.Put(context.Background(), domain.Participant{RoomID: "r1", ConnectionID: "ghost", UserID: "bob"})
	require.NoError(t, err)

	err = f.relay.ForwardToParticipant(context.Background(), "r1", "bob", domain.NewSignal("r1", "alice", json.RawMessage(`{}`)))
	require.ErrorIs(t, err, domain.ErrStaleConnection)

	left, _ := f.store.ListByConnection(context.Background(), "ghost")
	assert.Empty(t, left)
}

func TestBroadcastToRoom_ExcludesAndHeals(t *testing.T) {
	f := newFixture(t)
	alice := f.join(t, "r1", "c1", "alice")
	bob := f.join(t, "r1", "c2", "bob")
	carol := f.join(t, "r1", "c3", "carol")
	dave := f.join(t, "r1", "c4", "dave")
	carol.Break()
	dave.Break()

	n, err := f.relay.BroadcastToRoom(context.Background(), "r1", domain.NewError("r1", "hello"), "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Empty(t, alice.Frames())
	assert.Len(t, bob.Frames(), 1)

	left, err := f.store.ListByRoom(context.Background(), "r1")
	require.NoError(t, err)
	assert.Len(t, left, 2)
	// одно уведомление на весь broadcast
	assert.Equal(t, []string{"r1"}, f.prunedRooms())
}

func TestBroadcastToRoom_EmptyRoom(t *testing.T) {
	f := newFixture(t)
	n, err := f.relay.BroadcastToRoom(context.Background(), "nobody", domain.NewError("", "x"))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.prunedRooms())
}

func TestSendTo(t *testing.T) {
	f := newFixture(t)
	c := relaytest.NewConn("c1")
	f.disp.Register(c)

	require.NoError(t, f.relay.SendTo(context.Background(), "c1", domain.NewError("", "boom")))
	msg, ok := c.Last(domain.TypeError)
	require.True(t, ok)
	assert.Equal(t, "boom", msg.Error)

	f.disp.Unregister(c)
	err := f.relay.SendTo(context.Background(), "c1", domain.NewError("", "boom"))
	require.ErrorIs(t, err, domain.ErrStaleConnection)
}

// stuckStore reads fine but refuses deletes.
type stuckStore struct {
	*membership.MemoryStore
	deletes atomic.Int32
}

func (s *stuckStore) Delete(context.Context, string, string) error {
	s.deletes.Add(1)
	return domain.ErrStoreUnavailable
}

func TestPrune_FailedDeleteDoesNotNotify(t *testing.T) {
	store := &stuckStore{MemoryStore: membership.NewMemoryStore(0)}
	disp := relay.NewLocalDispatcher()
	rl := relay.New(store, disp)

	var notified atomic.Int32
	rl.OnPrune(func(ctx context.Context, roomID string) {
		notified.Add(1)
		// наблюдатель сам рассылает список, как координатор
		_, _ = rl.BroadcastToRoom(ctx, roomID, domain.NewError(roomID, "roster"))
	})

	alice := relaytest.NewConn("c1")
	disp.Register(alice)
	ctx := context.Background()
	_, err := store.Put(ctx, domain.Participant{RoomID: "r1", ConnectionID: "c1", UserID: "alice"})
	require.NoError(t, err)
	_, err = store.Put(ctx, domain.Participant{RoomID: "r1", ConnectionID: "ghost", UserID: "bob"})
	require.NoError(t, err)

	n, err := rl.BroadcastToRoom(ctx, "r1", domain.NewError("r1", "hello"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	err = rl.ForwardToParticipant(ctx, "r1", "bob", domain.NewSignal("r1", "alice", json.RawMessage(`{}`)))
	require.ErrorIs(t, err, domain.ErrStaleConnection)

	assert.Zero(t, notified.Load())
	assert.Equal(t, int32(2), store.deletes.Load())
	assert.Len(t, alice.Frames(), 1)
}

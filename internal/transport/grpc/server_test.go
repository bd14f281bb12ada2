package grpcx

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cwrk-planet/signal-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fakeMembers struct {
	parts   []domain.Participant
	evicted []string
	panicOn string
}

func (f *fakeMembers) ListParticipants(_ context.Context, roomID string) (domain.Roster, error) {
	if roomID == "" {
		return domain.Roster{}, domain.ErrInvalidInput
	}
	if roomID == f.panicOn {
		panic("boom")
	}
	var in []domain.Participant
	for _, p := range f.parts {
		if p.RoomID == roomID {
			in = append(in, p)
		}
	}
	return domain.NewRoster(roomID, in), nil
}

func (f *fakeMembers) ListConnection(_ context.Context, connectionID string) ([]domain.Participant, error) {
	var out []domain.Participant
	for _, p := range f.parts {
		if p.ConnectionID == connectionID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeMembers) Evict(_ context.Context, connectionID string) ([]string, error) {
	f.evicted = append(f.evicted, connectionID)
	return []string{"r1"}, nil
}

func (f *fakeMembers) Ready(context.Context) error { return domain.ErrStoreUnavailable }

func startServer(t *testing.T, f *fakeMembers) *PresenceClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(UnaryServerInterceptor(time.Second)),
		grpc.ChainStreamInterceptor(StreamServerInterceptor()),
	)
	RegisterPresenceServer(srv, NewServer(f))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })
	return NewPresenceClient(cc)
}

func TestPresence_ListRoom(t *testing.T) {
	exp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := startServer(t, &fakeMembers{parts: []domain.Participant{
		{RoomID: "r1", ConnectionID: "c2", UserID: "bob", ExpiresAt: exp},
		{RoomID: "r1", ConnectionID: "c1", UserID: "alice", ExpiresAt: exp},
		{RoomID: "r2", ConnectionID: "c3", UserID: "carol", ExpiresAt: exp},
	}})

	var header metadata.MD
	out, err := c.ListRoom(context.Background(), "r1", grpc.Header(&header))
	require.NoError(t, err)

	m := out.AsMap()
	assert.Equal(t, "r1", m["roomId"])
	assert.Equal(t, float64(2), m["count"])
	users := m["users"].([]any)
	require.Len(t, users, 2)
	assert.Equal(t, "alice", users[0].(map[string]any)["userId"])
	assert.Equal(t, "2026-01-01T00:00:00Z", users[0].(map[string]any)["expiresAt"])
	assert.NotEmpty(t, header.Get(mdRequestID))
}

func TestPresence_InvalidArgument(t *testing.T) {
	c := startServer(t, &fakeMembers{})
	_, err := c.ListRoom(context.Background(), "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestPresence_PanicRecovered(t *testing.T) {
	c := startServer(t, &fakeMembers{panicOn: "bad"})
	_, err := c.ListRoom(context.Background(), "bad")
	assert.Equal(t, codes.Internal, status.Code(err))

	// сервер жив после паники
	_, err = c.ListRoom(context.Background(), "ok")
	require.NoError(t, err)
}

func TestPresence_ListConnectionAndEvict(t *testing.T) {
	f := &fakeMembers{parts: []domain.Participant{
		{RoomID: "r1", ConnectionID: "c1", UserID: "alice"},
		{RoomID: "r2", ConnectionID: "c1", UserID: "alice"},
	}}
	c := startServer(t, f)

	out, err := c.ListConnection(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, out.AsMap()["rooms"], 2)

	out, err = c.Evict(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, []any{"r1"}, out.AsMap()["rooms"])
	assert.Equal(t, []string{"c1"}, f.evicted)
}

func TestPresence_PingUnavailable(t *testing.T) {
	c := startServer(t, &fakeMembers{})
	err := c.Ping(context.Background())
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestRequestID_FromMetadata(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(mdRequestID, "abc"))
	assert.Equal(t, "abc", requestID(ctx))
	assert.NotEmpty(t, requestID(context.Background()))
}

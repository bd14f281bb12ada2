package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/cwrk-planet/signal-service/internal/domain"
	"github.com/cwrk-planet/signal-service/internal/events"
	"github.com/cwrk-planet/signal-service/internal/membership"
	"github.com/cwrk-planet/signal-service/internal/metrics"
	"github.com/cwrk-planet/signal-service/internal/relay"
	"github.com/cwrk-planet/signal-service/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultCapacity = 8

	reasonJoin       = "join"
	reasonLeave      = "leave"
	reasonDisconnect = "disconnect"
	reasonPrune      = "prune"
	reasonEvict      = "evict"

	cleanupTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// ConnLookup finds the live transport conn of a connection id on this node.
type ConnLookup interface {
	Lookup(connectionID string) (relay.Conn, bool)
}

type Config struct {
	Capacity int
	NodeID   string
}

// Coordinator drives the per-connection protocol: join, leave, signal, disconnect.
// It holds no locks of its own; the store is the only shared state.
type Coordinator struct {
	store   membership.Store
	relay   *relay.Relay
	conns   ConnLookup
	events  events.Publisher
	metrics *metrics.Metrics
	tracer  trace.Tracer

	capacity       int
	nodeID         string
	publishTimeout time.Duration
}

func NewCoordinator(
	cfg Config,
	store membership.Store,
	rl *relay.Relay,
	conns ConnLookup,
	pub events.Publisher,
	m *metrics.Metrics,
) *Coordinator {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if pub == nil {
		pub = events.Nop{}
	}
	c := &Coordinator{
		store:    store,
		relay:    rl,
		conns:    conns,
		events:   pub,
		metrics:  m,
		tracer:   otel.Tracer("signal-service/service"),
		capacity:       cfg.Capacity,
		nodeID:         cfg.NodeID,
		publishTimeout: publishTimeout,
	}
	// ghost-участник удалён — остальные должны увидеть новый список
	rl.OnPrune(func(ctx context.Context, roomID string) {
		c.broadcastRoster(ctx, roomID, reasonPrune)
	})
	return c
}

func (c *Coordinator) Capacity() int { return c.capacity }

// Connect registers a new protocol session with no membership.
func (c *Coordinator) Connect(connectionID string) *Session {
	c.metrics.ConnOpened()
	return newSession(connectionID)
}

// Handle decodes one inbound frame and dispatches it. Failures are reported to the
// sender as error messages; the returned error is for logging only.
func (c *Coordinator) Handle(ctx context.Context, s *Session, frame []byte) error {
	if s.closed() {
		return domain.ErrSessionClosed
	}

	in, err := domain.DecodeInbound(frame)
	c.metrics.Inbound(metricType(in.Type))
	if err != nil {
		c.reply(ctx, s, in.RoomID, err.Error())
		return err
	}

	switch in.Type {
	case domain.TypeJoinRoom:
		return c.Join(ctx, s, in.RoomID, in.UserID)
	case domain.TypeLeaveRoom:
		return c.Leave(ctx, s, in.RoomID)
	case domain.TypeSignal:
		return c.Signal(ctx, s, in.RoomID, in.TargetUserID, in.Signal)
	}
	return nil
}

// Join admits the connection to roomID as userID when the room is under capacity and
// broadcasts the new roster to every member, the joiner included.
// The capacity check and the insert are separate store calls.
func (c *Coordinator) Join(ctx context.Context, s *Session, roomID, userID string) (err error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.Join", trace.WithAttributes(
		attribute.String("room.id", roomID),
		attribute.String("conn.id", s.id),
	))
	defer endSpan(span, &err)

	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.closed() {
		return domain.ErrSessionClosed
	}

	parts, err := c.store.ListByRoom(ctx, roomID)
	if err != nil {
		c.metrics.Join("error")
		c.reply(ctx, s, roomID, domain.ErrStoreUnavailable.Error())
		return fmt.Errorf("coordinator.Join.ListByRoom: %w", err)
	}
	others := 0
	for _, p := range parts {
		if p.ConnectionID != s.id {
			others++
		}
	}
	if others >= c.capacity {
		others -= c.reapGhosts(ctx, roomID, parts, s.id)
	}
	if others >= c.capacity {
		c.metrics.Join("full")
		c.reply(ctx, s, roomID, fmt.Sprintf("room %s is full (max %d participants)", roomID, c.capacity))
		return fmt.Errorf("coordinator.Join: %w", domain.ErrRoomFull)
	}

	if _, err := c.store.Put(ctx, domain.Participant{RoomID: roomID, ConnectionID: s.id, UserID: userID}); err != nil {
		c.metrics.Join("error")
		c.reply(ctx, s, roomID, domain.ErrStoreUnavailable.Error())
		return fmt.Errorf("coordinator.Join.Put: %w", err)
	}
	s.joined(roomID, userID)
	c.metrics.Join("ok")

	logger.FromContext(ctx).Info("room joined", "room", roomID, "conn", s.id, "user", userID)
	c.broadcastRoster(ctx, roomID, reasonJoin)
	return nil
}

// Leave removes the connection from roomID, or from every room it is in when roomID
// is empty. Leaving a room the connection is not in does nothing.
func (c *Coordinator) Leave(ctx context.Context, s *Session, roomID string) (err error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.Leave", trace.WithAttributes(
		attribute.String("room.id", roomID),
		attribute.String("conn.id", s.id),
	))
	defer endSpan(span, &err)

	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.closed() {
		return domain.ErrSessionClosed
	}

	recs, err := c.store.ListByConnection(ctx, s.id)
	if err != nil {
		c.reply(ctx, s, roomID, domain.ErrStoreUnavailable.Error())
		return fmt.Errorf("coordinator.Leave.ListByConnection: %w", err)
	}

	for _, rec := range recs {
		if roomID != "" && rec.RoomID != roomID {
			continue
		}
		if err := c.store.Delete(ctx, rec.RoomID, s.id); err != nil {
			c.reply(ctx, s, rec.RoomID, domain.ErrStoreUnavailable.Error())
			return fmt.Errorf("coordinator.Leave.Delete: %w", err)
		}
		s.left(rec.RoomID)
		c.metrics.Leave()
		logger.FromContext(ctx).Info("room left", "room", rec.RoomID, "conn", s.id, "user", rec.UserID)
		c.broadcastRoster(ctx, rec.RoomID, reasonLeave, s.id)
	}
	if roomID != "" {
		s.left(roomID)
	}
	return nil
}

// Signal forwards payload to targetUserID. The sender must be a member of the room;
// fromUserId is taken from the sender's own record. With no roomID every room of the
// sender is searched and the first match wins.
func (c *Coordinator) Signal(ctx context.Context, s *Session, roomID, targetUserID string, payload []byte) (err error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.Signal", trace.WithAttributes(
		attribute.String("room.id", roomID),
		attribute.String("conn.id", s.id),
	))
	defer endSpan(span, &err)

	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.closed() {
		return domain.ErrSessionClosed
	}

	recs, err := c.store.ListByConnection(ctx, s.id)
	if err != nil {
		c.metrics.Signal("error")
		c.reply(ctx, s, roomID, domain.ErrStoreUnavailable.Error())
		return fmt.Errorf("coordinator.Signal.ListByConnection: %w", err)
	}

	var candidates []domain.Participant
	for _, rec := range recs {
		if roomID == "" || rec.RoomID == roomID {
			candidates = append(candidates, rec)
		}
	}
	if roomID != "" && len(candidates) == 0 {
		c.metrics.Signal("not_member")
		c.reply(ctx, s, roomID, fmt.Sprintf("%s: %s", domain.ErrNotInRoom.Error(), roomID))
		return fmt.Errorf("coordinator.Signal: %w", domain.ErrNotInRoom)
	}

	for _, from := range candidates {
		err = c.relay.ForwardToParticipant(ctx, from.RoomID, targetUserID,
			domain.NewSignal(from.RoomID, from.UserID, payload))
		switch {
		case err == nil:
			c.metrics.Signal("delivered")
			return nil
		case errors.Is(err, domain.ErrStaleConnection):
			// тихо: запись уже удалена relay, остальным ушёл новый список
			c.metrics.Signal("stale")
			logger.FromContext(ctx).Debug("signal target was stale",
				"room", from.RoomID, "conn", s.id, "target", targetUserID, "err", err)
			return nil
		case errors.Is(err, domain.ErrTargetNotFound):
			continue
		default:
			c.metrics.Signal("error")
			logger.FromContext(ctx).Warn("signal forward failed",
				"room", from.RoomID, "conn", s.id, "target", targetUserID, "err", err)
			c.reply(ctx, s, from.RoomID, domain.ErrStoreUnavailable.Error())
			return err
		}
	}

	c.metrics.Signal("not_found")
	c.reply(ctx, s, roomID, fmt.Sprintf("%s: %s", domain.ErrTargetNotFound.Error(), targetUserID))
	return fmt.Errorf("coordinator.Signal: %w: %s", domain.ErrTargetNotFound, targetUserID)
}

// Disconnect runs the transport-close cleanup exactly once per session.
func (c *Coordinator) Disconnect(ctx context.Context, s *Session) {
	s.closeOnce.Do(func() {
		s.opMu.Lock()
		defer s.opMu.Unlock()
		s.markClosed()
		c.metrics.ConnClosed()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if _, err := c.cleanup(ctx, s.id, reasonDisconnect); err != nil {
			logger.FromContext(ctx).Warn("disconnect cleanup failed", "conn", s.id, "err", err)
		}
	})
}

// Evict removes any connection from all of its rooms and closes it when it lives on
// this node. Returns the rooms it was removed from.
func (c *Coordinator) Evict(ctx context.Context, connectionID string) ([]string, error) {
	rooms, err := c.cleanup(ctx, connectionID, reasonEvict)
	if err != nil {
		return rooms, err
	}
	if c.conns != nil {
		if conn, ok := c.conns.Lookup(connectionID); ok {
			_ = conn.Close()
		}
	}
	slog.Info("connection evicted", "conn", connectionID, "rooms", rooms)
	return rooms, nil
}

// Roster reads the current roster of roomID.
func (c *Coordinator) Roster(ctx context.Context, roomID string) (domain.Roster, error) {
	parts, err := c.store.ListByRoom(ctx, roomID)
	if err != nil {
		return domain.Roster{}, err
	}
	return domain.NewRoster(roomID, parts), nil
}

func (c *Coordinator) cleanup(ctx context.Context, connectionID, reason string) ([]string, error) {
	recs, err := c.store.ListByConnection(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("coordinator.cleanup.ListByConnection: %w", err)
	}

	rooms := make([]string, 0, len(recs))
	var errs []error
	for _, rec := range recs {
		if err := c.store.Delete(ctx, rec.RoomID, connectionID); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", rec.RoomID, err))
			continue
		}
		rooms = append(rooms, rec.RoomID)
		c.metrics.Leave()
		c.broadcastRoster(ctx, rec.RoomID, reason, connectionID)
	}
	return rooms, errors.Join(errs...)
}

// broadcastRoster sends a full re-read of the room to its members, minus exclude.
func (c *Coordinator) broadcastRoster(ctx context.Context, roomID, reason string, exclude ...string) {
	parts, err := c.store.ListByRoom(ctx, roomID)
	if err != nil {
		logger.FromContext(ctx).Warn("roster read failed", "room", roomID, "reason", reason, "err", err)
		return
	}
	roster := domain.NewRoster(roomID, withoutConns(parts, exclude))

	if _, err := c.relay.BroadcastToRoom(ctx, roomID, domain.NewUserList(roster), exclude...); err != nil {
		logger.FromContext(ctx).Warn("roster broadcast failed", "room", roomID, "reason", reason, "err", err)
		return
	}
	c.metrics.Roster(roster.Len())

	ev := events.RosterChanged{
		RoomID:     roomID,
		Reason:     reason,
		Users:      roster.Entries(),
		NodeID:     c.nodeID,
		OccurredAt: time.Now().UTC(),
	}
	pubCtx, cancel := context.WithTimeout(ctx, c.publishTimeout)
	defer cancel()
	if err := c.events.PublishRosterChanged(pubCtx, ev); err != nil {
		logger.FromContext(ctx).Warn("publish roster event failed", "room", roomID, "err", err)
	}
}

// reapGhosts drops records of roomID that claim to live on this node but have no
// registered conn, e.g. left behind by a crash. Returns how many were removed.
func (c *Coordinator) reapGhosts(ctx context.Context, roomID string, parts []domain.Participant, self string) int {
	if c.conns == nil {
		return 0
	}
	n := 0
	for _, p := range parts {
		if p.ConnectionID == self {
			continue
		}
		if owner := relay.OwnerOf(p.ConnectionID); owner != "" && owner != c.nodeID {
			continue
		}
		if _, ok := c.conns.Lookup(p.ConnectionID); ok {
			continue
		}
		if err := c.store.Delete(ctx, roomID, p.ConnectionID); err != nil {
			logger.FromContext(ctx).Warn("ghost record delete failed", "room", roomID, "conn", p.ConnectionID, "err", err)
			continue
		}
		n++
	}
	if n > 0 {
		c.metrics.Pruned(n)
		logger.FromContext(ctx).Info("ghost records reaped", "room", roomID, "count", n)
		c.broadcastRoster(ctx, roomID, reasonPrune)
	}
	return n
}

func (c *Coordinator) reply(ctx context.Context, s *Session, roomID, msg string) {
	if err := c.relay.SendTo(ctx, s.id, domain.NewError(roomID, msg)); err != nil {
		logger.FromContext(ctx).Debug("error reply not delivered", "conn", s.id, "err", err)
	}
}

func withoutConns(parts []domain.Participant, exclude []string) []domain.Participant {
	if len(exclude) == 0 {
		return parts
	}
	return slices.DeleteFunc(slices.Clone(parts), func(p domain.Participant) bool {
		return slices.Contains(exclude, p.ConnectionID)
	})
}

func metricType(t string) string {
	switch t {
	case domain.TypeJoinRoom, domain.TypeLeaveRoom, domain.TypeSignal:
		return t
	default:
		return "invalid"
	}
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}

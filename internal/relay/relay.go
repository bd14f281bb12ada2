package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/cwrk-planet/signal-service/internal/domain"
	"github.com/cwrk-planet/signal-service/internal/membership"
	"github.com/cwrk-planet/signal-service/internal/metrics"

	"golang.org/x/sync/errgroup"
)

// PruneObserver is told which room lost records after failed writes.
type PruneObserver func(ctx context.Context, roomID string)

// Relay routes frames to participants resolved through the membership store.
// Delivery is best-effort and at-most-once.
type Relay struct {
	store   membership.Store
	disp    Dispatcher
	metrics *metrics.Metrics
	onPrune PruneObserver

	fanout int
}

type Option func(*Relay)

func WithMetrics(m *metrics.Metrics) Option { return func(r *Relay) { r.metrics = m } }

// WithFanout caps concurrent writes per broadcast.
func WithFanout(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.fanout = n
		}
	}
}

func New(store membership.Store, disp Dispatcher, opts ...Option) *Relay {
	r := &Relay{store: store, disp: disp, fanout: 32}
	for _, o := range opts {
		o(r)
	}
	return r
}

// OnPrune sets the observer. Must be called before the relay is used.
func (r *Relay) OnPrune(fn PruneObserver) { r.onPrune = fn }

// ForwardToParticipant delivers msg to the first record in roomID whose user id matches.
// When the write fails as stale the record is deleted and the returned error matches
// both domain.ErrTargetNotFound and domain.ErrStaleConnection.
func (r *Relay) ForwardToParticipant(ctx context.Context, roomID, targetUserID string, msg domain.Outbound) error {
	frame, err := msg.Encode()
	if err != nil {
		return err
	}

	parts, err := r.store.ListByRoom(ctx, roomID)
	if err != nil {
		return fmt.Errorf("relay.ListByRoom: %w", err)
	}
	target, ok := domain.FindUser(parts, targetUserID)
	if !ok {
		return fmt.Errorf("%w: %s in room %s", domain.ErrTargetNotFound, targetUserID, roomID)
	}

	err = r.disp.Dispatch(ctx, target.ConnectionID, frame)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrStaleConnection) {
		return fmt.Errorf("relay.Dispatch: %w", err)
	}

	if r.prune(ctx, target) {
		r.metrics.Pruned(1)
		r.notify(ctx, roomID)
	}
	return domain.NewStaleTargetError(err)
}

// BroadcastToRoom writes msg to every live record of roomID except the excluded
// connection ids. Each write heals on its own; only the store read can fail the call.
// Returns the number of successful deliveries.
func (r *Relay) BroadcastToRoom(ctx context.Context, roomID string, msg domain.Outbound, exclude ...string) (int, error) {
	frame, err := msg.Encode()
	if err != nil {
		return 0, err
	}

	parts, err := r.store.ListByRoom(ctx, roomID)
	if err != nil {
		return 0, fmt.Errorf("relay.ListByRoom: %w", err)
	}

	var (
		delivered atomic.Int32
		pruned    atomic.Int32
	)
	g := new(errgroup.Group)
	g.SetLimit(r.fanout)

	for _, p := range parts {
		if slices.Contains(exclude, p.ConnectionID) {
			continue
		}
		g.Go(func() error {
			err := r.disp.Dispatch(ctx, p.ConnectionID, frame)
			switch {
			case err == nil:
				delivered.Add(1)
			case errors.Is(err, domain.ErrStaleConnection):
				if r.prune(ctx, p) {
					pruned.Add(1)
				}
			default:
				slog.Warn("relay: broadcast write failed",
					"room", roomID, "conn", p.ConnectionID, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if n := int(pruned.Load()); n > 0 {
		r.metrics.Pruned(n)
		r.notify(ctx, roomID)
	}
	return int(delivered.Load()), nil
}

// SendTo writes msg to one connection without consulting the store.
func (r *Relay) SendTo(ctx context.Context, connectionID string, msg domain.Outbound) error {
	frame, err := msg.Encode()
	if err != nil {
		return err
	}
	return r.disp.Dispatch(ctx, connectionID, frame)
}

// prune reports whether the record was actually removed; only removals reach the observer.
func (r *Relay) prune(ctx context.Context, p domain.Participant) bool {
	if err := r.store.Delete(ctx, p.RoomID, p.ConnectionID); err != nil {
		slog.Warn("relay: prune stale record failed",
			"room", p.RoomID, "conn", p.ConnectionID, "err", err)
		return false
	}
	slog.Debug("relay: pruned stale record", "room", p.RoomID, "conn", p.ConnectionID, "user", p.UserID)
	return true
}

func (r *Relay) notify(ctx context.Context, roomID string) {
	if r.onPrune != nil {
		r.onPrune(ctx, roomID)
	}
}

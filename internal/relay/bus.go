package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cwrk-planet/signal-service/internal/domain"
	"github.com/cwrk-planet/signal-service/internal/metrics"

	"github.com/redis/go-redis/v9"
)

const nodeSep = "."

// ConnectionID builds an id that names the owning node.
func ConnectionID(nodeID, local string) string {
	return nodeID + nodeSep + local
}

// OwnerOf returns the node part of a connection id, or "" when it has none.
func OwnerOf(connectionID string) string {
	node, _, ok := strings.Cut(connectionID, nodeSep)
	if !ok {
		return ""
	}
	return node
}

type busFrame struct {
	Conn  string `json:"conn"`
	Frame []byte `json:"frame"`
}

// RedisBus routes frames for connections owned by other nodes over Redis pub/sub.
// Frames for local connections never leave the process.
type RedisBus struct {
	rdb     redis.UniversalClient
	node    string
	prefix  string
	local   *LocalDispatcher
	metrics *metrics.Metrics

	ready chan struct{}
}

func NewRedisBus(rdb redis.UniversalClient, nodeID, prefix string, local *LocalDispatcher, m *metrics.Metrics) *RedisBus {
	return &RedisBus{
		rdb:     rdb,
		node:    nodeID,
		prefix:  prefix,
		local:   local,
		metrics: m,
		ready:   make(chan struct{}),
	}
}

func (b *RedisBus) NodeID() string { return b.node }

func (b *RedisBus) channel(node string) string {
	return b.prefix + "signal:node:" + node
}

// Ready is closed once Run has an active subscription.
func (b *RedisBus) Ready() <-chan struct{} { return b.ready }

func (b *RedisBus) Dispatch(ctx context.Context, connectionID string, frame []byte) error {
	owner := OwnerOf(connectionID)
	if owner == "" || owner == b.node {
		return b.local.Dispatch(ctx, connectionID, frame)
	}

	payload, err := json.Marshal(busFrame{Conn: connectionID, Frame: frame})
	if err != nil {
		return err
	}
	n, err := b.rdb.Publish(ctx, b.channel(owner), payload).Result()
	if err != nil {
		return fmt.Errorf("bus.Publish: %w", err)
	}
	b.metrics.Bus("out")
	if n == 0 {
		// никто не слушает канал — узел-владелец мёртв
		return fmt.Errorf("%w: node %s is gone", domain.ErrStaleConnection, owner)
	}
	return nil
}

// Run delivers frames published for this node until ctx is done.
func (b *RedisBus) Run(ctx context.Context) error {
	sub := b.rdb.Subscribe(ctx, b.channel(b.node))
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("bus.Subscribe: %w", err)
	}
	close(b.ready)
	slog.Info("relay bus subscribed", "node", b.node, "channel", b.channel(b.node))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.deliver(ctx, msg.Payload)
		}
	}
}

func (b *RedisBus) deliver(ctx context.Context, payload string) {
	var f busFrame
	if err := json.Unmarshal([]byte(payload), &f); err != nil {
		slog.Warn("relay bus: bad frame", "err", err)
		return
	}
	b.metrics.Bus("in")

	err := b.local.Dispatch(ctx, f.Conn, f.Frame)
	if err != nil && !errors.Is(err, domain.ErrStaleConnection) {
		slog.Warn("relay bus: local delivery failed", "conn", f.Conn, "err", err)
		return
	}
	if err != nil {
		// запись подчистит Disconnect владельца
		slog.Debug("relay bus: target gone", "conn", f.Conn)
	}
}

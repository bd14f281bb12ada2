package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/cwrk-planet/signal-service/internal/domain"
)

// Conn — живое соединение транспорта. Send пишет один фрейм как есть.
type Conn interface {
	ID() string
	Send(ctx context.Context, frame []byte) error
	Close() error
}

// Dispatcher delivers a frame to a connection id. A connection that can no longer be
// written to is reported with an error matching domain.ErrStaleConnection.
type Dispatcher interface {
	Dispatch(ctx context.Context, connectionID string, frame []byte) error
}

// LocalDispatcher is the process-local dispatch table connectionID -> Conn.
type LocalDispatcher struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

func NewLocalDispatcher() *LocalDispatcher {
	return &LocalDispatcher{conns: make(map[string]Conn)}
}

func (d *LocalDispatcher) Register(c Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns[c.ID()] = c
}

// Unregister removes c only if it is still the registered conn for its id.
func (d *LocalDispatcher) Unregister(c Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.conns[c.ID()]; ok && cur == c {
		delete(d.conns, c.ID())
	}
}

func (d *LocalDispatcher) Lookup(connectionID string) (Conn, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.conns[connectionID]
	return c, ok
}

func (d *LocalDispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.conns)
}

func (d *LocalDispatcher) Dispatch(ctx context.Context, connectionID string, frame []byte) error {
	c, ok := d.Lookup(connectionID)
	if !ok {
		return fmt.Errorf("%w: no live connection %s", domain.ErrStaleConnection, connectionID)
	}
	return c.Send(ctx, frame)
}

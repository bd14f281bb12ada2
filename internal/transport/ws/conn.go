package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cwrk-planet/signal-service/internal/domain"

	"github.com/gorilla/websocket"
)

// wsConn — relay.Conn поверх gorilla/websocket. Запись синхронная,
// один писатель за раз; любая ошибка записи закрывает соединение.
type wsConn struct {
	conn         *websocket.Conn
	id           string
	writeTimeout time.Duration

	sendMu    chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func newWsConn(c *websocket.Conn, id string, writeTimeout time.Duration) *wsConn {
	return &wsConn{
		conn:         c,
		id:           id,
		writeTimeout: writeTimeout,
		sendMu:       make(chan struct{}, 1),
		closed:       make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(ctx context.Context, frame []byte) error {
	select {
	case c.sendMu <- struct{}{}:
	case <-c.closed:
		return fmt.Errorf("%w: %s closed", domain.ErrStaleConnection, c.id)
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.sendMu }()

	select {
	case <-c.closed:
		return fmt.Errorf("%w: %s closed", domain.ErrStaleConnection, c.id)
	default:
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		_ = c.Close()
		return fmt.Errorf("%w: %v", domain.ErrStaleConnection, err)
	}
	return nil
}

func (c *wsConn) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) Done() <-chan struct{} { return c.closed }

package ws

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cwrk-planet/signal-service/internal/domain"
	"github.com/cwrk-planet/signal-service/internal/relay"
	"github.com/cwrk-planet/signal-service/internal/service"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"
)

type Options struct {
	PingEvery    time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
	// Лимит входящих сообщений на соединение
	RatePerSec float64
	RateBurst  int
}

func (o *Options) defaults() {
	if o.PingEvery <= 0 {
		o.PingEvery = 15 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	if o.RatePerSec <= 0 {
		o.RatePerSec = 50
	}
	if o.RateBurst <= 0 {
		o.RateBurst = 100
	}
}

type Server struct {
	upgrader websocket.Upgrader
	coord    *service.Coordinator
	disp     *relay.LocalDispatcher
	nodeID   string
	opts     Options

	// живые соединения; Shutdown закрывает их и ждёт Disconnect
	mu      sync.Mutex
	live    map[*wsConn]struct{}
	closing bool
	wg      sync.WaitGroup
}

func NewServer(coord *service.Coordinator, disp *relay.LocalDispatcher, nodeID string, opts Options) *Server {
	opts.defaults()
	return &Server{
		coord:  coord,
		disp:   disp,
		nodeID: nodeID,
		opts:   opts,
		live:   make(map[*wsConn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// WS endpoint: GET /ws
// Идентичность приходит в join-room; соединение получает только id.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade сам ответил клиенту
		slog.Warn("ws upgrade failed", "err", err)
		return
	}

	id := relay.ConnectionID(s.nodeID, ulid.Make().String())
	c := newWsConn(conn, id, s.opts.WriteTimeout)
	if !s.track(c) {
		_ = c.Close()
		return
	}
	defer s.untrack(c)
	s.disp.Register(c)
	sess := s.coord.Connect(id)
	slog.Debug("ws connected", "conn", id, "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	go s.writeLoop(ctx, c)
	s.readLoop(ctx, c, sess)

	s.disp.Unregister(c)
	s.coord.Disconnect(ctx, sess)
	if err := c.Close(); err != nil {
		slog.Debug("ws close failed", "conn", id, "err", err)
	}
	slog.Debug("ws disconnected", "conn", id)
}

func (s *Server) track(c *wsConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.live[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *wsConn) {
	s.mu.Lock()
	delete(s.live, c)
	s.mu.Unlock()
	s.wg.Done()
}

// Shutdown closes every live connection and waits until each one has run its
// disconnect cleanup, or ctx is done. New upgrades are refused afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	conns := make([]*wsConn, 0, len(s.live))
	for c := range s.live {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("ws connections drained", "count", len(conns))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) readLoop(ctx context.Context, c *wsConn, sess *service.Session) {
	defer func() { _ = c.Close() }()

	lim := rate.NewLimiter(rate.Limit(s.opts.RatePerSec), s.opts.RateBurst)

	c.conn.SetReadLimit(s.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * s.opts.PingEvery))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * s.opts.PingEvery))
	})

	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("ws read failed", "conn", c.id, "err", err)
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		if !lim.Allow() {
			s.replyError(ctx, c, domain.ErrRateLimited.Error())
			continue
		}
		if !s.handle(ctx, c, sess, data) {
			return
		}
	}
}

// handle returns false when the connection must be dropped.
func (s *Server) handle(ctx context.Context, c *wsConn, sess *service.Session, data []byte) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("ws handler panic",
				"conn", c.id,
				"panic", r,
				"stack", string(debug.Stack()))
			ok = false
		}
	}()

	if err := s.coord.Handle(ctx, sess, data); err != nil {
		slog.Debug("ws message rejected", "conn", c.id, "err", err)
	}
	return true
}

func (s *Server) writeLoop(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(s.opts.PingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.ping(); err != nil {
				_ = c.Close()
				return
			}
		case <-ctx.Done():
			return
		case <-c.Done():
			return
		}
	}
}

func (s *Server) replyError(ctx context.Context, c *wsConn, msg string) {
	frame, err := domain.NewError("", msg).Encode()
	if err != nil {
		return
	}
	_ = c.Send(ctx, frame)
}

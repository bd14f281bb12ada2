// Package relaytest provides an in-memory relay.Conn for tests.
package relaytest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cwrk-planet/signal-service/internal/domain"
)

// Conn records every frame it is sent. A broken Conn fails every write as stale.
type Conn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	broken bool
	closed bool
	notify chan struct{}
}

func NewConn(id string) *Conn {
	return &Conn{id: id, notify: make(chan struct{}, 1024)}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Send(_ context.Context, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken || c.closed {
		return fmt.Errorf("%w: %s", domain.ErrStaleConnection, c.id)
	}
	c.frames = append(c.frames, append([]byte(nil), frame...))
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// Break makes every following write fail.
func (c *Conn) Break() {
	c.mu.Lock()
	c.broken = true
	c.mu.Unlock()
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	copy(out, c.frames)
	return out
}

// Messages decodes every recorded frame.
func (c *Conn) Messages() []Message {
	frames := c.Frames()
	out := make([]Message, 0, len(frames))
	for _, f := range frames {
		var m Message
		if err := json.Unmarshal(f, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// OfType returns recorded messages of one type.
func (c *Conn) OfType(t string) []Message {
	var out []Message
	for _, m := range c.Messages() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

// Last returns the last recorded message of type t.
func (c *Conn) Last(t string) (Message, bool) {
	ms := c.OfType(t)
	if len(ms) == 0 {
		return Message{}, false
	}
	return ms[len(ms)-1], true
}

func (c *Conn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

// WaitFrames blocks until at least n frames are recorded or the timeout passes.
func (c *Conn) WaitFrames(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if len(c.Frames()) >= n {
			return true
		}
		select {
		case <-c.notify:
		case <-deadline:
			return len(c.Frames()) >= n
		}
	}
}

// Message is the decoded form of an outbound frame.
type Message struct {
	Type       string               `json:"type"`
	RoomID     string               `json:"roomId"`
	Users      []domain.RosterEntry `json:"users"`
	FromUserID string               `json:"fromUserId"`
	Signal     json.RawMessage      `json:"signal"`
	Error      string               `json:"error"`
}

func (m Message) UserIDs() []string {
	out := make([]string, 0, len(m.Users))
	for _, u := range m.Users {
		out = append(out, u.UserID)
	}
	return out
}

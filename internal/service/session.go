package service

import (
	"sort"
	"sync"
)

type State int

const (
	StateConnected State = iota
	StateInRoom
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateInRoom:
		return "in_room"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session — состояние протокола одного соединения.
// Источник истины о членстве — store; здесь только локальные флаги.
type Session struct {
	id string

	// opMu упорядочивает операции протокола одной сессии
	opMu sync.Mutex

	mu    sync.Mutex
	state State
	rooms map[string]string // roomID -> userID

	closeOnce sync.Once
}

func newSession(id string) *Session {
	return &Session{id: id, state: StateConnected, rooms: make(map[string]string)}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.rooms))
	for r := range s.rooms {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func (s *Session) closed() bool {
	return s.State() == StateClosed
}

func (s *Session) joined(roomID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.rooms[roomID] = userID
	s.state = StateInRoom
}

func (s *Session) left(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	if s.state == StateInRoom && len(s.rooms) == 0 {
		s.state = StateConnected
	}
}

func (s *Session) markClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
	s.rooms = map[string]string{}
}

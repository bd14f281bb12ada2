package service

import (
	"context"
	"strings"

	"github.com/cwrk-planet/signal-service/internal/domain"
	"github.com/cwrk-planet/signal-service/internal/membership"
)

// MemberService — read-only представление членства для HTTP/gRPC и админских операций.
type MemberService struct {
	store membership.Store
	coord *Coordinator
}

func NewMemberService(store membership.Store, coord *Coordinator) *MemberService {
	return &MemberService{store: store, coord: coord}
}

func (s *MemberService) ListParticipants(ctx context.Context, roomID string) (domain.Roster, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return domain.Roster{}, domain.ErrInvalidInput
	}
	parts, err := s.store.ListByRoom(ctx, roomID)
	if err != nil {
		return domain.Roster{}, err
	}
	return domain.NewRoster(roomID, parts), nil
}

func (s *MemberService) ListConnection(ctx context.Context, connectionID string) ([]domain.Participant, error) {
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return nil, domain.ErrInvalidInput
	}
	return s.store.ListByConnection(ctx, connectionID)
}

func (s *MemberService) Evict(ctx context.Context, connectionID string) ([]string, error) {
	connectionID = strings.TrimSpace(connectionID)
	if connectionID == "" {
		return nil, domain.ErrInvalidInput
	}
	return s.coord.Evict(ctx, connectionID)
}

func (s *MemberService) Capacity() int { return s.coord.Capacity() }

// Ready проверяет, что store отвечает; бекенды без Ping считаются готовыми.
func (s *MemberService) Ready(ctx context.Context) error {
	if p, ok := s.store.(membership.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

package grpcx

import (
	"context"
	"errors"
	"time"

	"github.com/cwrk-planet/signal-service/internal/domain"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type MemberSvc interface {
	ListParticipants(ctx context.Context, roomID string) (domain.Roster, error)
	ListConnection(ctx context.Context, connectionID string) ([]domain.Participant, error)
	Evict(ctx context.Context, connectionID string) ([]string, error)
	Ready(ctx context.Context) error
}

type Server struct {
	memberSvc MemberSvc
}

func NewServer(memberSvc MemberSvc) *Server {
	return &Server{memberSvc: memberSvc}
}

// -------- helpers --------

func participantValue(p domain.Participant) map[string]any {
	return map[string]any{
		"roomId":       p.RoomID,
		"connectionId": p.ConnectionID,
		"userId":       p.UserID,
		"expiresAt":    p.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// -------- methods --------

func (s *Server) ListRoom(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	roster, err := s.memberSvc.ListParticipants(ctx, in.GetValue())
	if err != nil {
		return nil, mapErr(err)
	}
	users := make([]any, 0, roster.Len())
	for _, p := range roster.Participants {
		users = append(users, participantValue(p))
	}

	return structpb.NewStruct(map[string]any{
		"roomId": roster.RoomID,
		"count":  roster.Len(),
		"users":  users,
	})
}

func (s *Server) ListConnection(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	recs, err := s.memberSvc.ListConnection(ctx, in.GetValue())
	if err != nil {
		return nil, mapErr(err)
	}
	rooms := make([]any, 0, len(recs))
	for _, p := range recs {
		rooms = append(rooms, participantValue(p))
	}

	return structpb.NewStruct(map[string]any{
		"connectionId": in.GetValue(),
		"rooms":        rooms,
	})
}

func (s *Server) Evict(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	rooms, err := s.memberSvc.Evict(ctx, in.GetValue())
	if err != nil {
		return nil, mapErr(err)
	}
	list := make([]any, 0, len(rooms))
	for _, r := range rooms {
		list = append(list, r)
	}

	return structpb.NewStruct(map[string]any{
		"connectionId": in.GetValue(),
		"rooms":        list,
	})
}

func (s *Server) Ping(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.memberSvc.Ready(ctx); err != nil {
		return nil, mapErr(err)
	}
	return &emptypb.Empty{}, nil
}

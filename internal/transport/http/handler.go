package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cwrk-planet/signal-service/internal/domain"
	"github.com/cwrk-planet/signal-service/pkg/httputil"

	"github.com/go-chi/chi/v5"
)

type MemberSvc interface {
	ListParticipants(ctx context.Context, roomID string) (domain.Roster, error)
	Capacity() int
	Ready(ctx context.Context) error
}

type Handler struct {
	memberSvc MemberSvc
}

func NewHandler(member MemberSvc) *Handler {
	return &Handler{memberSvc: member}
}

type ParticipantItem struct {
	UserID       string    `json:"userId"`
	ConnectionID string    `json:"connectionId"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type ParticipantsResponse struct {
	RoomID   string            `json:"roomId"`
	Capacity int               `json:"capacity"`
	Count    int               `json:"count"`
	Items    []ParticipantItem `json:"items"`
}

// GET /rooms/{id}/participants
func (h *Handler) GetParticipants(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	roster, err := h.memberSvc.ListParticipants(r.Context(), roomID)
	if err != nil {
		slog.Error("handler.GetParticipants:", slog.Any("err", err), slog.String("room", roomID))
		httputil.Error(r.Context(), w, statusFor(err), err.Error(), nil)
		return
	}

	resp := ParticipantsResponse{
		RoomID:   roster.RoomID,
		Capacity: h.memberSvc.Capacity(),
		Count:    roster.Len(),
		Items:    make([]ParticipantItem, 0, roster.Len()),
	}
	for _, p := range roster.Participants {
		resp.Items = append(resp.Items, ParticipantItem{
			UserID:       p.UserID,
			ConnectionID: p.ConnectionID,
			ExpiresAt:    p.ExpiresAt,
		})
	}

	httputil.OK(w, resp)
}

// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// GET /readyz — store должен отвечать
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.memberSvc.Ready(ctx); err != nil {
		slog.Warn("handler.Ready:", slog.Any("err", err))
		httputil.Error(r.Context(), w, http.StatusServiceUnavailable, "store unavailable", nil)
		return
	}
	httputil.OK(w, map[string]string{"status": "ready"})
}

package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/cwrk-planet/signal-service/internal/domain"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrMalformedEnvelope):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTargetNotFound), errors.Is(err, domain.ErrNotInRoom):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRoomFull):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

package debate

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidFormat       = errors.New("invalid_format")
	ErrAlreadyStarted      = errors.New("debate_already_started")
	ErrSessionNotFound     = errors.New("session_not_found")
	ErrRoomNotFound        = errors.New("room_not_found")
	ErrRoomNotReady        = errors.New("room_not_ready")
	ErrInvalidParticipants = errors.New("invalid_participants")

	errStaleTurn = errors.New("stale_turn")
)

func MapDebateError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, ErrRoomNotFound):
		return http.StatusNotFound, "room_not_found"
	case errors.Is(err, ErrInvalidFormat):
		return http.StatusUnprocessableEntity, "invalid_format"
	case errors.Is(err, ErrAlreadyStarted):
		return http.StatusConflict, "debate_already_started"
	case errors.Is(err, ErrRoomNotReady):
		return http.StatusConflict, "room_not_ready"
	case errors.Is(err, ErrInvalidParticipants):
		return http.StatusBadRequest, "invalid_participants"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"debate-arena/internal/debate"
	"debate-arena/internal/store"

	"github.com/go-chi/chi/v5"
)

type DebateService interface {
	CreateSession(ctx context.Context, roomID string, affirmative, negative store.Participant) (*store.DebateSession, error)
	StartDebate(ctx context.Context, sessionID string) (*store.DebateSession, error)
	AdvanceTurn(ctx context.Context, sessionID string, expectedTurn int) (bool, error)
	FinishDebate(ctx context.Context, sessionID string) (debate.FinishResult, error)
	Session(ctx context.Context, sessionID string) (*store.DebateSession, error)
	SessionFormat(ctx context.Context, sessionID, locale string) ([]store.TurnDescriptor, error)
	ActiveSession(ctx context.Context, roomID string) (*store.DebateSession, error)
}

type DebateHandlers struct {
	svc DebateService
}

func NewDebateHandlers(svc DebateService) *DebateHandlers {
	return &DebateHandlers{svc: svc}
}

func writeDebateError(w http.ResponseWriter, err error) {
	status, code := debate.MapDebateError(err)
	WriteHTTPError(w, status, code)
}

type createSessionRequest struct {
	Affirmative store.Participant `json:"affirmative"`
	Negative    store.Participant `json:"negative"`
}

func (h *DebateHandlers) Create() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		sess, err := h.svc.CreateSession(r.Context(), chi.URLParam(r, "room_id"), req.Affirmative, req.Negative)
		if err != nil {
			writeDebateError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sess)
	}
}

func (h *DebateHandlers) Active() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := h.svc.ActiveSession(r.Context(), chi.URLParam(r, "room_id"))
		if err != nil {
			writeDebateError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func (h *DebateHandlers) Start() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := h.svc.StartDebate(r.Context(), chi.URLParam(r, "session_id"))
		if err != nil {
			writeDebateError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

// CompleteTurn advances the session when it is still on {turn}. A stale turn
// is not an error; the response says advanced=false.
func (h *DebateHandlers) CompleteTurn() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		turn, err := strconv.Atoi(chi.URLParam(r, "turn"))
		if err != nil || turn < 1 {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_turn")
			return
		}
		sessionID := chi.URLParam(r, "session_id")
		advanced, err := h.svc.AdvanceTurn(r.Context(), sessionID, turn)
		if err != nil {
			writeDebateError(w, err)
			return
		}
		sess, err := h.svc.Session(r.Context(), sessionID)
		if err != nil {
			writeDebateError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"advanced": advanced, "session": sess})
	}
}

func (h *DebateHandlers) Finish() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := h.svc.FinishDebate(r.Context(), chi.URLParam(r, "session_id"))
		if err != nil {
			writeDebateError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (h *DebateHandlers) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := h.svc.Session(r.Context(), chi.URLParam(r, "session_id"))
		if err != nil {
			writeDebateError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func (h *DebateHandlers) Format() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		locale := r.URL.Query().Get("locale")
		turns, err := h.svc.SessionFormat(r.Context(), chi.URLParam(r, "session_id"), locale)
		if err != nil {
			writeDebateError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"turns": turns})
	}
}

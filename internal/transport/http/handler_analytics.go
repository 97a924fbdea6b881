package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type AnalyticsHandlers struct {
	svc AnalyticsService
}

func NewAnalyticsHandlers(svc AnalyticsService) *AnalyticsHandlers {
	return &AnalyticsHandlers{svc: svc}
}

func (h *AnalyticsHandlers) UserIssues() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := h.svc.AnalyzeConnectionIssues(r.Context(), chi.URLParam(r, "user_id"), ParseWindow(r))
		if err != nil {
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

func (h *AnalyticsHandlers) UserSessions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		window := ParseWindow(r)
		sessions, err := h.svc.UserConnectionSessions(r.Context(), chi.URLParam(r, "user_id"), window)
		if err != nil {
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user_id":      chi.URLParam(r, "user_id"),
			"window_hours": window.Hours(),
			"sessions":     sessions,
		})
	}
}

func (h *AnalyticsHandlers) Realtime() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := h.svc.RealtimeConnectionStats(r.Context())
		if err != nil {
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func (h *AnalyticsHandlers) Frequent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		window := ParseWindow(r)
		users, err := h.svc.FrequentDisconnectionUsers(r.Context(), window)
		if err != nil {
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"window_hours": window.Hours(), "users": users})
	}
}

func (h *AnalyticsHandlers) Trends() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := h.svc.DisconnectionTrends(r.Context(), ParseWindow(r))
		if err != nil {
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

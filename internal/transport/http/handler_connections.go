package httptransport

import (
	"context"
	"net"
	"net/http"
	"time"

	"debate-arena/internal/connection"
	"debate-arena/internal/store"
)

type ConnectionService interface {
	RecordInitialConnection(ctx context.Context, userID string, c store.ConnectionContext, info connection.ClientInfo) (*store.ConnectionRecord, error)
	HandleDisconnection(ctx context.Context, userID string, c store.ConnectionContext) (*store.ConnectionRecord, error)
	HandleReconnection(ctx context.Context, userID string, c store.ConnectionContext, info connection.ClientInfo) (bool, error)
	UpdateLastSeen(ctx context.Context, userID string, c store.ConnectionContext, info connection.ClientInfo) (*store.ConnectionRecord, error)
	OpenConnection(ctx context.Context, userID string, c store.ConnectionContext, info connection.ClientInfo) (*store.ConnectionRecord, bool, error)
}

type AnalyticsService interface {
	AnalyzeConnectionIssues(ctx context.Context, userID string, window time.Duration) (connection.IssueReport, error)
	UserConnectionSessions(ctx context.Context, userID string, window time.Duration) ([]connection.Session, error)
	RealtimeConnectionStats(ctx context.Context) (connection.RealtimeStats, error)
	FrequentDisconnectionUsers(ctx context.Context, window time.Duration) ([]connection.FrequentUser, error)
	DisconnectionTrends(ctx context.Context, window time.Duration) (connection.TrendReport, error)
}

// clientInfo describes the caller. RemoteAddr has already been rewritten by
// RealIP when a proxy header is present.
func clientInfo(r *http.Request) connection.ClientInfo {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return connection.ClientInfo{UserAgent: r.UserAgent(), IPAddress: ip}
}

type ConnectionHandlers struct {
	svc ConnectionService
}

func NewConnectionHandlers(svc ConnectionService) *ConnectionHandlers {
	return &ConnectionHandlers{svc: svc}
}

// request extracts the acting user and context, writing the error itself when
// either is missing.
func (h *ConnectionHandlers) request(w http.ResponseWriter, r *http.Request) (string, store.ConnectionContext, bool) {
	uid, ok := UserFromContext(r.Context())
	if !ok {
		WriteHTTPError(w, http.StatusUnauthorized, "missing_user")
		return "", store.ConnectionContext{}, false
	}
	c, ok := parseContext(r)
	if !ok {
		WriteHTTPError(w, http.StatusBadRequest, "invalid_context")
		return "", store.ConnectionContext{}, false
	}
	return uid, c, true
}

func (h *ConnectionHandlers) Connect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, c, ok := h.request(w, r)
		if !ok {
			return
		}
		rec, err := h.svc.RecordInitialConnection(r.Context(), uid, c, clientInfo(r))
		if err != nil {
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		if rec == nil {
			WriteHTTPError(w, http.StatusNotFound, "user_not_found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"record": rec})
	}
}

func (h *ConnectionHandlers) Disconnect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, c, ok := h.request(w, r)
		if !ok {
			return
		}
		rec, err := h.svc.HandleDisconnection(r.Context(), uid, c)
		if err != nil {
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"changed": rec != nil, "record": rec})
	}
}

func (h *ConnectionHandlers) Reconnect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, c, ok := h.request(w, r)
		if !ok {
			return
		}
		reconnected, err := h.svc.HandleReconnection(r.Context(), uid, c, clientInfo(r))
		if err != nil {
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"reconnected": reconnected})
	}
}

func (h *ConnectionHandlers) Heartbeat() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid, c, ok := h.request(w, r)
		if !ok {
			return
		}
		rec, err := h.svc.UpdateLastSeen(r.Context(), uid, c, clientInfo(r))
		if err != nil {
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		if rec == nil {
			WriteHTTPError(w, http.StatusNotFound, "user_not_found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"record": rec})
	}
}

package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"debate-arena/internal/connection"
	"debate-arena/internal/events"
	"debate-arena/internal/observability"
	"debate-arena/internal/store"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	presencePingInterval = 20 * time.Second
	presenceReadTimeout  = 60 * time.Second
	presenceWriteTimeout = 10 * time.Second
)

// EventSource is the subscription side of the event hub.
type EventSource interface {
	ReplayAfter(topic, lastEventID string) []events.Event
	Subscribe(topic string) chan events.Event
	Unsubscribe(topic string, ch chan events.Event)
}

type presenceIn struct {
	Type string `json:"type"`
}

type presenceOut struct {
	Type    string        `json:"type"`
	Status  string        `json:"status,omitempty"`
	Context string        `json:"context,omitempty"`
	Error   string        `json:"error,omitempty"`
	Event   *events.Event `json:"event,omitempty"`
}

// PresenceHandler ties one websocket to one (user, context). Opening the
// socket connects the user or resumes a grace period, client pings refresh
// last-seen, and losing the socket starts a grace period. Events of the
// context's topic are streamed to the client.
type PresenceHandler struct {
	conns    ConnectionService
	events   EventSource
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewPresenceHandler(conns ConnectionService, src EventSource, allowAnyOrigin bool, logger zerolog.Logger) *PresenceHandler {
	up := websocket.Upgrader{}
	if allowAnyOrigin {
		up.CheckOrigin = func(*http.Request) bool { return true }
	}
	return &PresenceHandler{
		conns:    conns,
		events:   src,
		upgrader: up,
		log:      logger.With().Str("component", "presence_socket").Logger(),
	}
}

type presenceConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *presenceConn) send(msg presenceOut) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(presenceWriteTimeout))
	return p.conn.WriteMessage(websocket.TextMessage, b)
}

func (p *presenceConn) ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(presenceWriteTimeout))
}

func (h *PresenceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	uid, ok := UserFromContext(r.Context())
	if !ok {
		WriteHTTPError(w, http.StatusUnauthorized, "missing_user")
		return
	}
	q := r.URL.Query()
	c, ok := contextFrom(q.Get("context_type"), q.Get("context_id"))
	if !ok {
		WriteHTTPError(w, http.StatusBadRequest, "invalid_context")
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()
	observability.PresenceSockets.Inc()
	defer observability.PresenceSockets.Dec()

	// The tracker calls outlive the request once the client is gone.
	ctx := context.WithoutCancel(r.Context())
	logger := h.log.With().
		Str("request_id", chimw.GetReqID(r.Context())).
		Str("user_id", uid).
		Str("context", c.String()).
		Logger()
	pc := &presenceConn{conn: ws}
	info := clientInfo(r)

	status, err := h.open(ctx, uid, c, info)
	if err != nil {
		logger.Error().Err(err).Msg("presence open failed")
		_ = pc.send(presenceOut{Type: "error", Error: "internal_error"})
		return
	}
	if status == "" {
		_ = pc.send(presenceOut{Type: "error", Error: "user_not_found"})
		return
	}
	logger.Info().Str("status", status).Msg("presence socket opened")
	if err := pc.send(presenceOut{Type: "welcome", Status: status, Context: c.String()}); err != nil {
		return
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.stream(pc, events.Topic(c.Type, c.ID), q.Get("last_event_id"), done)
	}()

	h.readLoop(ctx, pc, uid, c, info, logger)
	close(done)
	wg.Wait()

	if _, err := h.conns.HandleDisconnection(ctx, uid, c); err != nil {
		logger.Error().Err(err).Msg("presence disconnect failed")
		return
	}
	logger.Info().Msg("presence socket closed")
}

// open resumes a grace period when there is one, otherwise records a fresh
// connection. An empty status means the user is unknown.
func (h *PresenceHandler) open(ctx context.Context, uid string, c store.ConnectionContext, info connection.ClientInfo) (string, error) {
	rec, resumed, err := h.conns.OpenConnection(ctx, uid, c, info)
	if err != nil || rec == nil {
		return "", err
	}
	if resumed {
		return "reconnected", nil
	}
	return "connected", nil
}

func (h *PresenceHandler) readLoop(ctx context.Context, pc *presenceConn, uid string, c store.ConnectionContext, info connection.ClientInfo, logger zerolog.Logger) {
	ws := pc.conn
	_ = ws.SetReadDeadline(time.Now().Add(presenceReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(presenceReadTimeout))
	})
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(presenceReadTimeout))
		var msg presenceIn
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "ping":
			if _, err := h.conns.UpdateLastSeen(ctx, uid, c, info); err != nil {
				logger.Warn().Err(err).Msg("heartbeat failed")
			}
			if err := pc.send(presenceOut{Type: "pong"}); err != nil {
				return
			}
		default:
			logger.Debug().Str("type", msg.Type).Msg("unknown presence message")
		}
	}
}

func (h *PresenceHandler) stream(pc *presenceConn, topic, lastEventID string, done <-chan struct{}) {
	for _, ev := range h.events.ReplayAfter(topic, lastEventID) {
		ev := ev
		if err := pc.send(presenceOut{Type: "event", Event: &ev}); err != nil {
			return
		}
	}
	ch := h.events.Subscribe(topic)
	defer h.events.Unsubscribe(topic, ch)
	ticker := time.NewTicker(presencePingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := pc.send(presenceOut{Type: "event", Event: &ev}); err != nil {
				return
			}
		case <-ticker.C:
			if err := pc.ping(); err != nil {
				return
			}
		}
	}
}

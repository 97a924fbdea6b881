package httptransport

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"debate-arena/internal/config"
	"debate-arena/internal/mcpserver"
	"debate-arena/internal/observability"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Store       Pinger
	Debates     DebateService
	Connections ConnectionService
	Analytics   AnalyticsService
	Events      EventSource
	Config      config.ServerConfig
	Logger      zerolog.Logger
}

func NewRouter(deps Deps) *chi.Mux {
	debates := NewDebateHandlers(deps.Debates)
	conns := NewConnectionHandlers(deps.Connections)
	analytics := NewAnalyticsHandlers(deps.Analytics)
	presence := NewPresenceHandler(deps.Connections, deps.Events, deps.Config.AllowAnyOrigin, deps.Logger)
	mcpSrv := mcpserver.New(deps.Debates, deps.Analytics)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.With(APILogMiddleware()).Get("/healthz", Health(deps.Store))
	r.Handle("/metrics", observability.MetricsHandler())

	r.With(APILogMiddleware()).MethodFunc(http.MethodOptions, "/mcp", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Allow", "GET, POST, DELETE, OPTIONS")
		w.WriteHeader(http.StatusNoContent)
	})
	r.With(APILogMiddleware()).Method(http.MethodPost, "/mcp", mcpSrv.Handler())
	r.With(APILogMiddleware()).Method(http.MethodGet, "/mcp", mcpSrv.Handler())
	r.With(APILogMiddleware()).Method(http.MethodDelete, "/mcp", mcpSrv.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(UserMiddleware())
		r.Use(APILogMiddleware())

		r.Get("/ws", presence.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(BodyCaptureMiddleware(4096))

			r.Post("/rooms/{room_id}/debates", debates.Create())
			r.Get("/rooms/{room_id}/debate", debates.Active())
			r.Post("/debates/{session_id}/start", debates.Start())
			r.Post("/debates/{session_id}/turns/{turn}/complete", debates.CompleteTurn())
			r.Post("/debates/{session_id}/finish", debates.Finish())
			r.Get("/debates/{session_id}", debates.Get())
			r.Get("/debates/{session_id}/format", debates.Format())

			r.Route("/connections/{context_type}/{context_id}", func(r chi.Router) {
				r.Post("/connect", conns.Connect())
				r.Post("/disconnect", conns.Disconnect())
				r.Post("/reconnect", conns.Reconnect())
				r.Post("/heartbeat", conns.Heartbeat())
			})
		})

		r.Route("/analytics", func(r chi.Router) {
			r.Get("/users/{user_id}/issues", analytics.UserIssues())
			r.Get("/users/{user_id}/sessions", analytics.UserSessions())
			r.Get("/realtime", analytics.Realtime())
			r.Get("/frequent", analytics.Frequent())
			r.Get("/trends", analytics.Trends())
		})
	})
	return r
}

func Health(st Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": "store_unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

// LogRoutes prints the registered routes, sorted by path then method.
func LogRoutes(r chi.Router, logger zerolog.Logger) {
	type routeDef struct {
		Method string
		Path   string
	}
	routes := make([]routeDef, 0, 32)
	err := chi.Walk(r, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, routeDef{Method: method, Path: route})
		return nil
	})
	if err != nil {
		logger.Error().Err(err).Msg("walk routes failed")
		return
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path == routes[j].Path {
			return routes[i].Method < routes[j].Method
		}
		return routes[i].Path < routes[j].Path
	})
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Registered routes (%d):\n", len(routes)))
	for _, rt := range routes {
		b.WriteString(fmt.Sprintf("  %-6s %s\n", rt.Method, rt.Path))
	}
	fmt.Print(b.String())
}

package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"debate-arena/internal/connection"
	"debate-arena/internal/debate"
	"debate-arena/internal/store"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type Debates interface {
	Session(ctx context.Context, sessionID string) (*store.DebateSession, error)
	SessionFormat(ctx context.Context, sessionID, locale string) ([]store.TurnDescriptor, error)
	AdvanceTurn(ctx context.Context, sessionID string, expectedTurn int) (bool, error)
}

type Analytics interface {
	AnalyzeConnectionIssues(ctx context.Context, userID string, window time.Duration) (connection.IssueReport, error)
	UserConnectionSessions(ctx context.Context, userID string, window time.Duration) ([]connection.Session, error)
	RealtimeConnectionStats(ctx context.Context) (connection.RealtimeStats, error)
	FrequentDisconnectionUsers(ctx context.Context, window time.Duration) ([]connection.FrequentUser, error)
	DisconnectionTrends(ctx context.Context, window time.Duration) (connection.TrendReport, error)
}

// Server exposes debate state and connection analytics as MCP tools, for AI
// debaters and operator agents.
type Server struct {
	debates   Debates
	analytics Analytics

	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

func New(debates Debates, analytics Analytics) *Server {
	mcpSrv := server.NewMCPServer(
		"debate-arena",
		"0.1.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithRecovery(),
		server.WithResourceRecovery(),
	)
	s := &Server{
		debates:    debates,
		analytics:  analytics,
		mcpServer:  mcpSrv,
		httpServer: server.NewStreamableHTTPServer(mcpSrv, server.WithStateLess(true), server.WithDisableStreaming(true)),
	}
	s.registerDebateTools()
	s.registerAnalyticsTools()
	s.registerResources()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.httpServer
}

func (s *Server) registerResources() {
	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"debate://{session_id}/state",
			"debate_state",
			mcp.WithTemplateDescription("Debate session state by session id"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			raw := request.Params.URI
			if !strings.HasPrefix(raw, "debate://") || !strings.HasSuffix(raw, "/state") {
				return nil, nil
			}
			sessionID := strings.TrimSuffix(strings.TrimPrefix(raw, "debate://"), "/state")
			if sessionID == "" {
				return nil, nil
			}
			sess, err := s.debates.Session(ctx, sessionID)
			if err != nil {
				return nil, err
			}
			payload, err := json.Marshal(sess)
			if err != nil {
				return nil, err
			}
			return []mcp.ResourceContents{
				mcp.TextResourceContents{
					URI:      raw,
					MIMEType: "application/json",
					Text:     string(payload),
				},
			}, nil
		},
	)
}

var _ Debates = (*debate.Coordinator)(nil)

package mcpserver

import (
	"context"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	defaultWindowHours = 24
	maxWindowHours     = 24 * 30
)

func windowArg(request mcp.CallToolRequest) time.Duration {
	hours := request.GetInt("window_hours", defaultWindowHours)
	if hours < 1 {
		hours = 1
	}
	if hours > maxWindowHours {
		hours = maxWindowHours
	}
	return time.Duration(hours) * time.Hour
}

func (s *Server) registerDebateTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_debate",
			mcp.WithDescription("Get a debate session: status, current turn and deadline"),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Debate session id")),
		),
		s.handleGetDebate,
	)
	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_debate_format",
			mcp.WithDescription("Get the turn list a debate runs on"),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Debate session id")),
			mcp.WithString("locale", mcp.Description("Optional locale for turn names, e.g. en or ja")),
		),
		s.handleGetDebateFormat,
	)
	s.mcpServer.AddTool(
		mcp.NewTool(
			"complete_turn",
			mcp.WithDescription("Complete the given turn; a stale turn returns advanced=false"),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Debate session id")),
			mcp.WithNumber("turn", mcp.Required(), mcp.Description("1-based turn being completed")),
		),
		s.handleCompleteTurn,
	)
}

func (s *Server) registerAnalyticsTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"connection_issues",
			mcp.WithDescription("Disconnections and reconnection rate of a user"),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("User id")),
			mcp.WithNumber("window_hours", mcp.Description("Window in hours, default 24, max 720")),
		),
		s.handleConnectionIssues,
	)
	s.mcpServer.AddTool(
		mcp.NewTool(
			"connection_sessions",
			mcp.WithDescription("Connection sessions of a user rebuilt from the log"),
			mcp.WithString("user_id", mcp.Required(), mcp.Description("User id")),
			mcp.WithNumber("window_hours", mcp.Description("Window in hours, default 24, max 720")),
		),
		s.handleConnectionSessions,
	)
	s.mcpServer.AddTool(
		mcp.NewTool(
			"realtime_connection_stats",
			mcp.WithDescription("Current connected and temporarily disconnected counts"),
		),
		s.handleRealtime,
	)
	s.mcpServer.AddTool(
		mcp.NewTool(
			"frequent_disconnectors",
			mcp.WithDescription("Users flagged as frequent disconnectors"),
			mcp.WithNumber("window_hours", mcp.Description("Window in hours, default 24, max 720")),
		),
		s.handleFrequent,
	)
	s.mcpServer.AddTool(
		mcp.NewTool(
			"disconnection_trends",
			mcp.WithDescription("Disconnections by hour of day, client and type"),
			mcp.WithNumber("window_hours", mcp.Description("Window in hours, default 24, max 720")),
		),
		s.handleTrends,
	)
}

func requiredString(request mcp.CallToolRequest, name string) (string, *mcp.CallToolResult) {
	v := strings.TrimSpace(request.GetString(name, ""))
	if v == "" {
		return "", toolError("invalid_request", name+" is required")
	}
	return v, nil
}

func (s *Server) handleGetDebate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResp := requiredString(request, "session_id")
	if errResp != nil {
		return errResp, nil
	}
	sess, err := s.debates.Session(ctx, id)
	if err != nil {
		return mapDomainError(err), nil
	}
	return toolResult(sess), nil
}

func (s *Server) handleGetDebateFormat(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResp := requiredString(request, "session_id")
	if errResp != nil {
		return errResp, nil
	}
	turns, err := s.debates.SessionFormat(ctx, id, request.GetString("locale", ""))
	if err != nil {
		return mapDomainError(err), nil
	}
	return toolResult(map[string]any{"session_id": id, "turns": turns}), nil
}

func (s *Server) handleCompleteTurn(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResp := requiredString(request, "session_id")
	if errResp != nil {
		return errResp, nil
	}
	turn := request.GetInt("turn", 0)
	if turn < 1 {
		return toolError("invalid_request", "turn must be >= 1"), nil
	}
	advanced, err := s.debates.AdvanceTurn(ctx, id, turn)
	if err != nil {
		return mapDomainError(err), nil
	}
	return toolResult(map[string]any{"session_id": id, "turn": turn, "advanced": advanced}), nil
}

func (s *Server) handleConnectionIssues(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, errResp := requiredString(request, "user_id")
	if errResp != nil {
		return errResp, nil
	}
	rep, err := s.analytics.AnalyzeConnectionIssues(ctx, uid, windowArg(request))
	if err != nil {
		return toolError("internal_error", err.Error()), nil
	}
	return toolResult(rep), nil
}

func (s *Server) handleConnectionSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, errResp := requiredString(request, "user_id")
	if errResp != nil {
		return errResp, nil
	}
	sessions, err := s.analytics.UserConnectionSessions(ctx, uid, windowArg(request))
	if err != nil {
		return toolError("internal_error", err.Error()), nil
	}
	return toolResult(map[string]any{"user_id": uid, "sessions": sessions}), nil
}

func (s *Server) handleRealtime(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.analytics.RealtimeConnectionStats(ctx)
	if err != nil {
		return toolError("internal_error", err.Error()), nil
	}
	return toolResult(stats), nil
}

func (s *Server) handleFrequent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	users, err := s.analytics.FrequentDisconnectionUsers(ctx, windowArg(request))
	if err != nil {
		return toolError("internal_error", err.Error()), nil
	}
	return toolResult(map[string]any{"users": users}), nil
}

func (s *Server) handleTrends(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rep, err := s.analytics.DisconnectionTrends(ctx, windowArg(request))
	if err != nil {
		return toolError("internal_error", err.Error()), nil
	}
	return toolResult(rep), nil
}

package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Client calls the external AI service: speech generation for AI turns and
// evaluation of finished debates.
type Client struct {
	baseURL string
	inner   *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		inner:   &http.Client{Timeout: timeout},
	}
}

type responseRequest struct {
	SessionID string `json:"session_id"`
	Turn      int    `json:"turn"`
}

type responseBody struct {
	Text string `json:"text"`
}

type evaluationRequest struct {
	SessionID string `json:"session_id"`
}

func (c *Client) RequestResponse(ctx context.Context, sessionID string, turn int) (string, error) {
	raw, err := c.postJSON(ctx, "/responses", responseRequest{SessionID: sessionID, Turn: turn})
	if err != nil {
		return "", err
	}
	var out responseBody
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.Text, nil
}

func (c *Client) RequestEvaluation(ctx context.Context, sessionID string) error {
	_, err := c.postJSON(ctx, "/evaluations", evaluationRequest{SessionID: sessionID})
	return err
}

func (c *Client) postJSON(ctx context.Context, path string, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.inner.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respRaw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return respRaw, fmt.Errorf("ai service %s status %d", path, resp.StatusCode)
	}
	return respRaw, nil
}

// Noop stands in for the AI service when none is configured. It logs each
// call and returns an empty speech.
type Noop struct {
	Log zerolog.Logger
}

func (n Noop) RequestResponse(_ context.Context, sessionID string, turn int) (string, error) {
	n.Log.Info().Str("session_id", sessionID).Int("turn", turn).Msg("ai service not configured, skipping response")
	return "", nil
}

func (n Noop) RequestEvaluation(_ context.Context, sessionID string) error {
	n.Log.Info().Str("session_id", sessionID).Msg("ai service not configured, skipping evaluation")
	return nil
}

// Package api implements the REST client for the Datopia chat backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"DatopiaChat/internal/auth"
	"DatopiaChat/internal/transcript"
)

// StatusError reports a non-success HTTP status from the backend.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error: %d - %s", e.Status, e.Body)
}

// Client talks to the chat backend. Reads work without a token; every
// write requires one from the token source.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     auth.TokenSource
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
}

// NewClient creates a backend client rooted at baseURL. A nil tracer
// or meter falls back to the global providers.
func NewClient(baseURL string, tokens auth.TokenSource, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) (*Client, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token source cannot be nil")
	}
	if tracer == nil {
		tracer = otel.Tracer("api")
	}
	if meter == nil {
		meter = otel.Meter("api")
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		tokens:     tokens,
		logger:     logger,
		tracer:     tracer,
		meter:      meter,
	}, nil
}

// SendMessage posts content to an existing session and returns the raw
// response envelope. The caller stores the body verbatim; fields this
// client does not know about must survive the round trip.
func (c *Client) SendMessage(ctx context.Context, sessionID, content string) (json.RawMessage, error) {
	body, err := c.post(ctx, "send_message", "/chat/send_message",
		SendMessageRequest{SessionID: sessionID, Content: content}, true)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	c.logger.Info("message sent", "session_id", sessionID, "response_bytes", len(body))
	return json.RawMessage(body), nil
}

// NewSession creates a session from an initial message and returns its
// identifier alongside the raw response envelope.
func (c *Client) NewSession(ctx context.Context, content string) (string, json.RawMessage, error) {
	body, err := c.post(ctx, "new_session", "/chat/send_message",
		SendMessageRequest{Content: content}, true)
	if err != nil {
		return "", nil, err
	}
	var meta sendMeta
	if err := json.Unmarshal(body, &meta); err != nil {
		return "", nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if meta.SessionID == "" {
		return "", nil, fmt.Errorf("no session id in response")
	}
	c.logger.Info("session created", "session_id", meta.SessionID)
	return meta.SessionID, json.RawMessage(body), nil
}

// History fetches the stored transcript for a session. Reads need no
// token.
func (c *Client) History(ctx context.Context, sessionID string) ([]transcript.Turn, error) {
	body, err := c.get(ctx, "get_history", "/chat/get_history/"+url.PathEscape(sessionID))
	if err != nil {
		return nil, err
	}
	var resp HistoryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return resp.Messages, nil
}

// EditMessage rewrites one user turn and returns the full replacement
// transcript. The backend decides how much downstream history the edit
// invalidates.
func (c *Client) EditMessage(ctx context.Context, sessionID string, index int, newContent string) ([]transcript.Turn, error) {
	body, err := c.post(ctx, "edit_message", "/chat/edit_message",
		EditMessageRequest{SessionID: sessionID, MessageIndex: index, NewContent: newContent}, true)
	if err != nil {
		return nil, err
	}
	var resp HistoryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	c.logger.Info("message edited", "session_id", sessionID, "index", index, "turns", len(resp.Messages))
	return resp.Messages, nil
}

// Sessions lists the caller's sessions.
func (c *Client) Sessions(ctx context.Context) ([]SessionInfo, error) {
	body, err := c.get(ctx, "list_sessions", "/chat/sessions")
	if err != nil {
		return nil, err
	}
	var resp SessionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return resp.Sessions, nil
}

// RenameSession changes a session's title.
func (c *Client) RenameSession(ctx context.Context, sessionID, title string) error {
	_, err := c.send(ctx, "rename_session", http.MethodPatch,
		"/chat/sessions/"+url.PathEscape(sessionID), RenameSessionRequest{Title: title}, true)
	return err
}

// DeleteSession removes a session server-side. The local mirror is the
// store's business, not this client's.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := c.send(ctx, "delete_session", http.MethodDelete,
		"/chat/sessions/"+url.PathEscape(sessionID), nil, true)
	return err
}

func (c *Client) post(ctx context.Context, op, path string, payload any, authed bool) ([]byte, error) {
	return c.send(ctx, op, http.MethodPost, path, payload, authed)
}

func (c *Client) get(ctx context.Context, op, path string) ([]byte, error) {
	return c.send(ctx, op, http.MethodGet, path, nil, false)
}

// send performs one backend exchange with tracing and a request
// duration histogram.
func (c *Client) send(ctx context.Context, op, method, path string, payload any, authed bool) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, op)
	defer span.End()

	start := time.Now()

	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if authed {
		token, err := c.tokens.Token()
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	duration := time.Since(start)
	histogram, err := c.meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err == nil {
		histogram.Record(ctx, float64(duration.Milliseconds()))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

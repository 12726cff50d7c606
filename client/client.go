// Package client provides a typed HTTP client for the chat relay server and
// an orchestrator that drives conversations over it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ezhao816/chatrelay/domain"
)

// Client talks to the chat relay HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	// streamClient has no overall deadline; the server holds streaming
	// connections open for the duration of a turn.
	streamClient *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		streamClient: &http.Client{},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *errorBody      `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details"`
}

// doJSON sends a request with an optional JSON body and decodes the success
// envelope into out. Error envelopes become tagged domain errors keyed by
// their wire code.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return domain.NewCancelledError()
		}
		return domain.NewTransportError(err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if ctx.Err() != nil {
			return domain.NewCancelledError()
		}
		return domain.NewTransportError(fmt.Errorf("failed to decode response: %w", err))
	}

	if !env.Success {
		return envelopeError(resp.StatusCode, env.Error)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return domain.NewTransportError(fmt.Errorf("failed to decode response data: %w", err))
		}
	}
	return nil
}

// envelopeError rebuilds a tagged error from the server's error envelope.
func envelopeError(status int, body *errorBody) error {
	if body == nil {
		return domain.NewTransportError(fmt.Errorf("server returned status %d", status))
	}
	switch body.Code {
	case "VALIDATION_ERROR":
		return domain.NewValidationError(body.Message, body.Details)
	case "NOT_FOUND":
		return &domain.Error{Kind: domain.KindNotFound, Message: body.Message, StatusCode: status}
	case "VERIFY_TIMEOUT":
		return &domain.Error{Kind: domain.KindVerificationTimeout, Message: body.Message, StatusCode: status}
	case "AI_ERROR":
		return &domain.Error{Kind: domain.KindProviderStream, Message: body.Message, StatusCode: status}
	}
	return domain.NewInternalError(body.Message, nil)
}

// CreateSession creates a session on the server. The server confirms the
// write is readable before answering.
func (c *Client) CreateSession(ctx context.Context, req domain.CreateSessionRequest) (*domain.Session, error) {
	var session domain.Session
	if err := c.doJSON(ctx, http.MethodPost, "/sessions", req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSession fetches a session by id.
func (c *Client) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var session domain.Session
	if err := c.doJSON(ctx, http.MethodGet, "/sessions/"+id, nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ListSessions fetches all sessions, most recently updated first.
func (c *Client) ListSessions(ctx context.Context) ([]domain.Session, error) {
	var sessions []domain.Session
	if err := c.doJSON(ctx, http.MethodGet, "/sessions", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// UpdateSession applies a partial update to a session.
func (c *Client) UpdateSession(ctx context.Context, id string, req domain.UpdateSessionRequest) (*domain.Session, error) {
	var session domain.Session
	if err := c.doJSON(ctx, http.MethodPatch, "/sessions/"+id, req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// DeleteSession removes a session.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/sessions/"+id, nil, nil)
}

// ClearSessions removes every session.
func (c *Client) ClearSessions(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodDelete, "/sessions", nil, nil)
}

// VerifySession asks the server whether a session is currently readable.
func (c *Client) VerifySession(ctx context.Context, id string) (*domain.VerifyResult, error) {
	var result domain.VerifyResult
	if err := c.doJSON(ctx, http.MethodPost, "/sessions/verify", domain.VerifyRequest{SessionID: id}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StreamChat starts a chat turn and returns the fragment stream. The caller
// must close the stream; cancelling ctx aborts it.
func (c *Client) StreamChat(ctx context.Context, req domain.ChatRequest) (*ChatStream, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil, domain.NewCancelledError()
		}
		return nil, domain.NewTransportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var env envelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return nil, domain.NewTransportError(fmt.Errorf("server returned status %d", resp.StatusCode))
		}
		return nil, envelopeError(resp.StatusCode, env.Error)
	}

	return newChatStream(ctx, resp.Body), nil
}

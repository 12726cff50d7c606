package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ezhao816/chatrelay/domain"
)

// Client streams completions from a Gemini-style generative language API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient creates a new completion client.
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateChunk struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (c generateChunk) text() string {
	var b strings.Builder
	for _, cand := range c.Candidates {
		for _, p := range cand.Content.Parts {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

type errorResponse struct {
	Error *apiError `json:"error"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// translateHistory maps stored turns into the provider's turn format.
// Assistant turns become the provider's "model" role.
func translateHistory(history []domain.Message) []content {
	contents := make([]content, 0, len(history))
	for _, msg := range history {
		role := "user"
		if msg.Role == domain.RoleAssistant {
			role = "model"
		}
		contents = append(contents, content{Role: role, Parts: []part{{Text: msg.Content}}})
	}
	return contents
}

// Open starts a streaming generation request. The returned stream must be
// closed by the caller; cancelling ctx aborts it.
func (c *Client) Open(ctx context.Context, message string, history []domain.Message) (Stream, error) {
	reqBody := generateRequest{
		Contents: append(translateHistory(history), content{
			Role:  "user",
			Parts: []part{{Text: message}},
		}),
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", c.baseURL, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("x-goog-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		var errResp errorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != nil {
			return nil, fmt.Errorf("provider error [%d]: %s (status: %s)", resp.StatusCode, errResp.Error.Message, errResp.Error.Status)
		}
		return nil, fmt.Errorf("provider error [%d]: %s", resp.StatusCode, string(respBody))
	}

	return &sseStream{
		ctx:    ctx,
		body:   resp.Body,
		reader: bufio.NewReader(resp.Body),
	}, nil
}

// sseStream parses data frames off a live SSE response body.
type sseStream struct {
	ctx    context.Context
	body   io.ReadCloser
	reader *bufio.Reader
	done   bool
	closed bool
}

// Recv returns the next non-empty text fragment, or io.EOF when the provider
// has finished. Malformed frames are skipped.
func (s *sseStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for {
		if err := s.ctx.Err(); err != nil {
			return "", err
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				s.done = true
				return "", io.EOF
			}
			return "", fmt.Errorf("failed to read stream: %w", err)
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			s.done = true
			return "", io.EOF
		}

		var chunk generateChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if text := chunk.text(); text != "" {
			return text, nil
		}
	}
}

// Close releases the underlying connection.
func (s *sseStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

package openai

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

	"company-assistant/internal/credential"
	"company-assistant/internal/domain"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the minimal request shape for the Chat Completions endpoint.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
}

// chatResponse is the minimal response shape returned by the Chat Completions endpoint.
type chatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string  `json:"role"`
			Content *string `json:"content"`
			Refusal string  `json:"refusal,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// errorEnvelope is the body OpenAI-compatible servers send with non-2xx responses.
type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
	// Message is the provider's error message when the body could be parsed.
	Message string
}

func (e *HTTPStatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Message)
	}
	return fmt.Sprintf("openai: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused OpenAI-compatible client for chat completions. It
// satisfies usecase.Transport.
type Client struct {
	baseURL    string
	httpClient *http.Client
	credential credential.Source
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client that reads its API key from src on every call,
// so a key fixed at runtime takes effect without a restart.
func NewClient(src credential.Source, opts ...Option) (*Client, error) {
	if src == nil {
		return nil, errors.New("openai: credential source must not be nil")
	}
	c := &Client{
		baseURL:    "https://api.openai.com/v1",
		httpClient: &http.Client{Timeout: 30 * time.Second},
		credential: src,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolvedHTTPClient returns the configured HTTP client, or a default with a
// 30s timeout if none was set.
func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func chatURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

// buildMessages places the preamble in the system slot, then prior turns,
// then the new user message.
func buildMessages(req domain.PromptRequest) []chatMessage {
	msgs := make([]chatMessage, 0, len(req.History)+2)
	if req.SystemPreamble != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.SystemPreamble})
	}
	for _, m := range req.History {
		msgs = append(msgs, chatMessage{Role: string(m.Role), Content: m.Text})
	}
	return append(msgs, chatMessage{Role: "user", Content: req.UserMessage})
}

// Generate sends one chat completion request. Non-2xx responses are returned
// as *HTTPStatusError.
func (c *Client) Generate(ctx context.Context, req domain.PromptRequest) (domain.RawResponse, error) {
	if req.ModelID == "" {
		return domain.RawResponse{}, errors.New("openai: model must not be empty")
	}

	apiKey, err := credential.Resolve(ctx, c.credential)
	if err != nil {
		return domain.RawResponse{}, fmt.Errorf("openai: resolve api key: %w", err)
	}

	temperature := float64(req.Temperature)
	body, err := json.Marshal(chatRequest{
		Model:       req.ModelID,
		Messages:    buildMessages(req),
		Temperature: &temperature,
	})
	if err != nil {
		return domain.RawResponse{}, fmt.Errorf("openai: marshal request: %w", err)
	}

	url := chatURL(c.baseURL)

	httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return domain.RawResponse{}, fmt.Errorf("openai: create request: %w", reqErr)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	raw, err := c.doJSONRequest(httpReq, url)
	if err != nil {
		return domain.RawResponse{}, fmt.Errorf("openai: request failed: %w", err)
	}

	var payload chatResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return domain.RawResponse{}, fmt.Errorf("openai: decode response: %w", decErr)
	}
	if len(payload.Choices) == 0 {
		return domain.RawResponse{}, nil
	}

	choice := payload.Choices[0]
	out := domain.RawResponse{FinishReason: choice.FinishReason}
	if choice.Message.Content != nil {
		out.Text = *choice.Message.Content
		out.HasText = true
	}
	switch {
	case choice.Message.Refusal != "":
		out.ProviderError = "refusal: " + choice.Message.Refusal
	case choice.FinishReason == "content_filter":
		out.ProviderError = "response blocked by content filter"
	}
	return out, nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		statusErr := &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
		var env errorEnvelope
		if json.Unmarshal(buf, &env) == nil {
			statusErr.Message = env.Error.Message
		}
		return nil, statusErr
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

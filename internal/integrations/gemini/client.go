// Package gemini sends prompts to Google's Gemini API through the genai SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"company-assistant/internal/credential"
	"company-assistant/internal/domain"
)

// generateFunc is the single SDK call the client depends on.
type generateFunc func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

// factory builds a generateFunc for an API key.
type factory func(ctx context.Context, apiKey string) (generateFunc, error)

func newSDKFactory(backend genai.Backend) factory {
	return func(ctx context.Context, apiKey string) (generateFunc, error) {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: backend,
		})
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return client.Models.GenerateContent(ctx, model, contents, cfg)
		}, nil
	}
}

// APIError is a Gemini service error reduced to what callers classify on.
type APIError struct {
	Code    int
	Status  string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini: %s (%d): %s", e.Status, e.Code, e.Message)
}

func (e *APIError) HTTPStatusCode() int { return e.Code }

func (e *APIError) ProviderStatus() string { return e.Status }

// Client satisfies usecase.Transport. The SDK client is rebuilt whenever the
// resolved API key changes.
type Client struct {
	credential credential.Source
	newClient  factory

	mu       sync.Mutex
	apiKey   string
	generate generateFunc
}

// NewClient returns a Client for the Gemini Developer API.
func NewClient(src credential.Source) (*Client, error) {
	if src == nil {
		return nil, errors.New("gemini: credential source must not be nil")
	}
	return &Client{credential: src, newClient: newSDKFactory(genai.BackendGeminiAPI)}, nil
}

func (c *Client) client(ctx context.Context) (generateFunc, error) {
	apiKey, err := credential.Resolve(ctx, c.credential)
	if err != nil {
		return nil, fmt.Errorf("gemini: resolve api key: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generate != nil && c.apiKey == apiKey {
		return c.generate, nil
	}
	gen, err := c.newClient(ctx, apiKey)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	c.apiKey, c.generate = apiKey, gen
	return gen, nil
}

// buildContents maps history and the new message to genai turns. The
// assistant role is "model" on this API.
func buildContents(req domain.PromptRequest) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		role := genai.Role(genai.RoleUser)
		if m.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}
	return append(contents, genai.NewContentFromText(req.UserMessage, genai.RoleUser))
}

func (c *Client) Generate(ctx context.Context, req domain.PromptRequest) (domain.RawResponse, error) {
	if req.ModelID == "" {
		return domain.RawResponse{}, errors.New("gemini: model must not be empty")
	}
	generate, err := c.client(ctx)
	if err != nil {
		return domain.RawResponse{}, err
	}

	temp := req.Temperature
	cfg := &genai.GenerateContentConfig{
		Temperature: &temp,
	}
	if req.SystemPreamble != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPreamble, genai.RoleUser)
	}

	res, err := generate(ctx, req.ModelID, buildContents(req), cfg)
	if err != nil {
		return domain.RawResponse{}, wrapError(err)
	}
	return toRawResponse(res), nil
}

func toRawResponse(res *genai.GenerateContentResponse) domain.RawResponse {
	var out domain.RawResponse
	if res == nil {
		return out
	}
	if fb := res.PromptFeedback; fb != nil && fb.BlockReason != "" {
		out.ProviderError = "prompt blocked: " + string(fb.BlockReason)
		if fb.BlockReasonMessage != "" {
			out.ProviderError += ": " + fb.BlockReasonMessage
		}
		return out
	}
	if len(res.Candidates) == 0 {
		return out
	}

	cand := res.Candidates[0]
	out.FinishReason = string(cand.FinishReason)
	switch cand.FinishReason {
	case "", genai.FinishReasonStop, genai.FinishReasonMaxTokens:
	default:
		out.ProviderError = "generation stopped: " + string(cand.FinishReason)
		if cand.FinishMessage != "" {
			out.ProviderError += ": " + cand.FinishMessage
		}
	}
	if cand.Content != nil && len(cand.Content.Parts) > 0 {
		out.Text = res.Text()
		out.HasText = true
	}
	return out
}

// wrapError exposes the HTTP code and status name of SDK errors.
func wrapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("gemini: generate content: %w", &APIError{Code: apiErr.Code, Status: strings.ToUpper(apiErr.Status), Message: apiErr.Message})
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return fmt.Errorf("gemini: generate content: %w", &APIError{Code: apiErrPtr.Code, Status: strings.ToUpper(apiErrPtr.Status), Message: apiErrPtr.Message})
	}
	return fmt.Errorf("gemini: generate content: %w", err)
}

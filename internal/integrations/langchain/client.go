// Package langchain adapts any langchaingo model, such as Azure OpenAI, to the
// assistant transport.
package langchain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"

	"company-assistant/internal/credential"
	"company-assistant/internal/domain"
)

// Builder creates a model bound to an API key.
type Builder func(apiKey string) (llms.Model, error)

// Client satisfies usecase.Transport.
type Client struct {
	credential credential.Source
	build      Builder

	mu     sync.Mutex
	apiKey string
	llm    llms.Model
}

// NewClient wraps a model that already carries its credentials.
func NewClient(llm llms.Model) (*Client, error) {
	if llm == nil {
		return nil, errors.New("langchain: model must not be nil")
	}
	return &Client{llm: llm}, nil
}

// NewKeyedClient resolves the API key from src on every call and rebuilds
// the model when it changes.
func NewKeyedClient(src credential.Source, build Builder) (*Client, error) {
	if src == nil {
		return nil, errors.New("langchain: credential source must not be nil")
	}
	if build == nil {
		return nil, errors.New("langchain: builder must not be nil")
	}
	return &Client{credential: src, build: build}, nil
}

func (c *Client) model(ctx context.Context) (llms.Model, error) {
	if c.build == nil {
		return c.llm, nil
	}
	apiKey, err := credential.Resolve(ctx, c.credential)
	if err != nil {
		return nil, fmt.Errorf("langchain: resolve api key: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.llm != nil && c.apiKey == apiKey {
		return c.llm, nil
	}
	llm, err := c.build(apiKey)
	if err != nil {
		return nil, fmt.Errorf("langchain: create model: %w", err)
	}
	c.apiKey, c.llm = apiKey, llm
	return llm, nil
}

func buildMessages(req domain.PromptRequest) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, len(req.History)+2)
	if req.SystemPreamble != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, req.SystemPreamble))
	}
	for _, m := range req.History {
		role := llms.ChatMessageTypeHuman
		if m.Role == domain.RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		msgs = append(msgs, llms.TextParts(role, m.Text))
	}
	return append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, req.UserMessage))
}

func (c *Client) Generate(ctx context.Context, req domain.PromptRequest) (domain.RawResponse, error) {
	opts := []llms.CallOption{llms.WithTemperature(float64(req.Temperature))}
	if req.ModelID != "" {
		opts = append(opts, llms.WithModel(req.ModelID))
	}

	llm, err := c.model(ctx)
	if err != nil {
		return domain.RawResponse{}, err
	}
	resp, err := llm.GenerateContent(ctx, buildMessages(req), opts...)
	if err != nil {
		return domain.RawResponse{}, fmt.Errorf("langchain: generate content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return domain.RawResponse{}, nil
	}

	choice := resp.Choices[0]
	out := domain.RawResponse{
		Text:         choice.Content,
		HasText:      true,
		FinishReason: choice.StopReason,
	}
	if strings.EqualFold(choice.StopReason, "content_filter") {
		out.ProviderError = "response blocked by content filter"
	}
	return out, nil
}

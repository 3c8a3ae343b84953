package usecase

import (
	"context"

	"company-assistant/internal/domain"
)

// Transport performs one call to a remote model. Implementations must be safe
// for concurrent use and must not retry.
type Transport interface {
	Generate(ctx context.Context, req domain.PromptRequest) (domain.RawResponse, error)
}

// promptInvoker pins the model and temperature for every call.
type promptInvoker struct {
	transport   Transport
	model       string
	temperature float32
}

func (p promptInvoker) invoke(ctx context.Context, req domain.PromptRequest) (domain.RawResponse, error) {
	req.ModelID = p.model
	req.Temperature = p.temperature
	return p.transport.Generate(ctx, req)
}

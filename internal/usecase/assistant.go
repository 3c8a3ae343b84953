package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"company-assistant/internal/credential"
	"company-assistant/internal/domain"
	"company-assistant/internal/knowledge"
	"company-assistant/internal/observability"
)

const (
	DefaultModel       = "gemini-1.5-flash"
	DefaultTemperature = float32(0.5)
	maxTemperature     = 2.0
)

// Options configures BuildAssistant.
type Options struct {
	Credential  credential.Source
	Transport   Transport
	Knowledge   knowledge.Context
	Model       string
	Temperature float32
}

// Assistant runs the guard, assemble, invoke and validate steps for a single
// exchange. It holds no per-conversation state and is safe for concurrent use.
type Assistant struct {
	guard     *ConfigurationGuard
	assembler contextAssembler
	invoker   promptInvoker
}

// BuildAssistant validates opts and returns a ready Assistant. An
// unconfigured credential is not an init error: it is logged here and
// reported as ConfigurationError on every exchange until fixed.
func BuildAssistant(ctx context.Context, opts Options) (*Assistant, error) {
	if opts.Credential == nil {
		return nil, errors.New("usecase: credential source must not be nil")
	}
	if opts.Transport == nil {
		return nil, errors.New("usecase: transport must not be nil")
	}
	if opts.Knowledge.IsZero() {
		return nil, errors.New("usecase: knowledge context must not be empty")
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}
	if opts.Temperature < 0 || opts.Temperature > maxTemperature {
		return nil, fmt.Errorf("usecase: temperature %.2f out of range [0, %.1f]", opts.Temperature, maxTemperature)
	}

	a := &Assistant{
		guard:     NewConfigurationGuard(opts.Credential),
		assembler: contextAssembler{knowledge: opts.Knowledge},
		invoker: promptInvoker{
			transport:   opts.Transport,
			model:       model,
			temperature: opts.Temperature,
		},
	}

	log := observability.LoggerFromContext(ctx).With(
		"model", model,
		"knowledge_version", opts.Knowledge.Version(),
	)
	if status := a.guard.Check(ctx); !status.Configured {
		log.Error("assistant credential is not configured; requests will fail until it is set", "detail", status.Detail)
	} else {
		log.Info("assistant initialized", "detail", status.Detail)
	}
	return a, nil
}

// Status re-runs the configuration check.
func (a *Assistant) Status(ctx context.Context) ConfigurationStatus {
	return a.guard.Check(ctx)
}

// Submit answers req.Message given the caller's history. Every failure is a
// *DomainError.
func (a *Assistant) Submit(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return domain.ChatResponse{}, ErrEmptyMessage
	}
	if status := a.guard.Check(ctx); !status.Configured {
		return domain.ChatResponse{}, a.fail(ctx, fmt.Errorf("%w: %s", ErrNotConfigured, status.Detail))
	}
	return a.exchange(ctx, req.History, message)
}

// exchange assumes the guard already passed for this request.
func (a *Assistant) exchange(ctx context.Context, history []domain.Message, message string) (domain.ChatResponse, error) {
	req := a.assembler.assemble(history, message)
	raw, err := a.invoker.invoke(ctx, req)
	if err != nil {
		return domain.ChatResponse{}, a.fail(ctx, err)
	}
	resp, err := validate(raw)
	if err != nil {
		return domain.ChatResponse{}, a.fail(ctx, err, "finish_reason", raw.FinishReason)
	}
	observability.LoggerFromContext(ctx).Info("assistant reply received",
		"model", a.invoker.model,
		"finish_reason", raw.FinishReason,
		"history_len", len(req.History),
		"message_len", len(message),
		"reply_len", len(resp.Reply),
	)
	return resp, nil
}

func (a *Assistant) fail(ctx context.Context, err error, attrs ...any) *DomainError {
	derr := Classify(err)
	attrs = append([]any{"kind", derr.Kind, "model", a.invoker.model, "err", err}, attrs...)
	observability.LoggerFromContext(ctx).Error("assistant request failed", attrs...)
	return derr
}

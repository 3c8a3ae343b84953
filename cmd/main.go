package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"company-assistant/handler"
	"company-assistant/internal/bootstrap"
	"company-assistant/internal/config"
	"company-assistant/internal/observability"
	"company-assistant/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	observability.Setup(os.Stdout, cfg.LogLevel)

	// ---- Clients and services ----
	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		slog.Error("failed to build assistant", "err", err)
		os.Exit(1)
	}

	sessions, err := usecase.NewSessionService(app.Assistant, app.Store)
	if err != nil {
		slog.Error("failed to create session service", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(app.Assistant, sessions, cfg.MaxMessageLength)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

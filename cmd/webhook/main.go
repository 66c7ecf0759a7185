package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"booking-assistant/handler"
	"booking-assistant/internal/app"
	"booking-assistant/internal/config"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger, err := cfg.Logger(os.Stderr)
	if err != nil {
		slog.Error("failed to create logger", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	// ---- Services ----
	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", "err", err)
		os.Exit(1)
	}
	verifyToken, appSecret, err := a.WebhookSecrets(ctx)
	if err != nil {
		slog.Error("failed to load webhook secrets", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	h, err := handler.NewHandler(a.Messages, verifyToken, handler.WithAppSecret(appSecret))
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

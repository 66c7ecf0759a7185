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

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewReminderHandler(a.Reminders, cfg.ReminderAlertWindow)
	if err != nil {
		slog.Error("failed to create reminder handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

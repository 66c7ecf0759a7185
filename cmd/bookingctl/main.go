package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/viper"

	"booking-assistant/internal/app"
	"booking-assistant/internal/cli"
	"booking-assistant/internal/config"
)

func main() {
	if err := cli.NewRootCmd(load).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func load(ctx context.Context, v *viper.Viper) (*cli.Services, error) {
	cfg, err := config.LoadFrom(v)
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &cli.Services{
		Config:    cfg,
		Slots:     a.Slots,
		States:    a.Store,
		Reminders: a.Reminders,
	}, nil
}

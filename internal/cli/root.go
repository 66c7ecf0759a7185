// Package cli implements bookingctl, the operator CLI.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"booking-assistant/internal/availability"
	"booking-assistant/internal/config"
	"booking-assistant/internal/domain"
	"booking-assistant/internal/repository"
	"booking-assistant/internal/usecase"
)

// SlotLister is the read side of the availability engine.
type SlotLister interface {
	ListSlots(ctx context.Context, q availability.Query, limit int) ([]domain.Slot, error)
}

// Reminders runs the scheduled sweeps on demand.
type Reminders interface {
	SendConfirmations(ctx context.Context) (usecase.ReminderReport, error)
	AlertUnconfirmed(ctx context.Context, window time.Duration) (usecase.ReminderReport, error)
}

// Services are what the commands operate on.
type Services struct {
	Config    config.Config
	Slots     SlotLister
	States    repository.StateStore
	Reminders Reminders
}

// Loader builds Services from the resolved settings in v.
type Loader func(ctx context.Context, v *viper.Viper) (*Services, error)

type runtime struct {
	v      *viper.Viper
	load   Loader
	format string
}

// NewRootCmd returns the bookingctl command tree.
func NewRootCmd(load Loader) *cobra.Command {
	rt := &runtime{v: viper.New(), load: load}
	config.SetDefaults(rt.v)
	rt.v.SetDefault(config.KeyLogFormat, "text")

	cmd := &cobra.Command{
		Use:           "bookingctl",
		Short:         "Operate the appointment booking assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return rt.init(cmd)
		},
	}

	cmd.PersistentFlags().String("config", "", "Config file path (optional).")
	cmd.PersistentFlags().StringVarP(&rt.format, "format", "f", "text", "Output format: json or text")
	cmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")
	cmd.PersistentFlags().String("state-table", "", "DynamoDB table holding conversation state")
	_ = rt.v.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))
	_ = rt.v.BindPFlag(config.KeyLogLevel, cmd.PersistentFlags().Lookup("log-level"))
	_ = rt.v.BindPFlag(config.KeyStateTable, cmd.PersistentFlags().Lookup("state-table"))

	cmd.AddCommand(newSlotsCmd(rt))
	cmd.AddCommand(newStateCmd(rt))
	cmd.AddCommand(newRemindCmd(rt))
	return cmd
}

func (rt *runtime) init(cmd *cobra.Command) error {
	switch rt.format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown format %q", rt.format)
	}

	if cfgFile := strings.TrimSpace(rt.v.GetString("config")); cfgFile != "" {
		rt.v.SetConfigFile(cfgFile)
		if err := rt.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}

	logger, err := config.NewLogger(cmd.ErrOrStderr(), rt.v.GetString(config.KeyLogLevel), rt.v.GetString(config.KeyLogFormat))
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

func (rt *runtime) services(cmd *cobra.Command) (*Services, error) {
	return rt.load(cmd.Context(), rt.v)
}

func (rt *runtime) print(w io.Writer, v any, text func(io.Writer)) error {
	if rt.format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

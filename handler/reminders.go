package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"booking-assistant/internal/usecase"
)

const (
	SweepConfirmations = "confirmations"
	SweepAlerts        = "alerts"
)

// ReminderRunner runs the appointment sweeps.
type ReminderRunner interface {
	SendConfirmations(ctx context.Context) (usecase.ReminderReport, error)
	AlertUnconfirmed(ctx context.Context, window time.Duration) (usecase.ReminderReport, error)
}

// sweepDetail is the constant input configured on the schedule rule.
type sweepDetail struct {
	Sweep string `json:"sweep"`
}

type ReminderHandler struct {
	runner ReminderRunner
	window time.Duration
}

func NewReminderHandler(r ReminderRunner, window time.Duration) (*ReminderHandler, error) {
	if r == nil {
		return nil, errors.New("handler: reminder runner must not be nil")
	}
	return &ReminderHandler{runner: r, window: window}, nil
}

// Handle runs the sweep named in the event detail. An empty detail runs the
// confirmation sweep.
func (h *ReminderHandler) Handle(ctx context.Context, ev events.CloudWatchEvent) (usecase.ReminderReport, error) {
	correlationID := ev.ID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := slog.Default().With("correlation_id", correlationID)

	var detail sweepDetail
	if len(ev.Detail) > 0 {
		if err := json.Unmarshal(ev.Detail, &detail); err != nil {
			return usecase.ReminderReport{}, fmt.Errorf("handler: decode schedule detail: %w", err)
		}
	}

	sweep := strings.ToLower(strings.TrimSpace(detail.Sweep))
	logger.Info("reminder sweep started", "sweep", sweep, "rule", strings.Join(ev.Resources, ","))

	var (
		report usecase.ReminderReport
		err    error
	)
	switch sweep {
	case "", SweepConfirmations:
		report, err = h.runner.SendConfirmations(ctx)
	case SweepAlerts:
		report, err = h.runner.AlertUnconfirmed(ctx, h.window)
	default:
		return usecase.ReminderReport{}, fmt.Errorf("handler: unknown sweep %q", detail.Sweep)
	}
	if err != nil {
		logger.Error("reminder sweep failed", "sweep", sweep, "err", err)
		return usecase.ReminderReport{}, err
	}
	return report, nil
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"booking-assistant/internal/booking"
	"booking-assistant/internal/clock"
	"booking-assistant/internal/dialogue"
	"booking-assistant/internal/domain"
	"booking-assistant/internal/repository"
)

const (
	defaultAlertWindow = 2 * time.Hour
	// serviceWindow is how long after a customer's last message the Cloud API
	// still accepts free-form messages.
	serviceWindow = 24 * time.Hour
)

// EventLister reads existing events back from the shared calendar.
type EventLister interface {
	ListEvents(ctx context.Context, start, end time.Time) ([]domain.CalendarEvent, error)
}

// Labeler renders an instant for patients.
type Labeler interface {
	Label(start time.Time) string
}

// ReminderService runs the scheduled appointment sweeps.
type ReminderService struct {
	calendar      EventLister
	states        repository.StateStore
	sender        MessageSender
	labels        Labeler
	zone          clock.Zone
	clock         clock.Clock
	operatorPhone string
	timeout       time.Duration
	templates     Templates
}

type ReminderOption func(*ReminderService)

// WithTemplates sends reminders and operator alerts as approved templates.
func WithTemplates(t Templates) ReminderOption {
	return func(s *ReminderService) {
		s.templates = t
	}
}

// ReminderReport counts what a sweep did.
type ReminderReport struct {
	Events  int `json:"events"`
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func NewReminderService(cal EventLister, states repository.StateStore, sender MessageSender, labels Labeler, zone clock.Zone, clk clock.Clock, operatorPhone string, timeout time.Duration, opts ...ReminderOption) (*ReminderService, error) {
	if cal == nil {
		return nil, errors.New("usecase: event lister must not be nil")
	}
	if states == nil {
		return nil, errors.New("usecase: state store must not be nil")
	}
	if sender == nil {
		return nil, errors.New("usecase: message sender must not be nil")
	}
	if labels == nil {
		return nil, errors.New("usecase: labeler must not be nil")
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	s := &ReminderService{
		calendar:      cal,
		states:        states,
		sender:        sender,
		labels:        labels,
		zone:          zone,
		clock:         clk,
		operatorPhone: strings.TrimSpace(operatorPhone),
		timeout:       timeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SendConfirmations asks every patient booked for tomorrow to confirm or
// cancel, and moves their conversation to the matching step.
func (s *ReminderService) SendConfirmations(ctx context.Context) (ReminderReport, error) {
	tomorrow := s.zone.Today(s.clock).AddDays(1)
	events, err := s.listEvents(ctx, s.zone.At(tomorrow, 0, 0), s.zone.At(tomorrow.AddDays(1), 0, 0))
	if err != nil {
		return ReminderReport{}, err
	}

	report := ReminderReport{Events: len(events)}
	for _, ev := range events {
		details, ok := booking.ParseDescription(ev.Description)
		if !ok {
			slog.Warn("reminder skipped: no patient on event", "event_id", ev.ID)
			report.Skipped++
			continue
		}
		name := details.CustomerName
		if name == "" {
			name = booking.CustomerFromSummary(ev.Summary)
		}
		label := s.labels.Label(ev.Start)

		state, err := s.states.Load(ctx, details.UserID)
		if err != nil {
			slog.Error("reminder: failed to load state", "user_id", details.UserID, "err", err)
			report.Failed++
			continue
		}
		if !s.reachable(state.UpdatedAt) {
			slog.Warn("reminder skipped: no template and service window closed", "user_id", details.UserID, "last_active", state.UpdatedAt)
			report.Skipped++
			continue
		}
		state = state.With(domain.StepAwaitingAppointmentConfirmOrCancel, map[string]string{
			dialogue.KeyEventID:          ev.ID,
			dialogue.KeyAppointmentLabel: label,
			dialogue.KeyCustomerName:     name,
		})
		if err := s.states.Save(ctx, state); err != nil {
			slog.Error("reminder: failed to save state", "user_id", details.UserID, "err", err)
			report.Failed++
			continue
		}

		if err := s.sendConfirmation(ctx, details.UserID, name, label); err != nil {
			logSendError(details.UserID, err)
			report.Failed++
			continue
		}
		report.Sent++
	}

	slog.Info("confirmation sweep finished", "events", report.Events, "sent", report.Sent, "skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}

// AlertUnconfirmed tells the operator about appointments starting within
// window whose patient has not answered the confirmation prompt.
func (s *ReminderService) AlertUnconfirmed(ctx context.Context, window time.Duration) (ReminderReport, error) {
	if s.operatorPhone == "" {
		return ReminderReport{}, newError(ErrorInvalidInput, "missing_operator_phone", nil)
	}
	if window <= 0 {
		window = defaultAlertWindow
	}
	now := s.clock.Now()
	events, err := s.listEvents(ctx, now, now.Add(window))
	if err != nil {
		return ReminderReport{}, err
	}

	report := ReminderReport{Events: len(events)}
	for _, ev := range events {
		details, ok := booking.ParseDescription(ev.Description)
		if !ok {
			report.Skipped++
			continue
		}
		state, err := s.states.Load(ctx, details.UserID)
		if err != nil {
			slog.Error("alert: failed to load state", "user_id", details.UserID, "err", err)
			report.Failed++
			continue
		}
		if state.Step != domain.StepAwaitingAppointmentConfirmOrCancel || state.Get(dialogue.KeyEventID) != ev.ID {
			report.Skipped++
			continue
		}

		name := state.Get(dialogue.KeyCustomerName)
		if name == "" {
			name = details.UserID
		}
		if err := s.sendAlert(ctx, name, details.UserID, s.labels.Label(ev.Start)); err != nil {
			logSendError(s.operatorPhone, err)
			report.Failed++
			continue
		}
		report.Sent++
	}

	slog.Info("unconfirmed sweep finished", "events", report.Events, "alerts", report.Sent, "failed", report.Failed)
	return report, nil
}

// reachable reports whether a confirmation can be delivered: as a template,
// or free-form while the customer service window is still open.
func (s *ReminderService) reachable(lastActive time.Time) bool {
	if s.templates.Confirmation != "" {
		if _, ok := s.sender.(TemplateSender); ok {
			return true
		}
	}
	return !lastActive.IsZero() && s.clock.Now().Sub(lastActive) < serviceWindow
}

func (s *ReminderService) sendConfirmation(ctx context.Context, to, name, label string) error {
	if sent, err := sendTemplate(ctx, s.sender, to, s.templates.Confirmation, s.templates.Language, []string{name, label}); sent {
		return err
	}
	choice := dialogue.AppointmentChoice(label)
	return s.sender.SendChoice(ctx, to, choice.Prompt, choice.Options)
}

func (s *ReminderService) sendAlert(ctx context.Context, name, userID, label string) error {
	if sent, err := sendTemplate(ctx, s.sender, s.operatorPhone, s.templates.Unconfirmed, s.templates.Language, []string{name, userID, label}); sent {
		return err
	}
	text := fmt.Sprintf("⚠️ %s (%s) ainda não confirmou a consulta de %s.", name, userID, label)
	return s.sender.SendText(ctx, s.operatorPhone, text)
}

func (s *ReminderService) listEvents(ctx context.Context, start, end time.Time) ([]domain.CalendarEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	events, err := s.calendar.ListEvents(ctx, start, end)
	if err != nil {
		return nil, newError(ErrorUpstream, "calendar_list_error", err)
	}
	return events, nil
}

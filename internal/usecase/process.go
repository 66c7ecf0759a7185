package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/oklog/ulid/v2"

	"booking-assistant/internal/availability"
	"booking-assistant/internal/booking"
	"booking-assistant/internal/clock"
	"booking-assistant/internal/dialogue"
	"booking-assistant/internal/domain"
	"booking-assistant/internal/repository"
)

const (
	defaultDaysAhead       = 45
	defaultSlotDuration    = 60
	defaultMaxOfferedSlots = 8
	defaultProviderTimeout = 10 * time.Second
	// maxTransitions bounds how many result inputs one message may feed back.
	maxTransitions = 4
)

// MessageSender delivers outbound chat messages.
type MessageSender interface {
	SendText(ctx context.Context, to, text string) error
	SendChoice(ctx context.Context, to, prompt string, options []domain.ChoiceOption) error
}

// TemplateSender delivers pre-approved templates, the only messages the
// Cloud API accepts outside the 24h customer service window. A
// MessageSender that also implements it gets templated notifications.
type TemplateSender interface {
	SendTemplate(ctx context.Context, to, name, lang string, params []string) error
}

// Templates names the approved templates. An empty name falls back to a
// free-form message.
type Templates struct {
	Language     string
	Confirmation string
	NewBooking   string
	Unconfirmed  string
}

// SlotFinder is the slice of the availability engine the orchestrator uses.
type SlotFinder interface {
	ListSlots(ctx context.Context, q availability.Query, limit int) ([]domain.Slot, error)
	CheckSlot(ctx context.Context, at civil.DateTime, minutes int) (domain.Slot, error)
	Label(start time.Time) string
}

// Booker reserves slots on the shared calendar.
type Booker interface {
	Book(ctx context.Context, req booking.Request) (domain.Appointment, error)
}

// AuditLog records booking metadata.
type AuditLog interface {
	Append(ctx context.Context, rec domain.AuditRecord) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Settings tunes the orchestrator. Zero values fall back to defaults.
type Settings struct {
	DaysAhead       int
	SlotDuration    int
	MaxOfferedSlots int
	ProviderTimeout time.Duration
	OperatorPhone   string
	Templates       Templates
}

func (s Settings) withDefaults() Settings {
	if s.DaysAhead <= 0 {
		s.DaysAhead = defaultDaysAhead
	}
	if s.SlotDuration <= 0 {
		s.SlotDuration = defaultSlotDuration
	}
	if s.MaxOfferedSlots <= 0 {
		s.MaxOfferedSlots = defaultMaxOfferedSlots
	}
	if s.ProviderTimeout <= 0 {
		s.ProviderTimeout = defaultProviderTimeout
	}
	return s
}

// Dependencies groups the collaborators of MessageService.
type Dependencies struct {
	Dedup   repository.DedupGate
	States  repository.StateStore
	Slots   SlotFinder
	Booker  Booker
	Sender  MessageSender
	Audit   AuditLog
	Machine *dialogue.Machine
	Zone    clock.Zone
	Clock   clock.Clock
}

// MessageService runs one inbound message through dedup, the dialogue and
// the side effects it requests.
type MessageService struct {
	deps     Dependencies
	settings Settings
}

// Outcome summarises a processed message.
type Outcome struct {
	Duplicate bool
	Step      domain.Step
	Booked    bool
}

func NewMessageService(deps Dependencies, settings Settings) (*MessageService, error) {
	switch {
	case deps.Dedup == nil:
		return nil, errors.New("usecase: dedup gate must not be nil")
	case deps.States == nil:
		return nil, errors.New("usecase: state store must not be nil")
	case deps.Slots == nil:
		return nil, errors.New("usecase: slot finder must not be nil")
	case deps.Booker == nil:
		return nil, errors.New("usecase: booker must not be nil")
	case deps.Sender == nil:
		return nil, errors.New("usecase: message sender must not be nil")
	case deps.Audit == nil:
		return nil, errors.New("usecase: audit log must not be nil")
	}
	if deps.Machine == nil {
		deps.Machine = dialogue.New(dialogue.Config{})
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	return &MessageService{deps: deps, settings: settings.withDefaults()}, nil
}

// run carries the per-message bookkeeping of Process.
type run struct {
	userID string
	audits []domain.AuditRecord
	booked bool
}

// Process handles one inbound event. A redelivered message id is a silent
// no-op. Once the state is loaded, failures of outbound messages and of the
// audit log are logged and never undo what already happened.
func (s *MessageService) Process(ctx context.Context, ev domain.InboundEvent) (Outcome, error) {
	ev.MessageID = strings.TrimSpace(ev.MessageID)
	ev.UserID = strings.TrimSpace(ev.UserID)
	if ev.MessageID == "" {
		return Outcome{}, newError(ErrorInvalidInput, "missing_message_id", nil)
	}
	if ev.UserID == "" {
		return Outcome{}, newError(ErrorInvalidInput, "missing_user_id", nil)
	}

	admitted, err := s.deps.Dedup.Admit(ctx, ev.MessageID)
	if err != nil {
		return Outcome{}, newError(ErrorInternal, "dedup_error", err)
	}
	if !admitted {
		slog.Info("duplicate message ignored", "message_id", ev.MessageID)
		return Outcome{Duplicate: true}, nil
	}

	state, err := s.deps.States.Load(ctx, ev.UserID)
	if err != nil {
		if relErr := s.deps.Dedup.Release(ctx, ev.MessageID); relErr != nil {
			slog.Error("failed to release dedup marker", "message_id", ev.MessageID, "err", relErr)
		}
		return Outcome{}, newError(ErrorInternal, "state_load_error", err)
	}

	r := &run{userID: ev.UserID}
	in := dialogue.Normalize(ev, s.deps.Zone, s.deps.Clock.Now())
	for i := 0; ; i++ {
		next, actions := s.deps.Machine.Transition(state, in)
		state = next
		result, pending := s.execute(ctx, r, actions)
		if !pending {
			break
		}
		if i+1 >= maxTransitions {
			slog.Warn("transition chain cut short", "user_id", ev.UserID, "step", state.Step)
			break
		}
		in = result
	}

	saveErr := s.deps.States.Save(ctx, state)
	if saveErr != nil && r.booked {
		saveErr = s.saveBooked(ctx, state, saveErr)
	}

	// A booking exists on the calendar whether or not the state was saved.
	for _, rec := range r.audits {
		if err := s.deps.Audit.Append(ctx, rec); err != nil {
			slog.Error("failed to append audit record", "record_id", rec.ID, "event_id", rec.EventID, "err", err)
		}
	}

	if saveErr != nil {
		if errors.Is(saveErr, repository.ErrStateConflict) {
			return Outcome{Booked: r.booked}, newError(ErrorConflict, "state_conflict", saveErr)
		}
		return Outcome{Booked: r.booked}, newError(ErrorInternal, "state_save_error", saveErr)
	}
	return Outcome{Step: state.Step, Booked: r.booked}, nil
}

// saveBooked retries the save of a state that records a completed booking.
// Leaving the pre-booking step behind would read the next message as a
// customer name and book again. On a version conflict the post-booking state
// is written over the latest stored version.
func (s *MessageService) saveBooked(ctx context.Context, state domain.ConversationState, cause error) error {
	slog.Warn("retrying state save after booking", "user_id", state.UserID, "step", state.Step, "err", cause)
	if errors.Is(cause, repository.ErrStateConflict) {
		latest, err := s.deps.States.Load(ctx, state.UserID)
		if err != nil {
			slog.Error("booked state not saved", "user_id", state.UserID, "err", err)
			return cause
		}
		state.Version = latest.Version
	}
	if err := s.deps.States.Save(ctx, state); err != nil {
		slog.Error("booked state not saved", "user_id", state.UserID, "step", state.Step, "err", err)
		return err
	}
	return nil
}

// execute performs actions in order and returns the result input of the
// last effectful one, if any.
func (s *MessageService) execute(ctx context.Context, r *run, actions []dialogue.Action) (dialogue.Input, bool) {
	var (
		result  dialogue.Input
		pending bool
	)
	for _, a := range actions {
		switch act := a.(type) {
		case dialogue.Reply:
			s.sendText(ctx, r.userID, act.Text)
		case dialogue.Choice:
			if err := s.deps.Sender.SendChoice(ctx, r.userID, act.Prompt, act.Options); err != nil {
				logSendError(r.userID, err)
			}
		case dialogue.NotifyOperator:
			s.notifyOperator(ctx, act)
		case dialogue.FindSlots:
			result, pending = s.findSlots(ctx, act), true
		case dialogue.CheckSlot:
			result, pending = s.checkSlot(ctx, act), true
		case dialogue.Book:
			result, pending = s.book(ctx, r, act), true
		default:
			slog.Warn("unknown dialogue action", "type", fmt.Sprintf("%T", a))
		}
	}
	return result, pending
}

func (s *MessageService) findSlots(ctx context.Context, act dialogue.FindSlots) dialogue.Input {
	ctx, cancel := context.WithTimeout(ctx, s.settings.ProviderTimeout)
	defer cancel()

	slots, err := s.deps.Slots.ListSlots(ctx, availability.Query{
		DaysAhead:       s.settings.DaysAhead,
		DurationMinutes: s.settings.SlotDuration,
		Period:          act.Period,
	}, s.settings.MaxOfferedSlots)
	if err != nil {
		slog.Error("failed to list slots", "period", act.Period, "err", err)
		return dialogue.SlotsFailed()
	}
	return dialogue.SlotsFound(slots)
}

func (s *MessageService) checkSlot(ctx context.Context, act dialogue.CheckSlot) dialogue.Input {
	ctx, cancel := context.WithTimeout(ctx, s.settings.ProviderTimeout)
	defer cancel()

	slot, err := s.deps.Slots.CheckSlot(ctx, act.At, s.settings.SlotDuration)
	switch {
	case err == nil:
		return dialogue.SlotChecked(slot, dialogue.SlotCheckFree)
	case errors.Is(err, availability.ErrInPast):
		return dialogue.SlotChecked(slot, dialogue.SlotCheckInPast)
	case errors.Is(err, availability.ErrClosed):
		return dialogue.SlotChecked(slot, dialogue.SlotCheckClosed)
	case errors.Is(err, availability.ErrTaken):
		return dialogue.SlotChecked(slot, dialogue.SlotCheckTaken)
	default:
		slog.Error("failed to check slot", "at", act.At.String(), "err", err)
		return dialogue.SlotChecked(slot, dialogue.SlotCheckFailed)
	}
}

func (s *MessageService) book(ctx context.Context, r *run, act dialogue.Book) dialogue.Input {
	ctx, cancel := context.WithTimeout(ctx, s.settings.ProviderTimeout)
	defer cancel()

	minutes := act.DurationMinutes
	if minutes <= 0 {
		minutes = s.settings.SlotDuration
	}
	appt, err := s.deps.Booker.Book(ctx, booking.Request{
		UserID:          r.userID,
		CustomerName:    act.CustomerName,
		Procedure:       act.Procedure,
		Start:           act.Start,
		DurationMinutes: minutes,
	})
	if err != nil {
		if errors.Is(err, booking.ErrSlotConflict) {
			slog.Info("slot taken before booking", "user_id", r.userID, "start", act.Start)
			return dialogue.BookingFailed(dialogue.FailureConflict)
		}
		slog.Error("failed to book slot", "user_id", r.userID, "start", act.Start, "err", err)
		return dialogue.BookingFailed(dialogue.FailureProvider)
	}

	r.booked = true
	r.audits = append(r.audits, domain.AuditRecord{
		ID:           newAuditID(),
		RecordedAt:   s.deps.Clock.Now(),
		UserID:       r.userID,
		CustomerName: act.CustomerName,
		Procedure:    act.Procedure,
		Start:        appt.Start,
		SlotLabel:    s.deps.Slots.Label(appt.Start),
		EventID:      appt.EventID,
	})
	slog.Info("appointment booked", "user_id", r.userID, "event_id", appt.EventID, "start", appt.Start)
	return dialogue.Booked(appt)
}

func (s *MessageService) sendText(ctx context.Context, to, text string) {
	if err := s.deps.Sender.SendText(ctx, to, text); err != nil {
		logSendError(to, err)
	}
}

func (s *MessageService) notifyOperator(ctx context.Context, act dialogue.NotifyOperator) {
	to := s.settings.OperatorPhone
	if to == "" {
		slog.Warn("operator notification dropped: no operator configured", "text", act.Text)
		return
	}
	if act.Notice == dialogue.NoticeNewBooking {
		if sent, err := sendTemplate(ctx, s.deps.Sender, to, s.settings.Templates.NewBooking, s.settings.Templates.Language, act.Params); sent {
			if err != nil {
				logSendError(to, err)
			}
			return
		}
	}
	s.sendText(ctx, to, act.Text)
}

// sendTemplate sends the named template when one is configured and sender
// supports it. sent is false when the caller should fall back to free text.
func sendTemplate(ctx context.Context, sender MessageSender, to, name, lang string, params []string) (sent bool, err error) {
	if name == "" {
		return false, nil
	}
	ts, ok := sender.(TemplateSender)
	if !ok {
		return false, nil
	}
	return true, ts.SendTemplate(ctx, to, name, lang, params)
}

func logSendError(to string, err error) {
	if status, ok := upstreamStatusCode(err); ok {
		slog.Error("failed to send message", "to", to, "status", status, "err", err)
		return
	}
	slog.Error("failed to send message", "to", to, "err", err)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newAuditID = func() string {
	return ulid.Make().String()
}

package usecase

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/require"

	"booking-assistant/internal/availability"
	"booking-assistant/internal/booking"
	"booking-assistant/internal/clock"
	"booking-assistant/internal/dialogue"
	"booking-assistant/internal/domain"
	"booking-assistant/internal/repository"
)

const (
	testUser     = "5585999990000"
	testOperator = "5585988887777"
)

var testZone = clock.MustLoadZone(clock.DefaultZone)

// Monday 2026-03-09 09:00 in Fortaleza.
var testNow = time.Date(2026, time.March, 9, 12, 0, 0, 0, time.UTC)

type fakeDedup struct {
	seen       map[string]bool
	err        error
	released   []string
	releaseErr error
}

func (f *fakeDedup) Admit(_ context.Context, id string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[id] {
		return false, nil
	}
	f.seen[id] = true
	return true, nil
}

func (f *fakeDedup) Release(_ context.Context, id string) error {
	f.released = append(f.released, id)
	delete(f.seen, id)
	return f.releaseErr
}

type fakeStates struct {
	states  map[string]domain.ConversationState
	loadErr error
	saveErr error
	// failSaves limits saveErr to the first n saves when positive.
	failSaves int
	failed    int
	saves     int
}

func (f *fakeStates) Load(_ context.Context, userID string) (domain.ConversationState, error) {
	if f.loadErr != nil {
		return domain.ConversationState{}, f.loadErr
	}
	if s, ok := f.states[userID]; ok {
		return s.With(s.Step, s.Data), nil
	}
	return domain.NewConversationState(userID), nil
}

func (f *fakeStates) Save(_ context.Context, s domain.ConversationState) error {
	if f.saveErr != nil && (f.failSaves == 0 || f.failed < f.failSaves) {
		f.failed++
		return f.saveErr
	}
	if f.states == nil {
		f.states = map[string]domain.ConversationState{}
	}
	f.saves++
	s.Version++
	f.states[s.UserID] = s
	return nil
}

type sentMessage struct {
	to       string
	text     string
	options  []domain.ChoiceOption
	template string
	lang     string
	params   []string
}

type fakeSender struct {
	sent        []sentMessage
	err         error
	templateErr error
}

func (f *fakeSender) SendTemplate(_ context.Context, to, name, lang string, params []string) error {
	f.sent = append(f.sent, sentMessage{to: to, template: name, lang: lang, params: params})
	return f.templateErr
}

func (f *fakeSender) SendText(_ context.Context, to, text string) error {
	f.sent = append(f.sent, sentMessage{to: to, text: text})
	return f.err
}

func (f *fakeSender) SendChoice(_ context.Context, to, prompt string, options []domain.ChoiceOption) error {
	f.sent = append(f.sent, sentMessage{to: to, text: prompt, options: options})
	return f.err
}

func (f *fakeSender) to(recipient string) []sentMessage {
	var out []sentMessage
	for _, m := range f.sent {
		if m.to == recipient {
			out = append(out, m)
		}
	}
	return out
}

type fakeSlots struct {
	slots    []domain.Slot
	err      error
	checkErr error
	queries  []availability.Query
	limits   []int
}

func (f *fakeSlots) ListSlots(_ context.Context, q availability.Query, limit int) ([]domain.Slot, error) {
	f.queries = append(f.queries, q)
	f.limits = append(f.limits, limit)
	return f.slots, f.err
}

func (f *fakeSlots) CheckSlot(_ context.Context, at civil.DateTime, minutes int) (domain.Slot, error) {
	if f.checkErr != nil {
		return domain.Slot{}, f.checkErr
	}
	start := testZone.ToInstant(at)
	return domain.Slot{Start: start, DurationMinutes: minutes, Label: f.Label(start)}, nil
}

func (f *fakeSlots) Label(start time.Time) string {
	return testZone.Label(start)
}

type fakeBooker struct {
	appt     domain.Appointment
	err      error
	requests []booking.Request
}

func (f *fakeBooker) Book(_ context.Context, req booking.Request) (domain.Appointment, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return domain.Appointment{}, f.err
	}
	appt := f.appt
	appt.Start = req.Start
	appt.DurationMinutes = req.DurationMinutes
	return appt, nil
}

type fakeAudit struct {
	records []domain.AuditRecord
	err     error
}

func (f *fakeAudit) Append(_ context.Context, rec domain.AuditRecord) error {
	f.records = append(f.records, rec)
	return f.err
}

type harness struct {
	dedup  *fakeDedup
	states *fakeStates
	slots  *fakeSlots
	booker *fakeBooker
	sender *fakeSender
	audit  *fakeAudit
	svc    *MessageService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		dedup:  &fakeDedup{},
		states: &fakeStates{},
		slots: &fakeSlots{slots: []domain.Slot{
			{Start: time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC), DurationMinutes: 60, Label: "Ter, 10/03 às 09:00"},
			{Start: time.Date(2026, time.March, 10, 13, 0, 0, 0, time.UTC), DurationMinutes: 60, Label: "Ter, 10/03 às 10:00"},
		}},
		booker: &fakeBooker{appt: domain.Appointment{EventID: "evt-1", Link: "https://calendar.example/evt-1"}},
		sender: &fakeSender{},
		audit:  &fakeAudit{},
	}
	svc, err := NewMessageService(Dependencies{
		Dedup:   h.dedup,
		States:  h.states,
		Slots:   h.slots,
		Booker:  h.booker,
		Sender:  h.sender,
		Audit:   h.audit,
		Machine: dialogue.New(dialogue.Config{MinNameLength: 3}),
		Zone:    testZone,
		Clock:   clock.Fixed{T: testNow},
	}, Settings{OperatorPhone: testOperator})
	require.NoError(t, err)
	h.svc = svc
	return h
}

var msgSeq int

func textEvent(text string) domain.InboundEvent {
	msgSeq++
	return domain.InboundEvent{MessageID: "wamid." + strconv.Itoa(msgSeq), UserID: testUser, Text: text, ReceivedAt: testNow}
}

func (h *harness) step(t *testing.T) domain.Step {
	t.Helper()
	s, err := h.states.Load(context.Background(), testUser)
	require.NoError(t, err)
	return s.Step
}

func expectUsecaseError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var usecaseErr *Error
	require.ErrorAs(t, err, &usecaseErr)
	require.Equal(t, code, usecaseErr.Code)
	require.Equal(t, reason, usecaseErr.Reason)
}

func TestNewMessageService_ValidatesDependencies(t *testing.T) {
	full := Dependencies{
		Dedup: &fakeDedup{}, States: &fakeStates{}, Slots: &fakeSlots{}, Booker: &fakeBooker{},
		Sender: &fakeSender{}, Audit: &fakeAudit{}, Zone: testZone,
	}
	_, err := NewMessageService(full, Settings{})
	require.NoError(t, err)

	for name, mutate := range map[string]func(*Dependencies){
		"dedup":  func(d *Dependencies) { d.Dedup = nil },
		"states": func(d *Dependencies) { d.States = nil },
		"slots":  func(d *Dependencies) { d.Slots = nil },
		"booker": func(d *Dependencies) { d.Booker = nil },
		"sender": func(d *Dependencies) { d.Sender = nil },
		"audit":  func(d *Dependencies) { d.Audit = nil },
	} {
		t.Run(name, func(t *testing.T) {
			d := full
			mutate(&d)
			_, err := NewMessageService(d, Settings{})
			require.Error(t, err)
		})
	}
}

func TestProcess_ValidatesEvent(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Process(context.Background(), domain.InboundEvent{UserID: testUser, Text: "oi"})
	expectUsecaseError(t, err, ErrorInvalidInput, "missing_message_id")

	_, err = h.svc.Process(context.Background(), domain.InboundEvent{MessageID: "m1", Text: "oi"})
	expectUsecaseError(t, err, ErrorInvalidInput, "missing_user_id")
	require.Empty(t, h.sender.sent)
}

func TestProcess_GreetingSendsMenu(t *testing.T) {
	h := newHarness(t)
	out, err := h.svc.Process(context.Background(), textEvent("Oi"))
	require.NoError(t, err)
	require.False(t, out.Duplicate)
	require.Equal(t, domain.StepMenu, out.Step)

	require.Len(t, h.sender.sent, 1)
	require.Equal(t, testUser, h.sender.sent[0].to)
	require.GreaterOrEqual(t, len(h.sender.sent[0].options), 4)
	require.Equal(t, 1, h.states.saves)
}

func TestProcess_DuplicateIsNoOp(t *testing.T) {
	h := newHarness(t)
	ev := textEvent("1")

	first, err := h.svc.Process(context.Background(), ev)
	require.NoError(t, err)
	require.False(t, first.Duplicate)
	sentAfterFirst := len(h.sender.sent)

	second, err := h.svc.Process(context.Background(), ev)
	require.NoError(t, err)
	require.True(t, second.Duplicate)

	require.Equal(t, 1, h.states.saves)
	require.Len(t, h.sender.sent, sentAfterFirst)
	require.Equal(t, domain.StepAwaitingPeriodPreference, h.step(t))
}

func TestProcess_FullBookingFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Process(ctx, textEvent("1"))
	require.NoError(t, err)
	require.Equal(t, domain.StepAwaitingPeriodPreference, h.step(t))

	_, err = h.svc.Process(ctx, textEvent("manhã"))
	require.NoError(t, err)
	require.Equal(t, domain.StepAwaitingSlotChoice, h.step(t))
	require.Equal(t, []availability.Query{{DaysAhead: 45, DurationMinutes: 60, Period: domain.PeriodMorning}}, h.slots.queries)
	require.Equal(t, []int{8}, h.slots.limits)
	last := h.sender.sent[len(h.sender.sent)-1]
	require.Len(t, last.options, 2)

	_, err = h.svc.Process(ctx, textEvent("1"))
	require.NoError(t, err)
	require.Equal(t, domain.StepAwaitingSlotConfirmation, h.step(t))

	_, err = h.svc.Process(ctx, textEvent("sim"))
	require.NoError(t, err)
	require.Equal(t, domain.StepAwaitingCustomerName, h.step(t))

	out, err := h.svc.Process(ctx, textEvent("Ana Silva"))
	require.NoError(t, err)
	require.True(t, out.Booked)
	require.Equal(t, domain.StepAwaitingPostBookingFollowUp, out.Step)

	require.Len(t, h.booker.requests, 1)
	req := h.booker.requests[0]
	require.Equal(t, testUser, req.UserID)
	require.Equal(t, "Ana Silva", req.CustomerName)
	require.Equal(t, dialogue.DefaultProcedure, req.Procedure)
	require.True(t, req.Start.Equal(h.slots.slots[0].Start))
	require.Equal(t, 60, req.DurationMinutes)

	require.Len(t, h.audit.records, 1)
	rec := h.audit.records[0]
	require.Equal(t, "evt-1", rec.EventID)
	require.Equal(t, "Ana Silva", rec.CustomerName)
	require.Equal(t, "10/03/2026 09:00", rec.SlotLabel)
	require.NotEmpty(t, rec.ID)

	require.Len(t, h.sender.to(testOperator), 1)
	require.Contains(t, h.sender.to(testOperator)[0].text, "Ana Silva")
}

func TestProcess_BookingConflictWritesNoAudit(t *testing.T) {
	h := newHarness(t)
	h.booker.err = booking.ErrSlotConflict
	h.states.states = map[string]domain.ConversationState{
		testUser: domain.NewConversationState(testUser).With(domain.StepAwaitingCustomerName, map[string]string{
			"selected_start": "2026-03-10T09:00:00-03:00", "selected_duration": "60", "selected_label": "Ter, 10/03 às 09:00",
		}),
	}

	out, err := h.svc.Process(context.Background(), textEvent("Ana Silva"))
	require.NoError(t, err)
	require.False(t, out.Booked)
	require.Equal(t, domain.StepMenu, out.Step)
	require.Empty(t, h.audit.records)
	require.Empty(t, h.sender.to(testOperator))
	require.Contains(t, h.sender.sent[0].text, "ocupado")
}

func TestProcess_ProviderFailureDuringBooking(t *testing.T) {
	h := newHarness(t)
	h.booker.err = &booking.ProviderError{Op: "create event", Err: context.DeadlineExceeded}
	h.states.states = map[string]domain.ConversationState{
		testUser: domain.NewConversationState(testUser).With(domain.StepAwaitingCustomerName, map[string]string{
			"selected_start": "2026-03-10T09:00:00-03:00", "selected_duration": "60",
		}),
	}

	out, err := h.svc.Process(context.Background(), textEvent("Ana Silva"))
	require.NoError(t, err)
	require.Equal(t, domain.StepMenu, out.Step)
	require.Empty(t, h.audit.records)
}

func TestProcess_SlotLookupFailureReturnsToMenu(t *testing.T) {
	h := newHarness(t)
	h.slots.err = errors.New("calendar down")
	h.states.states = map[string]domain.ConversationState{
		testUser: domain.NewConversationState(testUser).With(domain.StepAwaitingPeriodPreference, nil),
	}

	out, err := h.svc.Process(context.Background(), textEvent("tarde"))
	require.NoError(t, err)
	require.Equal(t, domain.StepMenu, out.Step)
	require.Contains(t, h.sender.sent[0].text, "Desculpe")
}

func TestProcess_TypedDateIsChecked(t *testing.T) {
	h := newHarness(t)
	h.states.states = map[string]domain.ConversationState{
		testUser: domain.NewConversationState(testUser).With(domain.StepAwaitingPeriodPreference, nil),
	}

	out, err := h.svc.Process(context.Background(), textEvent("12/03 às 15h"))
	require.NoError(t, err)
	require.Equal(t, domain.StepAwaitingSlotConfirmation, out.Step)
	require.Contains(t, h.sender.sent[0].text, "12/03/2026 15:00")

	h.slots.checkErr = availability.ErrClosed
	h.states.states[testUser] = domain.NewConversationState(testUser).With(domain.StepAwaitingPeriodPreference, nil)
	out, err = h.svc.Process(context.Background(), textEvent("15/03 às 10h"))
	require.NoError(t, err)
	require.Equal(t, domain.StepAwaitingPeriodPreference, out.Step)
}

func TestProcess_LoadFailureReleasesMarker(t *testing.T) {
	h := newHarness(t)
	h.states.loadErr = errors.New("dynamodb down")
	ev := textEvent("oi")

	_, err := h.svc.Process(context.Background(), ev)
	expectUsecaseError(t, err, ErrorInternal, "state_load_error")
	require.Equal(t, []string{ev.MessageID}, h.dedup.released)
	require.Empty(t, h.sender.sent)

	h.states.loadErr = nil
	out, err := h.svc.Process(context.Background(), ev)
	require.NoError(t, err)
	require.False(t, out.Duplicate)
}

func TestProcess_DedupAndSaveErrors(t *testing.T) {
	h := newHarness(t)
	h.dedup.err = errors.New("throttled")
	_, err := h.svc.Process(context.Background(), textEvent("oi"))
	expectUsecaseError(t, err, ErrorInternal, "dedup_error")

	h = newHarness(t)
	h.states.saveErr = repository.ErrStateConflict
	_, err = h.svc.Process(context.Background(), textEvent("oi"))
	expectUsecaseError(t, err, ErrorConflict, "state_conflict")

	h = newHarness(t)
	h.states.saveErr = errors.New("write failed")
	_, err = h.svc.Process(context.Background(), textEvent("oi"))
	expectUsecaseError(t, err, ErrorInternal, "state_save_error")
}

type statusErr struct{ code int }

func (e statusErr) Error() string       { return "status " + strconv.Itoa(e.code) }
func (e statusErr) HTTPStatusCode() int { return e.code }

func TestProcess_SenderAndAuditFailuresDoNotAbort(t *testing.T) {
	h := newHarness(t)
	h.sender.err = statusErr{code: http.StatusUnauthorized}
	h.audit.err = errors.New("sheets quota")
	h.states.states = map[string]domain.ConversationState{
		testUser: domain.NewConversationState(testUser).With(domain.StepAwaitingCustomerName, map[string]string{
			"selected_start": "2026-03-10T09:00:00-03:00", "selected_duration": "60",
		}),
	}

	out, err := h.svc.Process(context.Background(), textEvent("Ana Silva"))
	require.NoError(t, err)
	require.True(t, out.Booked)
	require.Equal(t, domain.StepAwaitingPostBookingFollowUp, h.step(t))
	require.Len(t, h.audit.records, 1)
}

func TestProcess_NoOperatorConfigured(t *testing.T) {
	h := newHarness(t)
	h.svc.settings.OperatorPhone = ""
	_, err := h.svc.Process(context.Background(), textEvent("5"))
	require.NoError(t, err)
	for _, m := range h.sender.sent {
		require.Equal(t, testUser, m.to)
	}
	require.True(t, strings.Contains(h.sender.sent[0].text, "Dra."))
}

func bookingReadyState() domain.ConversationState {
	return domain.NewConversationState(testUser).With(domain.StepAwaitingCustomerName, map[string]string{
		"selected_start": "2026-03-10T09:00:00-03:00", "selected_duration": "60", "selected_label": "Ter, 10/03 às 09:00",
	})
}

func TestProcess_SaveRetriedAfterBooking(t *testing.T) {
	for name, saveErr := range map[string]error{
		"write failure":    errors.New("write failed"),
		"version conflict": repository.ErrStateConflict,
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.states.states = map[string]domain.ConversationState{testUser: bookingReadyState()}
			h.states.saveErr = saveErr
			h.states.failSaves = 1

			out, err := h.svc.Process(context.Background(), textEvent("Ana Silva"))
			require.NoError(t, err)
			require.True(t, out.Booked)
			require.Equal(t, domain.StepAwaitingPostBookingFollowUp, h.step(t))
			require.Len(t, h.audit.records, 1)

			_, err = h.svc.Process(context.Background(), textEvent("sim"))
			require.NoError(t, err)
			require.Len(t, h.booker.requests, 1, "a follow-up reply must not book again")
			require.Equal(t, domain.StepMenu, h.step(t))
		})
	}
}

func TestProcess_BookedStateNotSavedStillAudits(t *testing.T) {
	h := newHarness(t)
	h.states.states = map[string]domain.ConversationState{testUser: bookingReadyState()}
	h.states.saveErr = errors.New("write failed")

	out, err := h.svc.Process(context.Background(), textEvent("Ana Silva"))
	expectUsecaseError(t, err, ErrorInternal, "state_save_error")
	require.True(t, out.Booked)
	require.Equal(t, 2, h.states.failed, "one retry after the booking")
	require.Len(t, h.audit.records, 1)
	require.Equal(t, "evt-1", h.audit.records[0].EventID)
}

func TestProcess_SaveFailureWithoutBookingIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.states.saveErr = errors.New("write failed")
	_, err := h.svc.Process(context.Background(), textEvent("oi"))
	expectUsecaseError(t, err, ErrorInternal, "state_save_error")
	require.Equal(t, 1, h.states.failed)
	require.Empty(t, h.audit.records)
}

func TestProcess_NewBookingUsesOperatorTemplate(t *testing.T) {
	h := newHarness(t)
	h.svc.settings.Templates = Templates{Language: "pt_BR", NewBooking: "nova_consulta_admin_utilidade"}
	h.states.states = map[string]domain.ConversationState{testUser: bookingReadyState()}

	_, err := h.svc.Process(context.Background(), textEvent("Ana Silva"))
	require.NoError(t, err)

	toOperator := h.sender.to(testOperator)
	require.Len(t, toOperator, 1)
	require.Equal(t, "nova_consulta_admin_utilidade", toOperator[0].template)
	require.Equal(t, "pt_BR", toOperator[0].lang)
	require.Equal(t, []string{"Ana Silva", testUser, "Ter, 10/03 às 09:00"}, toOperator[0].params)
}

func TestProcess_HandoffStaysFreeText(t *testing.T) {
	h := newHarness(t)
	h.svc.settings.Templates = Templates{NewBooking: "nova_consulta_admin_utilidade"}

	_, err := h.svc.Process(context.Background(), textEvent("5"))
	require.NoError(t, err)
	toOperator := h.sender.to(testOperator)
	require.Len(t, toOperator, 1)
	require.Empty(t, toOperator[0].template)
	require.Contains(t, toOperator[0].text, testUser)
}

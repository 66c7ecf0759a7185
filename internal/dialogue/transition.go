// Package dialogue holds the booking conversation as a pure state machine.
// Transition never performs I/O; it returns the next state and the actions
// the orchestrator must carry out.
package dialogue

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"booking-assistant/internal/domain"
)

// Data keys shared with the reminder sweeps.
const (
	KeyProcedure        = "procedure"
	KeyCustomerName     = "customer_name"
	KeyEventID          = "event_id"
	KeyAppointmentLabel = "appointment_label"
)

const (
	keyPeriod           = "period"
	keySlotCount        = "slot_count"
	keySelectedStart    = "selected_start"
	keySelectedDuration = "selected_duration"
	keySelectedLabel    = "selected_label"
)

const defaultMinNameLength = 3

// Config tunes the machine.
type Config struct {
	MinNameLength int
}

// Machine evaluates transitions under a Config.
type Machine struct {
	minName int
}

// New returns a Machine. Zero values fall back to defaults.
func New(cfg Config) *Machine {
	m := &Machine{minName: cfg.MinNameLength}
	if m.minName <= 0 {
		m.minName = defaultMinNameLength
	}
	return m
}

var (
	yesWords = []string{"sim", "s", "confirmo", "confirmar", "pode", "ok", "claro", "isso", "yes"}
	noWords  = []string{"nao", "n", "no", "agora nao"}
	// cancelWords are the quick-reply payloads of the reminder template.
	cancelWords = []string{"desmarcar", "cancelar", "nao"}
)

// Transition computes the next state and the actions for one input. It is
// total: every combination of known step and input yields a known step.
func (m *Machine) Transition(state domain.ConversationState, in Input) (domain.ConversationState, []Action) {
	if state.Data == nil {
		state.Data = map[string]string{}
	}
	if !state.Step.Known() {
		state = state.Reset()
	}

	if in.Kind == KindCommand {
		switch in.Command {
		case CommandEnd:
			return state.Reset(), []Action{Reply{Text: textFarewell}}
		case CommandMenu:
			return state.Reset(), []Action{menuChoice()}
		}
	}

	switch state.Step {
	case domain.StepServiceMenu:
		return m.serviceMenu(state, in)
	case domain.StepAwaitingProcedureConfirmation:
		return m.procedureConfirmation(state, in)
	case domain.StepAwaitingPeriodPreference:
		return m.periodPreference(state, in)
	case domain.StepAwaitingSlotChoice:
		return m.slotChoice(state, in)
	case domain.StepAwaitingSlotConfirmation:
		return m.slotConfirmation(state, in)
	case domain.StepAwaitingCustomerName:
		return m.customerName(state, in)
	case domain.StepAwaitingPostBookingFollowUp:
		return m.followUp(state, in)
	case domain.StepAwaitingAppointmentConfirmOrCancel:
		return m.appointmentConfirmOrCancel(state, in)
	default:
		return m.menu(state, in)
	}
}

func (m *Machine) menu(state domain.ConversationState, in Input) (domain.ConversationState, []Action) {
	switch {
	case option(in, 1, "agend", "marcar", "consulta"):
		return startBooking(state, DefaultProcedure)
	case option(in, 2, "procediment", "servico", "tratamento"):
		return state.With(domain.StepServiceMenu, nil), []Action{serviceChoice()}
	case option(in, 3, "valor", "preco", "orcamento", "quanto"):
		return state, []Action{Reply{Text: textPrices}}
	case option(in, 4, "endereco", "horario", "local", "onde"):
		return state, []Action{Reply{Text: textAddress}}
	case option(in, 5, "doutora", "dra", "falar", "atendente"):
		return state.With(domain.StepAwaitingPostBookingFollowUp, nil), []Action{
			Reply{Text: textHandoff},
			NotifyOperator{Text: operatorHandoffText(state.UserID)},
			yesNoChoice(textFollowUp),
		}
	case in.Kind == KindEmpty:
		return state, []Action{menuChoice()}
	}
	return state, reprompt(menuChoice())
}

func (m *Machine) serviceMenu(state domain.ConversationState, in Input) (domain.ConversationState, []Action) {
	if p, ok := pickProcedure(in); ok {
		data := map[string]string{KeyProcedure: p.Name}
		return state.With(domain.StepAwaitingProcedureConfirmation, data), []Action{procedureChoice(p)}
	}
	if isNo(in) || mentions(in, "voltar") {
		return state.Reset(), []Action{menuChoice()}
	}
	return state, reprompt(serviceChoice())
}

func (m *Machine) procedureConfirmation(state domain.ConversationState, in Input) (domain.ConversationState, []Action) {
	switch {
	case isYes(in):
		procedure := state.Get(KeyProcedure)
		if procedure == "" {
			procedure = DefaultProcedure
		}
		return startBooking(state, procedure)
	case isNo(in):
		return state.Reset(), []Action{menuChoice()}
	}
	if p, ok := findProcedure(state.Get(KeyProcedure)); ok {
		return state, reprompt(procedureChoice(p))
	}
	return state, reprompt(yesNoChoice("Deseja agendar uma avaliação?"))
}

func (m *Machine) periodPreference(state domain.ConversationState, in Input) (domain.ConversationState, []Action) {
	switch in.Kind {
	case KindSlotsFound:
		if len(in.Slots) == 0 {
			return state, []Action{periodChoice(textNoSlots)}
		}
		data := copyData(state.Data)
		labels := storeSlots(data, in.Slots)
		return state.With(domain.StepAwaitingSlotChoice, data), []Action{slotChoice(labels)}
	case KindSlotsFailed:
		return state.Reset(), []Action{Reply{Text: textSlotsFailed}, menuChoice()}
	case KindSlotChecked:
		return m.slotChecked(state, in, periodChoice(""))
	}

	if in.At != nil {
		return state, []Action{CheckSlot{At: *in.At}}
	}
	if p, ok := pickPeriod(in); ok {
		data := copyData(state.Data)
		data[keyPeriod] = string(p)
		return state.With(domain.StepAwaitingPeriodPreference, data), []Action{FindSlots{Period: p}}
	}
	return state, reprompt(periodChoice(""))
}

func (m *Machine) slotChoice(state domain.ConversationState, in Input) (domain.ConversationState, []Action) {
	count, _ := strconv.Atoi(state.Get(keySlotCount))
	if count <= 0 {
		return state.With(domain.StepAwaitingPeriodPreference, procedureOnly(state)), []Action{periodChoice("")}
	}
	switch in.Kind {
	case KindSlotChecked:
		return m.slotChecked(state, in, slotChoice(storedLabels(state, count)))
	case KindSlotsFound, KindSlotsFailed, KindBooked, KindBookingFailed:
		return state, []Action{slotChoice(storedLabels(state, count))}
	}

	if in.At != nil {
		return state, []Action{CheckSlot{At: *in.At}}
	}
	if idx, ok := slotIndex(in); ok {
		if idx < 1 || idx > count {
			return state, []Action{Reply{Text: fmt.Sprintf(textInvalidSlotFmt, count)}}
		}
		slot, ok := storedSlot(state, idx)
		if !ok {
			return state.Reset(), []Action{Reply{Text: textBookingFailed}, menuChoice()}
		}
		return selectSlot(state, slot)
	}
	if mentions(in, "outro", "periodo", "voltar") {
		return state.With(domain.StepAwaitingPeriodPreference, procedureOnly(state)), []Action{periodChoice("")}
	}
	return state, []Action{Reply{Text: textUseListOrType}, slotChoice(storedLabels(state, count))}
}

func (m *Machine) slotChecked(state domain.ConversationState, in Input, fallback Choice) (domain.ConversationState, []Action) {
	switch in.Check {
	case SlotCheckFree:
		return selectSlot(state, in.Slot)
	case SlotCheckFailed:
		return state.Reset(), []Action{Reply{Text: textSlotsFailed}, menuChoice()}
	default:
		return state, []Action{Reply{Text: slotCheckText(in.Check)}, fallback}
	}
}

func (m *Machine) slotConfirmation(state domain.ConversationState, in Input) (domain.ConversationState, []Action) {
	switch {
	case isYes(in):
		return state.With(domain.StepAwaitingCustomerName, state.Data), []Action{Reply{Text: textAskName}}
	case isNo(in):
		return state.With(domain.StepAwaitingPeriodPreference, procedureOnly(state)), []Action{periodChoice("")}
	}
	return state, reprompt(slotConfirmChoice(state.Get(keySelectedLabel)))
}

func (m *Machine) customerName(state domain.ConversationState, in Input) (domain.ConversationState, []Action) {
	switch in.Kind {
	case KindBooked:
		name := state.Get(KeyCustomerName)
		label := state.Get(keySelectedLabel)
		data := map[string]string{
			KeyEventID:          in.Appointment.EventID,
			KeyAppointmentLabel: label,
			KeyCustomerName:     name,
		}
		return state.With(domain.StepAwaitingPostBookingFollowUp, data), []Action{
			Reply{Text: bookedText(name, label)},
			NotifyOperator{
				Text:   operatorBookedText(state.UserID, name, state.Get(KeyProcedure), label),
				Notice: NoticeNewBooking,
				Params: []string{name, state.UserID, label},
			},
			yesNoChoice(textFollowUp),
		}
	case KindBookingFailed:
		text := textBookingFailed
		if in.Failure == FailureConflict {
			text = textSlotTaken
		}
		return state.Reset(), []Action{Reply{Text: text}, menuChoice()}
	case KindText:
	default:
		return state, []Action{Reply{Text: textAskName}}
	}

	name := strings.Join(strings.Fields(in.Raw), " ")
	if !validName(name, m.minName) {
		return state, []Action{Reply{Text: textNameInvalid}}
	}
	start, err := time.Parse(time.RFC3339, state.Get(keySelectedStart))
	if err != nil {
		return state.Reset(), []Action{Reply{Text: textBookingFailed}, menuChoice()}
	}
	minutes, _ := strconv.Atoi(state.Get(keySelectedDuration))
	procedure := state.Get(KeyProcedure)
	if procedure == "" {
		procedure = DefaultProcedure
	}

	data := copyData(state.Data)
	data[KeyCustomerName] = name
	return state.With(domain.StepAwaitingCustomerName, data), []Action{Book{
		Start:           start,
		DurationMinutes: minutes,
		CustomerName:    name,
		Procedure:       procedure,
	}}
}

func (m *Machine) followUp(state domain.ConversationState, in Input) (domain.ConversationState, []Action) {
	switch {
	case isYes(in):
		return state.Reset(), []Action{menuChoice()}
	case isNo(in) || mentions(in, "obrigad", "so isso"):
		return state.Reset(), []Action{Reply{Text: textFarewell}}
	}
	return state, reprompt(yesNoChoice(textFollowUp))
}

func (m *Machine) appointmentConfirmOrCancel(state domain.ConversationState, in Input) (domain.ConversationState, []Action) {
	label := state.Get(KeyAppointmentLabel)
	switch {
	case in.Selection == optAppointmentConfirm || in.Number == 1 || isYes(in) || selected(in, yesWords...):
		return state.Reset(), []Action{Reply{Text: textConfirmedAppt}}
	case in.Selection == optAppointmentCancel || in.Number == 2 || mentions(in, "desmarcar") || isNo(in) || selected(in, cancelWords...):
		return state.Reset(), []Action{
			Reply{Text: textCancelledAppt},
			NotifyOperator{Text: operatorCancelText(state.UserID, state.Get(KeyCustomerName), label)},
		}
	}
	return state, reprompt(appointmentChoice(label))
}

func startBooking(state domain.ConversationState, procedure string) (domain.ConversationState, []Action) {
	data := map[string]string{KeyProcedure: procedure}
	return state.With(domain.StepAwaitingPeriodPreference, data), []Action{periodChoice("")}
}

func selectSlot(state domain.ConversationState, slot domain.Slot) (domain.ConversationState, []Action) {
	data := procedureOnly(state)
	data[keySelectedStart] = slot.Start.Format(time.RFC3339)
	data[keySelectedDuration] = strconv.Itoa(slot.DurationMinutes)
	data[keySelectedLabel] = slot.Label
	return state.With(domain.StepAwaitingSlotConfirmation, data), []Action{slotConfirmChoice(slot.Label)}
}

func reprompt(c Choice) []Action {
	return []Action{Reply{Text: textNotUnderstood}, c}
}

// option matches a numbered menu entry by typed number, tapped id or keyword.
func option(in Input, n int, keywords ...string) bool {
	if in.Kind != KindText && in.Kind != KindSelection {
		return false
	}
	if in.Number == n {
		return true
	}
	return in.Kind == KindText && in.Number == 0 && mentions(in, keywords...)
}

// mentions reports whether the folded text contains any of the fragments.
func mentions(in Input, fragments ...string) bool {
	if in.Kind != KindText {
		return false
	}
	for _, f := range fragments {
		if strings.Contains(in.Text, f) {
			return true
		}
	}
	return false
}

func isYes(in Input) bool {
	if in.Kind == KindSelection {
		return in.Selection == optYes
	}
	return in.Kind == KindText && matchesAny(in, yesWords)
}

// selected reports whether a tapped template button carries one of words as
// its payload. Template buttons echo their label, not one of our ids.
func selected(in Input, words ...string) bool {
	if in.Kind != KindSelection {
		return false
	}
	payload := Fold(in.Selection)
	for _, w := range words {
		if payload == w {
			return true
		}
	}
	return false
}

func isNo(in Input) bool {
	if in.Kind == KindSelection {
		return in.Selection == optNo
	}
	return in.Kind == KindText && matchesAny(in, noWords)
}

// matchesAny accepts a message that is one of words, or a short message
// starting with one of them ("sim, pode ser").
func matchesAny(in Input, words []string) bool {
	for _, w := range words {
		if in.Text == w {
			return true
		}
		if len(in.Tokens) <= commandWindow && strings.HasPrefix(in.Text, w+" ") {
			return true
		}
	}
	return false
}

func pickPeriod(in Input) (domain.Period, bool) {
	switch in.Kind {
	case KindSelection:
		switch in.Selection {
		case optPeriodMorning:
			return domain.PeriodMorning, true
		case optPeriodAfternoon:
			return domain.PeriodAfternoon, true
		case optPeriodAny:
			return domain.PeriodAny, true
		}
		return "", false
	case KindText:
	default:
		return "", false
	}
	switch {
	case in.Number == 1 || mentions(in, "manha", "cedo"):
		return domain.PeriodMorning, true
	case in.Number == 2 || mentions(in, "tarde"):
		return domain.PeriodAfternoon, true
	case in.Number == 3 || mentions(in, "qualquer", "tanto faz", "indiferente"):
		return domain.PeriodAny, true
	}
	return "", false
}

func pickProcedure(in Input) (Procedure, bool) {
	n := 0
	switch in.Kind {
	case KindSelection:
		n, _ = strconv.Atoi(strings.TrimPrefix(in.Selection, optProcedurePrefix))
	case KindText:
		n = in.Number
		if n == 0 {
			for _, p := range procedures {
				for _, k := range p.Keywords {
					if containsPhrase(in.Tokens, k) {
						return p, true
					}
				}
			}
		}
	}
	if n >= 1 && n <= len(procedures) {
		return procedures[n-1], true
	}
	return Procedure{}, false
}

func findProcedure(name string) (Procedure, bool) {
	for _, p := range procedures {
		if p.Name == name {
			return p, true
		}
	}
	return Procedure{}, false
}

func slotIndex(in Input) (int, bool) {
	switch in.Kind {
	case KindSelection:
		if !strings.HasPrefix(in.Selection, optSlotPrefix) {
			return 0, false
		}
		n, err := strconv.Atoi(strings.TrimPrefix(in.Selection, optSlotPrefix))
		return n, err == nil
	case KindText:
		return in.Number, in.Number > 0
	}
	return 0, false
}

func validName(name string, minLen int) bool {
	if utf8.RuneCountInString(name) < minLen {
		return false
	}
	for _, r := range name {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func slotKey(i int) string      { return "slot_" + strconv.Itoa(i) }
func slotLabelKey(i int) string { return slotKey(i) + "_label" }
func slotMinKey(i int) string   { return slotKey(i) + "_minutes" }

func storeSlots(data map[string]string, slots []domain.Slot) []string {
	labels := make([]string, len(slots))
	for i, s := range slots {
		n := i + 1
		data[slotKey(n)] = s.Start.Format(time.RFC3339)
		data[slotLabelKey(n)] = s.Label
		data[slotMinKey(n)] = strconv.Itoa(s.DurationMinutes)
		labels[i] = s.Label
	}
	data[keySlotCount] = strconv.Itoa(len(slots))
	return labels
}

func storedSlot(state domain.ConversationState, i int) (domain.Slot, bool) {
	start, err := time.Parse(time.RFC3339, state.Get(slotKey(i)))
	if err != nil {
		return domain.Slot{}, false
	}
	minutes, err := strconv.Atoi(state.Get(slotMinKey(i)))
	if err != nil {
		return domain.Slot{}, false
	}
	return domain.Slot{Start: start, DurationMinutes: minutes, Label: state.Get(slotLabelKey(i))}, true
}

func storedLabels(state domain.ConversationState, count int) []string {
	labels := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		labels = append(labels, state.Get(slotLabelKey(i)))
	}
	return labels
}

func procedureOnly(state domain.ConversationState) map[string]string {
	data := map[string]string{}
	if p := state.Get(KeyProcedure); p != "" {
		data[KeyProcedure] = p
	}
	return data
}

func copyData(data map[string]string) map[string]string {
	cp := make(map[string]string, len(data))
	for k, v := range data {
		cp[k] = v
	}
	return cp
}

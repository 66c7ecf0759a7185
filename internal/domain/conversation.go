package domain

import "time"

// Step is the named position of a user's conversation in the booking dialogue.
type Step string

const (
	StepMenu                               Step = "menu"
	StepServiceMenu                        Step = "service_menu"
	StepAwaitingProcedureConfirmation      Step = "awaiting_procedure_confirmation"
	StepAwaitingPeriodPreference           Step = "awaiting_period_preference"
	StepAwaitingSlotChoice                 Step = "awaiting_slot_choice"
	StepAwaitingSlotConfirmation           Step = "awaiting_slot_confirmation"
	StepAwaitingCustomerName               Step = "awaiting_customer_name"
	StepAwaitingPostBookingFollowUp        Step = "awaiting_post_booking_follow_up"
	StepAwaitingAppointmentConfirmOrCancel Step = "awaiting_appointment_confirm_or_cancel"
)

var knownSteps = map[Step]struct{}{
	StepMenu:                               {},
	StepServiceMenu:                        {},
	StepAwaitingProcedureConfirmation:      {},
	StepAwaitingPeriodPreference:           {},
	StepAwaitingSlotChoice:                 {},
	StepAwaitingSlotConfirmation:           {},
	StepAwaitingCustomerName:               {},
	StepAwaitingPostBookingFollowUp:        {},
	StepAwaitingAppointmentConfirmOrCancel: {},
}

// Known reports whether s is part of the dialogue's state set.
func (s Step) Known() bool {
	_, ok := knownSteps[s]
	return ok
}

// Steps returns every known step.
func Steps() []Step {
	return []Step{
		StepMenu,
		StepServiceMenu,
		StepAwaitingProcedureConfirmation,
		StepAwaitingPeriodPreference,
		StepAwaitingSlotChoice,
		StepAwaitingSlotConfirmation,
		StepAwaitingCustomerName,
		StepAwaitingPostBookingFollowUp,
		StepAwaitingAppointmentConfirmOrCancel,
	}
}

// ConversationState is the persisted per-user dialogue state.
type ConversationState struct {
	UserID    string
	Step      Step
	Data      map[string]string
	Version   int64
	UpdatedAt time.Time
}

// NewConversationState returns the initial state for a user.
func NewConversationState(userID string) ConversationState {
	return ConversationState{
		UserID: userID,
		Step:   StepMenu,
		Data:   map[string]string{},
	}
}

// Reset returns the logical reset of s: menu step with empty data.
// Version is preserved so optimistic writes still line up.
func (s ConversationState) Reset() ConversationState {
	s.Step = StepMenu
	s.Data = map[string]string{}
	return s
}

// With returns a copy of s at step with data replaced by a copy of data.
func (s ConversationState) With(step Step, data map[string]string) ConversationState {
	cp := make(map[string]string, len(data))
	for k, v := range data {
		cp[k] = v
	}
	s.Step = step
	s.Data = cp
	return s
}

// Get returns the data value for key, or "" when absent.
func (s ConversationState) Get(key string) string {
	if s.Data == nil {
		return ""
	}
	return s.Data[key]
}

package dialogue

import (
	"time"

	"cloud.google.com/go/civil"

	"booking-assistant/internal/domain"
)

// Action is an effect requested by a transition. The orchestrator executes
// actions in order; FindSlots, CheckSlot and Book produce a result Input
// that is fed back into Transition.
type Action interface {
	action()
}

// Reply sends plain text to the user.
type Reply struct {
	Text string
}

// Choice sends a prompt with selectable options.
type Choice struct {
	Prompt  string
	Options []domain.ChoiceOption
}

// FindSlots asks for upcoming free slots in a period.
type FindSlots struct {
	Period domain.Period
}

// CheckSlot asks whether a user-typed date and time is bookable.
type CheckSlot struct {
	At civil.DateTime
}

// Book asks for the selected slot to be reserved.
type Book struct {
	Start           time.Time
	DurationMinutes int
	CustomerName    string
	Procedure       string
}

// NotifyOperator forwards a message to the clinic's operator. Notice tags
// messages that have an approved template, filled in order by Params.
type NotifyOperator struct {
	Text   string
	Notice Notice
	Params []string
}

// Notice identifies an operator message with a template counterpart.
type Notice int

const (
	NoticeNone Notice = iota
	// NoticeNewBooking carries the customer name, phone and slot label.
	NoticeNewBooking
)

func (Reply) action()          {}
func (Choice) action()         {}
func (FindSlots) action()      {}
func (CheckSlot) action()      {}
func (Book) action()           {}
func (NotifyOperator) action() {}

// Effectful reports whether a produces a result input.
func Effectful(a Action) bool {
	switch a.(type) {
	case FindSlots, CheckSlot, Book:
		return true
	}
	return false
}

package domain

import "time"

// InboundEvent is a provider-agnostic inbound chat message. Text and
// InteractionID are mutually optional.
type InboundEvent struct {
	MessageID     string
	UserID        string
	Text          string
	InteractionID string
	ReceivedAt    time.Time
}

// ChoiceOption is a selectable option offered to the user.
type ChoiceOption struct {
	ID    string
	Label string
}

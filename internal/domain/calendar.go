package domain

import "time"

// Period restricts availability to part of the business day.
type Period string

const (
	PeriodAny       Period = "any"
	PeriodMorning   Period = "morning"
	PeriodAfternoon Period = "afternoon"
)

// Slot is a bookable window validated against business hours and the
// calendar's busy data at generation time.
type Slot struct {
	Start           time.Time
	DurationMinutes int
	Label           string
}

// End returns the instant the slot finishes.
func (s Slot) End() time.Time {
	return s.Start.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// BusyInterval is a time range the external calendar reports as occupied.
type BusyInterval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether b intersects the half-open range [start, end).
func (b BusyInterval) Overlaps(start, end time.Time) bool {
	return b.Start.Before(end) && b.End.After(start)
}

// Appointment is an opaque handle to an event created on the external calendar.
type Appointment struct {
	EventID         string
	Link            string
	Start           time.Time
	DurationMinutes int
}

// CalendarEvent is an existing event read back from the external calendar.
type CalendarEvent struct {
	ID          string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// AuditRecord is one row of booking metadata.
type AuditRecord struct {
	ID           string
	RecordedAt   time.Time
	UserID       string
	CustomerName string
	Procedure    string
	Start        time.Time
	SlotLabel    string
	EventID      string
}

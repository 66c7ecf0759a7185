// Package booking reserves a slot on the shared calendar.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"booking-assistant/internal/domain"
)

var (
	// ErrSlotConflict means the slot was taken between offer and booking.
	ErrSlotConflict   = errors.New("booking: slot conflict")
	ErrInvalidRequest = errors.New("booking: invalid request")
)

// ProviderError wraps a calendar failure, including timeouts.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("booking: %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Policy decides who guards against double booking.
type Policy string

const (
	// PolicyVerify re-checks the window right before creating the event.
	PolicyVerify Policy = "verify"
	// PolicyProvider leaves overlap handling to the calendar provider.
	PolicyProvider Policy = "provider"
)

// ParsePolicy accepts "verify" or "provider"; empty means verify.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyVerify, nil
	case PolicyVerify, PolicyProvider:
		return p, nil
	default:
		return "", fmt.Errorf("booking: unknown conflict policy %q", s)
	}
}

type EventCreator interface {
	CreateEvent(ctx context.Context, summary, description string, start time.Time, durationMinutes int) (domain.Appointment, error)
}

type FreeChecker interface {
	IsFree(ctx context.Context, start time.Time, durationMinutes int) (bool, error)
}

type Request struct {
	UserID          string
	CustomerName    string
	Procedure       string
	Start           time.Time
	DurationMinutes int
}

func (r Request) validate() error {
	switch {
	case strings.TrimSpace(r.UserID) == "":
		return fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	case strings.TrimSpace(r.CustomerName) == "":
		return fmt.Errorf("%w: customer name is required", ErrInvalidRequest)
	case r.Start.IsZero():
		return fmt.Errorf("%w: start is required", ErrInvalidRequest)
	case r.DurationMinutes <= 0:
		return fmt.Errorf("%w: duration must be positive", ErrInvalidRequest)
	}
	return nil
}

type Coordinator struct {
	calendar EventCreator
	checker  FreeChecker
	policy   Policy
}

func NewCoordinator(cal EventCreator, checker FreeChecker, policy Policy) (*Coordinator, error) {
	if cal == nil {
		return nil, errors.New("booking: calendar must not be nil")
	}
	if policy == "" {
		policy = PolicyVerify
	}
	if policy == PolicyVerify && checker == nil {
		return nil, errors.New("booking: free checker is required by the verify policy")
	}
	return &Coordinator{calendar: cal, checker: checker, policy: policy}, nil
}

// Book creates the calendar event for req. It never retries; a failed
// creation leaves nothing behind on the coordinator's side.
func (c *Coordinator) Book(ctx context.Context, req Request) (domain.Appointment, error) {
	if err := req.validate(); err != nil {
		return domain.Appointment{}, err
	}

	if c.policy == PolicyVerify {
		free, err := c.checker.IsFree(ctx, req.Start, req.DurationMinutes)
		if err != nil {
			return domain.Appointment{}, &ProviderError{Op: "verify slot", Err: err}
		}
		if !free {
			return domain.Appointment{}, ErrSlotConflict
		}
	}

	appt, err := c.calendar.CreateEvent(ctx, Summary(req.CustomerName), Description(req), req.Start, req.DurationMinutes)
	if err != nil {
		if errors.Is(err, domain.ErrCalendarConflict) {
			return domain.Appointment{}, ErrSlotConflict
		}
		return domain.Appointment{}, &ProviderError{Op: "create event", Err: err}
	}
	if appt.Start.IsZero() {
		appt.Start = req.Start
	}
	if appt.DurationMinutes == 0 {
		appt.DurationMinutes = req.DurationMinutes
	}
	return appt, nil
}

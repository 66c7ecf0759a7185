// Package availability enumerates bookable slots by intersecting business
// hours with the external calendar's busy data.
package availability

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"cloud.google.com/go/civil"

	"booking-assistant/internal/clock"
	"booking-assistant/internal/domain"
	"booking-assistant/internal/schedule"
)

var (
	ErrInPast = errors.New("availability: start is not in the future")
	ErrClosed = errors.New("availability: outside business hours")
	ErrTaken  = errors.New("availability: window is busy")
)

// BusyQuerier reports the occupied intervals of the shared calendar.
type BusyQuerier interface {
	QueryBusy(ctx context.Context, start, end time.Time) ([]domain.BusyInterval, error)
}

// Query selects which slots FindSlots enumerates.
type Query struct {
	DaysAhead       int
	DurationMinutes int
	Period          domain.Period
}

type Engine struct {
	calendar BusyQuerier
	rules    *schedule.Rules
	zone     clock.Zone
	clock    clock.Clock
}

func New(cal BusyQuerier, rules *schedule.Rules, zone clock.Zone, clk clock.Clock) (*Engine, error) {
	if cal == nil {
		return nil, errors.New("availability: calendar must not be nil")
	}
	if rules == nil {
		return nil, errors.New("availability: rules must not be nil")
	}
	if clk == nil {
		return nil, errors.New("availability: clock must not be nil")
	}
	return &Engine{calendar: cal, rules: rules, zone: zone, clock: clk}, nil
}

// FindSlots lazily yields free slots from tomorrow through q.DaysAhead days.
// The first error ends the sequence. Each call recomputes from scratch.
func (e *Engine) FindSlots(ctx context.Context, q Query) iter.Seq2[domain.Slot, error] {
	return func(yield func(domain.Slot, error) bool) {
		if q.DaysAhead <= 0 || q.DurationMinutes <= 0 {
			return
		}
		now := e.clock.Now()
		first := e.zone.Today(e.clock).AddDays(1)
		for d := 0; d < q.DaysAhead; d++ {
			day := first.AddDays(d)
			for _, iv := range e.rules.OpenIntervals(day) {
				if !iv.Matches(q.Period) {
					continue
				}
				for m := iv.StartHour * 60; m+q.DurationMinutes <= iv.EndHour*60; m += q.DurationMinutes {
					start := e.zone.At(day, m/60, m%60)
					if !start.After(now) {
						continue
					}
					if err := ctx.Err(); err != nil {
						yield(domain.Slot{}, fmt.Errorf("availability: %w", err))
						return
					}
					free, err := e.IsFree(ctx, start, q.DurationMinutes)
					if err != nil {
						yield(domain.Slot{}, err)
						return
					}
					if !free {
						continue
					}
					if !yield(e.slot(start, q.DurationMinutes), nil) {
						return
					}
				}
			}
		}
	}
}

// ListSlots collects at most limit slots. Any error discards what was
// collected so callers never see a partial list.
func (e *Engine) ListSlots(ctx context.Context, q Query, limit int) ([]domain.Slot, error) {
	if limit <= 0 {
		return nil, nil
	}
	slots := make([]domain.Slot, 0, limit)
	for s, err := range e.FindSlots(ctx, q) {
		if err != nil {
			return nil, err
		}
		slots = append(slots, s)
		if len(slots) == limit {
			break
		}
	}
	return slots, nil
}

// IsFree reports whether no busy interval intersects [start, start+minutes).
func (e *Engine) IsFree(ctx context.Context, start time.Time, minutes int) (bool, error) {
	end := start.Add(time.Duration(minutes) * time.Minute)
	busy, err := e.calendar.QueryBusy(ctx, start, end)
	if err != nil {
		return false, fmt.Errorf("availability: query busy: %w", err)
	}
	for _, b := range busy {
		if b.Overlaps(start, end) {
			return false, nil
		}
	}
	return true, nil
}

// CheckSlot validates a user-typed civil date/time as a bookable slot.
func (e *Engine) CheckSlot(ctx context.Context, at civil.DateTime, minutes int) (domain.Slot, error) {
	start := e.zone.ToInstant(at)
	if !start.After(e.clock.Now()) {
		return domain.Slot{}, ErrInPast
	}
	if !e.rules.Contains(at, minutes) {
		return domain.Slot{}, ErrClosed
	}
	free, err := e.IsFree(ctx, start, minutes)
	if err != nil {
		return domain.Slot{}, err
	}
	if !free {
		return domain.Slot{}, ErrTaken
	}
	return e.slot(start, minutes), nil
}

var weekdayAbbrev = [...]string{"Dom", "Seg", "Ter", "Qua", "Qui", "Sex", "Sáb"}

// Label renders start as e.g. "Seg, 09/03 às 09:00" in the operating zone.
func (e *Engine) Label(start time.Time) string {
	dt := e.zone.ToCivil(start)
	return fmt.Sprintf("%s, %02d/%02d às %02d:%02d",
		weekdayAbbrev[dt.Date.Weekday()], dt.Date.Day, int(dt.Date.Month), dt.Time.Hour, dt.Time.Minute)
}

func (e *Engine) slot(start time.Time, minutes int) domain.Slot {
	return domain.Slot{Start: start, DurationMinutes: minutes, Label: e.Label(start)}
}

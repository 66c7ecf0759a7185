// Package schedule holds the clinic's business-hours policy: which civil
// dates are open and which hour ranges are bookable on them.
package schedule

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"gopkg.in/yaml.v3"

	"booking-assistant/internal/domain"
)

//go:embed rules.yaml
var defaultRules []byte

// middayHour separates morning intervals from afternoon ones.
const middayHour = 12

// Interval is an open range of whole hours, end exclusive.
type Interval struct {
	StartHour int `yaml:"start"`
	EndHour   int `yaml:"end"`
}

// Period classifies the interval by its start hour.
func (i Interval) Period() domain.Period {
	if i.StartHour < middayHour {
		return domain.PeriodMorning
	}
	return domain.PeriodAfternoon
}

// Matches reports whether the interval belongs to p. PeriodAny matches all.
func (i Interval) Matches(p domain.Period) bool {
	switch p {
	case domain.PeriodMorning, domain.PeriodAfternoon:
		return i.Period() == p
	default:
		return true
	}
}

type document struct {
	Weekdays map[string][]Interval `yaml:"weekdays"`
	Holidays []string              `yaml:"holidays"`
}

type monthDay struct {
	month time.Month
	day   int
}

// Rules maps civil dates to open intervals. The zero value is closed every day.
type Rules struct {
	weekdays [7][]Interval
	holidays map[monthDay]struct{}
}

// Default returns the rules embedded in the binary.
func Default() (*Rules, error) {
	return Parse(defaultRules)
}

// Load reads rules from path, or the embedded rules when path is empty.
func Load(path string) (*Rules, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schedule: read rules: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a rules document.
func Parse(raw []byte) (*Rules, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("schedule: decode rules: %w", err)
	}
	r := &Rules{holidays: map[monthDay]struct{}{}}
	for name, intervals := range doc.Weekdays {
		wd, ok := weekdayByName[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("schedule: unknown weekday %q", name)
		}
		if err := validateIntervals(intervals); err != nil {
			return nil, fmt.Errorf("schedule: %s: %w", name, err)
		}
		sorted := append([]Interval(nil), intervals...)
		sort.Slice(sorted, func(a, b int) bool { return sorted[a].StartHour < sorted[b].StartHour })
		r.weekdays[wd] = sorted
	}
	for _, h := range doc.Holidays {
		md, err := parseMonthDay(h)
		if err != nil {
			return nil, err
		}
		r.holidays[md] = struct{}{}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

var weekdayByName = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func validateIntervals(intervals []Interval) error {
	for i, iv := range intervals {
		if iv.StartHour < 0 || iv.EndHour > 24 || iv.StartHour >= iv.EndHour {
			return fmt.Errorf("interval %d (%d-%d) is invalid", i, iv.StartHour, iv.EndHour)
		}
		for j := 0; j < i; j++ {
			other := intervals[j]
			if iv.StartHour < other.EndHour && other.StartHour < iv.EndHour {
				return fmt.Errorf("intervals %d and %d overlap", j, i)
			}
		}
	}
	return nil
}

func parseMonthDay(s string) (monthDay, error) {
	t, err := time.Parse("01-02", strings.TrimSpace(s))
	if err != nil {
		return monthDay{}, fmt.Errorf("schedule: holiday %q is not MM-DD: %w", s, err)
	}
	return monthDay{month: t.Month(), day: t.Day()}, nil
}

// IsHoliday reports whether d falls on a listed month-day.
func (r *Rules) IsHoliday(d civil.Date) bool {
	if r == nil {
		return false
	}
	_, ok := r.holidays[monthDay{month: d.Month, day: d.Day}]
	return ok
}

// OpenIntervals returns the bookable intervals of d, ordered by start.
// An empty result means the clinic is closed.
func (r *Rules) OpenIntervals(d civil.Date) []Interval {
	if r == nil || !d.IsValid() || r.IsHoliday(d) {
		return nil
	}
	intervals := r.weekdays[d.Weekday()]
	if len(intervals) == 0 {
		return nil
	}
	return append([]Interval(nil), intervals...)
}

// Contains reports whether the window starting at dt and lasting minutes
// lies inside a single open interval of dt's date.
func (r *Rules) Contains(dt civil.DateTime, minutes int) bool {
	if minutes <= 0 {
		return false
	}
	start := dt.Time.Hour*60 + dt.Time.Minute
	end := start + minutes
	for _, iv := range r.OpenIntervals(dt.Date) {
		if start >= iv.StartHour*60 && end <= iv.EndHour*60 {
			return true
		}
	}
	return false
}

// ErrNoOpenDays is returned by Validate for rules that never open.
var ErrNoOpenDays = errors.New("schedule: rules never open")

// Validate checks that at least one weekday has an interval.
func (r *Rules) Validate() error {
	for _, intervals := range r.weekdays {
		if len(intervals) > 0 {
			return nil
		}
	}
	return ErrNoOpenDays
}

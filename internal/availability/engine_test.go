package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/require"

	"booking-assistant/internal/clock"
	"booking-assistant/internal/domain"
	"booking-assistant/internal/schedule"
)

type fakeCalendar struct {
	busy      []domain.BusyInterval
	err       error
	failAfter int
	calls     int
	windows   [][2]time.Time
}

func (f *fakeCalendar) QueryBusy(_ context.Context, start, end time.Time) ([]domain.BusyInterval, error) {
	f.calls++
	f.windows = append(f.windows, [2]time.Time{start, end})
	if f.err != nil && f.calls > f.failAfter {
		return nil, f.err
	}
	return f.busy, nil
}

var zone = clock.MustLoadZone(clock.DefaultZone)

func local(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, zone.Location())
}

func newTestEngine(t *testing.T, cal *fakeCalendar, now time.Time) *Engine {
	t.Helper()
	rules, err := schedule.Default()
	require.NoError(t, err)
	e, err := New(cal, rules, zone, clock.Fixed{T: now})
	require.NoError(t, err)
	return e
}

func collect(t *testing.T, e *Engine, q Query) []domain.Slot {
	t.Helper()
	var out []domain.Slot
	for s, err := range e.FindSlots(context.Background(), q) {
		require.NoError(t, err)
		out = append(out, s)
	}
	return out
}

func TestNew_ValidatesDependencies(t *testing.T) {
	rules, err := schedule.Default()
	require.NoError(t, err)
	_, err = New(nil, rules, zone, clock.Real{})
	require.Error(t, err)
	_, err = New(&fakeCalendar{}, nil, zone, clock.Real{})
	require.Error(t, err)
	_, err = New(&fakeCalendar{}, rules, zone, nil)
	require.Error(t, err)
}

func TestFindSlots_BusinessHoursProperties(t *testing.T) {
	rules, err := schedule.Default()
	require.NoError(t, err)
	now := local(2026, time.March, 6, 10, 0)
	e := newTestEngine(t, &fakeCalendar{}, now)

	slots := collect(t, e, Query{DaysAhead: 60, DurationMinutes: 60, Period: domain.PeriodAny})
	require.NotEmpty(t, slots)

	for _, s := range slots {
		require.True(t, s.Start.After(now), "slot %s is not in the future", s.Label)

		civilStart := zone.ToCivil(s.Start)
		require.NotEqual(t, time.Sunday, civilStart.Date.Weekday())
		require.False(t, rules.IsHoliday(civilStart.Date), "holiday slot %s", s.Label)
		require.True(t, rules.Contains(civilStart, s.DurationMinutes), "slot %s outside business hours", s.Label)

		civilEnd := zone.ToCivil(s.End())
		require.Equal(t, civilStart.Date, civilEnd.Date)
	}

	for _, s := range slots {
		require.NotEqual(t, civil.Date{Year: 2026, Month: time.April, Day: 21}, zone.ToCivil(s.Start).Date)
	}
}

func TestFindSlots_StartsTomorrow(t *testing.T) {
	now := local(2026, time.March, 9, 6, 0) // Monday, before opening
	e := newTestEngine(t, &fakeCalendar{}, now)

	slots := collect(t, e, Query{DaysAhead: 1, DurationMinutes: 60})
	require.Len(t, slots, 8)
	require.True(t, slots[0].Start.Equal(local(2026, time.March, 10, 9, 0)))
}

func TestFindSlots_MorningOnWeekdays(t *testing.T) {
	now := local(2026, time.March, 8, 12, 0) // Sunday, so the window is Mon-Fri
	e := newTestEngine(t, &fakeCalendar{}, now)

	slots := collect(t, e, Query{DaysAhead: 5, DurationMinutes: 60, Period: domain.PeriodMorning})
	require.Len(t, slots, 15)
	for _, s := range slots {
		start := zone.ToCivil(s.Start)
		end := zone.ToCivil(s.End())
		require.GreaterOrEqual(t, start.Time.Hour, 9)
		require.LessOrEqual(t, end.Time.Hour*60+end.Time.Minute, 12*60)
	}
}

func TestFindSlots_SaturdayMorningOpensAtEight(t *testing.T) {
	now := local(2026, time.March, 6, 18, 0) // Friday evening, so the window is Saturday
	e := newTestEngine(t, &fakeCalendar{}, now)

	for _, period := range []domain.Period{domain.PeriodMorning, domain.PeriodAny} {
		slots := collect(t, e, Query{DaysAhead: 1, DurationMinutes: 60, Period: period})
		require.Len(t, slots, 4, period)
		for i, want := range []int{8, 9, 10, 11} {
			require.True(t, slots[i].Start.Equal(local(2026, time.March, 7, want, 0)), "%s slot %d: %s", period, i, slots[i].Label)
		}
	}
}

func TestFindSlots_AfternoonSkipsSaturday(t *testing.T) {
	now := local(2026, time.March, 6, 18, 0) // Friday evening
	e := newTestEngine(t, &fakeCalendar{}, now)

	slots := collect(t, e, Query{DaysAhead: 2, DurationMinutes: 60, Period: domain.PeriodAfternoon})
	require.Empty(t, slots, "saturday has no afternoon and sunday is closed")
}

func TestFindSlots_DiscretizesAndDropsOverrun(t *testing.T) {
	now := local(2026, time.March, 8, 12, 0)
	e := newTestEngine(t, &fakeCalendar{}, now)

	slots := collect(t, e, Query{DaysAhead: 1, DurationMinutes: 90, Period: domain.PeriodMorning})
	// 09:00-10:30 fits, 10:30-12:00 fits, nothing else.
	require.Len(t, slots, 2)
	require.True(t, slots[1].Start.Equal(local(2026, time.March, 9, 10, 30)))

	slots = collect(t, e, Query{DaysAhead: 1, DurationMinutes: 120, Period: domain.PeriodMorning})
	require.Len(t, slots, 1, "the 11:00 window would overrun noon")
}

func TestFindSlots_SkipsBusyWindows(t *testing.T) {
	now := local(2026, time.March, 8, 12, 0)
	cal := &fakeCalendar{busy: []domain.BusyInterval{
		{Start: local(2026, time.March, 9, 9, 0), End: local(2026, time.March, 9, 10, 0)},
		{Start: local(2026, time.March, 9, 10, 30), End: local(2026, time.March, 9, 10, 45)},
	}}
	e := newTestEngine(t, cal, now)

	slots, err := e.ListSlots(context.Background(), Query{DaysAhead: 1, DurationMinutes: 60, Period: domain.PeriodMorning}, 10)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	require.True(t, slots[0].Start.Equal(local(2026, time.March, 9, 11, 0)))
}

func TestFindSlots_QueriesExactWindow(t *testing.T) {
	now := local(2026, time.March, 8, 12, 0)
	cal := &fakeCalendar{}
	e := newTestEngine(t, cal, now)

	_, err := e.ListSlots(context.Background(), Query{DaysAhead: 1, DurationMinutes: 60}, 1)
	require.NoError(t, err)
	require.Equal(t, 1, cal.calls, "enumeration is lazy")
	require.True(t, cal.windows[0][0].Equal(local(2026, time.March, 9, 9, 0)))
	require.Equal(t, time.Hour, cal.windows[0][1].Sub(cal.windows[0][0]))
}

func TestFindSlots_EmptyForNonPositiveInputs(t *testing.T) {
	cal := &fakeCalendar{}
	e := newTestEngine(t, cal, local(2026, time.March, 8, 12, 0))

	require.Empty(t, collect(t, e, Query{DaysAhead: 0, DurationMinutes: 60}))
	require.Empty(t, collect(t, e, Query{DaysAhead: -3, DurationMinutes: 60}))
	require.Empty(t, collect(t, e, Query{DaysAhead: 3, DurationMinutes: 0}))
	require.Zero(t, cal.calls)
}

func TestFindSlots_Restartable(t *testing.T) {
	e := newTestEngine(t, &fakeCalendar{}, local(2026, time.March, 8, 12, 0))
	q := Query{DaysAhead: 3, DurationMinutes: 60}
	require.Equal(t, collect(t, e, q), collect(t, e, q))
}

func TestListSlots_FailsAsAUnit(t *testing.T) {
	cal := &fakeCalendar{err: errors.New("calendar timeout"), failAfter: 3}
	e := newTestEngine(t, cal, local(2026, time.March, 8, 12, 0))

	slots, err := e.ListSlots(context.Background(), Query{DaysAhead: 2, DurationMinutes: 60}, 10)
	require.ErrorContains(t, err, "calendar timeout")
	require.Nil(t, slots)
}

func TestListSlots_CanceledContext(t *testing.T) {
	e := newTestEngine(t, &fakeCalendar{}, local(2026, time.March, 8, 12, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.ListSlots(ctx, Query{DaysAhead: 2, DurationMinutes: 60}, 10)
	require.ErrorIs(t, err, context.Canceled)
}

func TestIsFree(t *testing.T) {
	cal := &fakeCalendar{busy: []domain.BusyInterval{
		{Start: local(2026, time.March, 9, 10, 0), End: local(2026, time.March, 9, 11, 0)},
	}}
	e := newTestEngine(t, cal, local(2026, time.March, 8, 12, 0))

	free, err := e.IsFree(context.Background(), local(2026, time.March, 9, 9, 0), 60)
	require.NoError(t, err)
	require.True(t, free, "touching intervals do not overlap")

	free, err = e.IsFree(context.Background(), local(2026, time.March, 9, 10, 30), 60)
	require.NoError(t, err)
	require.False(t, free)
}

func TestCheckSlot(t *testing.T) {
	cal := &fakeCalendar{busy: []domain.BusyInterval{
		{Start: local(2026, time.March, 10, 14, 0), End: local(2026, time.March, 10, 15, 0)},
	}}
	e := newTestEngine(t, cal, local(2026, time.March, 9, 12, 0))
	at := func(d, h, m int) civil.DateTime {
		return zone.ToCivil(local(2026, time.March, d, h, m))
	}

	_, err := e.CheckSlot(context.Background(), at(9, 10, 0), 60)
	require.ErrorIs(t, err, ErrInPast)

	_, err = e.CheckSlot(context.Background(), at(10, 12, 0), 60)
	require.ErrorIs(t, err, ErrClosed)

	_, err = e.CheckSlot(context.Background(), at(15, 10, 0), 60)
	require.ErrorIs(t, err, ErrClosed, "sunday")

	_, err = e.CheckSlot(context.Background(), at(10, 14, 0), 60)
	require.ErrorIs(t, err, ErrTaken)

	slot, err := e.CheckSlot(context.Background(), at(10, 15, 0), 60)
	require.NoError(t, err)
	require.True(t, slot.Start.Equal(local(2026, time.March, 10, 15, 0)))
	require.Equal(t, "Ter, 10/03 às 15:00", slot.Label)
}

func TestLabel(t *testing.T) {
	e := newTestEngine(t, &fakeCalendar{}, local(2026, time.March, 8, 12, 0))
	require.Equal(t, "Seg, 09/03 às 09:00", e.Label(local(2026, time.March, 9, 9, 0).UTC()))
	require.Equal(t, "Sáb, 07/03 às 08:00", e.Label(local(2026, time.March, 7, 8, 0)))
}

package gcalendar

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"booking-assistant/internal/clock"
	"booking-assistant/internal/domain"
)

const testCalendar = "clinic@group.calendar.google.com"

var testZone = clock.MustLoadZone("America/Fortaleza")

type fakeAPI struct {
	freeBusyOut *calendar.FreeBusyResponse
	freeBusyErr error
	lastFB      *calendar.FreeBusyRequest

	insertOut  *calendar.Event
	insertErr  error
	lastInsert *calendar.Event

	pages      []*calendar.Events
	listErr    error
	listTokens []string
	deadlines  []bool
}

func (f *fakeAPI) FreeBusy(ctx context.Context, req *calendar.FreeBusyRequest) (*calendar.FreeBusyResponse, error) {
	f.lastFB = req
	_, ok := ctx.Deadline()
	f.deadlines = append(f.deadlines, ok)
	return f.freeBusyOut, f.freeBusyErr
}

func (f *fakeAPI) InsertEvent(_ context.Context, calendarID string, ev *calendar.Event) (*calendar.Event, error) {
	f.lastInsert = ev
	return f.insertOut, f.insertErr
}

func (f *fakeAPI) ListEvents(_ context.Context, _, _, _ string, pageToken string) (*calendar.Events, error) {
	f.listTokens = append(f.listTokens, pageToken)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.pages[len(f.listTokens)-1], nil
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	c, err := New(api, testCalendar, testZone, WithTimeout(time.Second))
	require.NoError(t, err)
	return c
}

func TestNew_Validates(t *testing.T) {
	_, err := New(nil, testCalendar, testZone)
	require.Error(t, err)
	_, err = New(&fakeAPI{}, "  ", testZone)
	require.Error(t, err)
}

func TestQueryBusy(t *testing.T) {
	api := &fakeAPI{freeBusyOut: &calendar.FreeBusyResponse{
		Calendars: map[string]calendar.FreeBusyCalendar{
			testCalendar: {Busy: []*calendar.TimePeriod{
				{Start: "2026-03-10T12:00:00Z", End: "2026-03-10T13:00:00Z"},
				{Start: "2026-03-10T14:30:00-03:00", End: "2026-03-10T15:00:00-03:00"},
			}},
		},
	}}
	c := newTestClient(t, api)

	start := time.Date(2026, time.March, 10, 3, 0, 0, 0, time.UTC)
	busy, err := c.QueryBusy(context.Background(), start, start.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, busy, 2)
	require.True(t, busy[0].Start.Equal(time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)))
	require.True(t, busy[1].End.Equal(time.Date(2026, time.March, 10, 18, 0, 0, 0, time.UTC)))

	require.Equal(t, "2026-03-10T03:00:00Z", api.lastFB.TimeMin)
	require.Equal(t, "2026-03-11T03:00:00Z", api.lastFB.TimeMax)
	require.Equal(t, "America/Fortaleza", api.lastFB.TimeZone)
	require.Equal(t, testCalendar, api.lastFB.Items[0].Id)
	require.Equal(t, []bool{true}, api.deadlines)
}

func TestQueryBusy_Errors(t *testing.T) {
	start := time.Date(2026, time.March, 10, 3, 0, 0, 0, time.UTC)

	c := newTestClient(t, &fakeAPI{freeBusyErr: errors.New("503")})
	_, err := c.QueryBusy(context.Background(), start, start.Add(time.Hour))
	require.ErrorContains(t, err, "freebusy")

	c = newTestClient(t, &fakeAPI{freeBusyOut: &calendar.FreeBusyResponse{}})
	_, err = c.QueryBusy(context.Background(), start, start.Add(time.Hour))
	require.ErrorContains(t, err, "missing from response")

	c = newTestClient(t, &fakeAPI{freeBusyOut: &calendar.FreeBusyResponse{
		Calendars: map[string]calendar.FreeBusyCalendar{
			testCalendar: {Errors: []*calendar.Error{{Domain: "global", Reason: "notFound"}}},
		},
	}})
	_, err = c.QueryBusy(context.Background(), start, start.Add(time.Hour))
	require.ErrorContains(t, err, "notFound")

	c = newTestClient(t, &fakeAPI{freeBusyOut: &calendar.FreeBusyResponse{
		Calendars: map[string]calendar.FreeBusyCalendar{
			testCalendar: {Busy: []*calendar.TimePeriod{{Start: "yesterday", End: "today"}}},
		},
	}})
	_, err = c.QueryBusy(context.Background(), start, start.Add(time.Hour))
	require.ErrorContains(t, err, "parse start")
}

func TestCreateEvent(t *testing.T) {
	api := &fakeAPI{insertOut: &calendar.Event{Id: "evt-1", HtmlLink: "https://calendar.google.com/event?eid=1"}}
	c := newTestClient(t, api)

	start := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	appt, err := c.CreateEvent(context.Background(), "Consulta - Ana", "desc", start, 60)
	require.NoError(t, err)
	require.Equal(t, domain.Appointment{
		EventID:         "evt-1",
		Link:            "https://calendar.google.com/event?eid=1",
		Start:           start,
		DurationMinutes: 60,
	}, appt)

	require.Equal(t, "Consulta - Ana", api.lastInsert.Summary)
	require.Equal(t, "desc", api.lastInsert.Description)
	require.Equal(t, "2026-03-10T09:00:00-03:00", api.lastInsert.Start.DateTime)
	require.Equal(t, "2026-03-10T10:00:00-03:00", api.lastInsert.End.DateTime)
	require.Equal(t, "America/Fortaleza", api.lastInsert.Start.TimeZone)
}

func TestCreateEvent_Errors(t *testing.T) {
	start := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	c := newTestClient(t, &fakeAPI{insertErr: &googleapi.Error{Code: http.StatusConflict, Message: "overlap"}})
	_, err := c.CreateEvent(context.Background(), "s", "d", start, 60)
	require.ErrorIs(t, err, domain.ErrCalendarConflict)

	c = newTestClient(t, &fakeAPI{insertErr: &googleapi.Error{Code: http.StatusForbidden, Message: "forbidden"}})
	_, err = c.CreateEvent(context.Background(), "s", "d", start, 60)
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrCalendarConflict)

	c = newTestClient(t, &fakeAPI{insertOut: &calendar.Event{}})
	_, err = c.CreateEvent(context.Background(), "s", "d", start, 60)
	require.ErrorContains(t, err, "no event id")
}

func TestListEvents_PagesAndSkipsCancelled(t *testing.T) {
	api := &fakeAPI{pages: []*calendar.Events{
		{
			Items: []*calendar.Event{
				{Id: "evt-1", Summary: "Consulta - Ana", Description: "d1",
					Start: &calendar.EventDateTime{DateTime: "2026-03-10T09:00:00-03:00"},
					End:   &calendar.EventDateTime{DateTime: "2026-03-10T10:00:00-03:00"}},
				{Id: "evt-x", Status: "cancelled",
					Start: &calendar.EventDateTime{DateTime: "2026-03-10T10:00:00-03:00"},
					End:   &calendar.EventDateTime{DateTime: "2026-03-10T11:00:00-03:00"}},
			},
			NextPageToken: "page-2",
		},
		{
			Items: []*calendar.Event{
				{Id: "evt-2", Summary: "Feriado",
					Start: &calendar.EventDateTime{Date: "2026-03-11"},
					End:   &calendar.EventDateTime{Date: "2026-03-12"}},
			},
		},
	}}
	c := newTestClient(t, api)

	start := time.Date(2026, time.March, 10, 3, 0, 0, 0, time.UTC)
	events, err := c.ListEvents(context.Background(), start, start.Add(48*time.Hour))
	require.NoError(t, err)
	require.Equal(t, []string{"", "page-2"}, api.listTokens)
	require.Len(t, events, 2)
	require.Equal(t, "evt-1", events[0].ID)
	require.True(t, events[0].Start.Equal(time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)))
	require.Equal(t, "evt-2", events[1].ID)
	require.True(t, events[1].Start.Equal(time.Date(2026, time.March, 11, 3, 0, 0, 0, time.UTC)))
}

func TestListEvents_Errors(t *testing.T) {
	start := time.Date(2026, time.March, 10, 3, 0, 0, 0, time.UTC)

	c := newTestClient(t, &fakeAPI{listErr: errors.New("401")})
	_, err := c.ListEvents(context.Background(), start, start.Add(time.Hour))
	require.ErrorContains(t, err, "list events")

	c = newTestClient(t, &fakeAPI{pages: []*calendar.Events{{Items: []*calendar.Event{{Id: "evt-1"}}}}})
	_, err = c.ListEvents(context.Background(), start, start.Add(time.Hour))
	require.ErrorContains(t, err, "evt-1 start")
}

// Package gcalendar adapts Google Calendar v3 to the calendar ports used by
// availability, booking and the reminder sweeps.
package gcalendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"booking-assistant/internal/clock"
	"booking-assistant/internal/domain"
	"booking-assistant/internal/integrations/gauth"
)

const (
	defaultTimeout = 10 * time.Second
	maxListPages   = 10
)

// calendarAPI is the subset of the Calendar service the client calls.
type calendarAPI interface {
	FreeBusy(ctx context.Context, req *calendar.FreeBusyRequest) (*calendar.FreeBusyResponse, error)
	InsertEvent(ctx context.Context, calendarID string, ev *calendar.Event) (*calendar.Event, error)
	ListEvents(ctx context.Context, calendarID string, timeMin, timeMax, pageToken string) (*calendar.Events, error)
}

// serviceAPI forwards calendarAPI calls to the generated client.
type serviceAPI struct {
	svc *calendar.Service
}

func (s serviceAPI) FreeBusy(ctx context.Context, req *calendar.FreeBusyRequest) (*calendar.FreeBusyResponse, error) {
	return s.svc.Freebusy.Query(req).Context(ctx).Do()
}

func (s serviceAPI) InsertEvent(ctx context.Context, calendarID string, ev *calendar.Event) (*calendar.Event, error) {
	return s.svc.Events.Insert(calendarID, ev).Context(ctx).Do()
}

func (s serviceAPI) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax, pageToken string) (*calendar.Events, error) {
	call := s.svc.Events.List(calendarID).
		TimeMin(timeMin).
		TimeMax(timeMax).
		SingleEvents(true).
		OrderBy("startTime")
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	return call.Context(ctx).Do()
}

// Client reads busy data and writes events on one calendar.
type Client struct {
	api        calendarAPI
	calendarID string
	zone       clock.Zone
	timeout    time.Duration
}

type Option func(*Client)

// WithTimeout bounds every call to the Calendar API.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func New(api calendarAPI, calendarID string, zone clock.Zone, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("gcalendar: api must not be nil")
	}
	calendarID = strings.TrimSpace(calendarID)
	if calendarID == "" {
		return nil, errors.New("gcalendar: calendar id must not be empty")
	}
	c := &Client{api: api, calendarID: calendarID, zone: zone, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewFromCredentials authenticates with a service-account key.
func NewFromCredentials(ctx context.Context, credentialsJSON []byte, calendarID string, zone clock.Zone, opts ...Option) (*Client, error) {
	httpClient, err := gauth.HTTPClient(ctx, credentialsJSON, calendar.CalendarScope)
	if err != nil {
		return nil, err
	}
	svc, err := calendar.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("gcalendar: create service: %w", err)
	}
	return New(serviceAPI{svc: svc}, calendarID, zone, opts...)
}

// QueryBusy returns the busy intervals of the calendar in [start, end).
func (c *Client) QueryBusy(ctx context.Context, start, end time.Time) ([]domain.BusyInterval, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.api.FreeBusy(ctx, &calendar.FreeBusyRequest{
		TimeMin:  start.UTC().Format(time.RFC3339),
		TimeMax:  end.UTC().Format(time.RFC3339),
		TimeZone: c.zone.Name(),
		Items:    []*calendar.FreeBusyRequestItem{{Id: c.calendarID}},
	})
	if err != nil {
		return nil, fmt.Errorf("gcalendar: freebusy: %w", err)
	}

	cal, ok := res.Calendars[c.calendarID]
	if !ok {
		return nil, fmt.Errorf("gcalendar: freebusy: calendar %q missing from response", c.calendarID)
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("gcalendar: freebusy: %s", cal.Errors[0].Reason)
	}

	busy := make([]domain.BusyInterval, 0, len(cal.Busy))
	for _, p := range cal.Busy {
		s, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			return nil, fmt.Errorf("gcalendar: freebusy: parse start %q: %w", p.Start, err)
		}
		e, err := time.Parse(time.RFC3339, p.End)
		if err != nil {
			return nil, fmt.Errorf("gcalendar: freebusy: parse end %q: %w", p.End, err)
		}
		busy = append(busy, domain.BusyInterval{Start: s, End: e})
	}
	return busy, nil
}

// CreateEvent inserts a timed event. A 409 from the API maps to
// domain.ErrCalendarConflict.
func (c *Client) CreateEvent(ctx context.Context, summary, description string, start time.Time, durationMinutes int) (domain.Appointment, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	ev, err := c.api.InsertEvent(ctx, c.calendarID, &calendar.Event{
		Summary:     summary,
		Description: description,
		Start:       c.eventTime(start),
		End:         c.eventTime(end),
	})
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
			return domain.Appointment{}, fmt.Errorf("%w: %s", domain.ErrCalendarConflict, apiErr.Message)
		}
		return domain.Appointment{}, fmt.Errorf("gcalendar: insert event: %w", err)
	}
	if ev == nil || ev.Id == "" {
		return domain.Appointment{}, errors.New("gcalendar: insert event: no event id in response")
	}
	return domain.Appointment{
		EventID:         ev.Id,
		Link:            ev.HtmlLink,
		Start:           start,
		DurationMinutes: durationMinutes,
	}, nil
}

// ListEvents returns single events starting in [start, end) ordered by start.
func (c *Client) ListEvents(ctx context.Context, start, end time.Time) ([]domain.CalendarEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		out   []domain.CalendarEvent
		token string
	)
	for page := 0; page < maxListPages; page++ {
		res, err := c.api.ListEvents(ctx, c.calendarID, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339), token)
		if err != nil {
			return nil, fmt.Errorf("gcalendar: list events: %w", err)
		}
		for _, item := range res.Items {
			if item == nil || item.Status == "cancelled" {
				continue
			}
			ev, err := c.toEvent(item)
			if err != nil {
				return nil, err
			}
			out = append(out, ev)
		}
		token = res.NextPageToken
		if token == "" {
			return out, nil
		}
	}
	return out, nil
}

func (c *Client) eventTime(t time.Time) *calendar.EventDateTime {
	return &calendar.EventDateTime{
		DateTime: t.In(c.zone.Location()).Format(time.RFC3339),
		TimeZone: c.zone.Name(),
	}
}

func (c *Client) toEvent(item *calendar.Event) (domain.CalendarEvent, error) {
	start, err := c.parseEventTime(item.Start)
	if err != nil {
		return domain.CalendarEvent{}, fmt.Errorf("gcalendar: event %s start: %w", item.Id, err)
	}
	end, err := c.parseEventTime(item.End)
	if err != nil {
		return domain.CalendarEvent{}, fmt.Errorf("gcalendar: event %s end: %w", item.Id, err)
	}
	return domain.CalendarEvent{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Start:       start,
		End:         end,
	}, nil
}

// parseEventTime accepts timed and all-day event boundaries.
func (c *Client) parseEventTime(dt *calendar.EventDateTime) (time.Time, error) {
	switch {
	case dt == nil:
		return time.Time{}, errors.New("missing time")
	case dt.DateTime != "":
		return time.Parse(time.RFC3339, dt.DateTime)
	case dt.Date != "":
		return time.ParseInLocation(time.DateOnly, dt.Date, c.zone.Location())
	default:
		return time.Time{}, errors.New("missing time")
	}
}

package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/model"
)

type googleCalendar struct {
	svc        *gcal.Service
	calendarID string
}

// NewGoogle wraps a Calendar API service bound to one calendar id.
func NewGoogle(svc *gcal.Service, calendarID string) Calendar {
	if calendarID == "" {
		calendarID = "primary"
	}
	return &googleCalendar{svc: svc, calendarID: calendarID}
}

func (c *googleCalendar) FreeBusy(ctx context.Context, start, end time.Time) ([]model.Interval, error) {
	query := &gcal.FreeBusyRequest{
		TimeMin:  start.UTC().Format(time.RFC3339),
		TimeMax:  end.UTC().Format(time.RFC3339),
		TimeZone: "UTC",
		Items:    []*gcal.FreeBusyRequestItem{{Id: c.calendarID}},
	}
	result, err := c.svc.Freebusy.Query(query).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("freebusy query: %w", err)
	}
	cal, ok := result.Calendars[c.calendarID]
	if !ok {
		return nil, fmt.Errorf("freebusy query: calendar %q missing from response", c.calendarID)
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("freebusy query: %s", cal.Errors[0].Reason)
	}
	busy := make([]model.Interval, 0, len(cal.Busy))
	for _, b := range cal.Busy {
		s, err := time.Parse(time.RFC3339, b.Start)
		if err != nil {
			return nil, fmt.Errorf("freebusy start %q: %w", b.Start, err)
		}
		e, err := time.Parse(time.RFC3339, b.End)
		if err != nil {
			return nil, fmt.Errorf("freebusy end %q: %w", b.End, err)
		}
		busy = append(busy, model.Interval{Start: s, End: e})
	}
	return busy, nil
}

func (c *googleCalendar) ListEvents(ctx context.Context, start, end time.Time) ([]Event, error) {
	var out []Event
	call := c.svc.Events.List(c.calendarID).
		TimeMin(start.UTC().Format(time.RFC3339)).
		TimeMax(end.UTC().Format(time.RFC3339)).
		SingleEvents(true).
		ShowDeleted(false).
		OrderBy("startTime").
		Context(ctx)
	err := call.Pages(ctx, func(page *gcal.Events) error {
		loc := time.UTC
		if page.TimeZone != "" {
			if l, err := time.LoadLocation(page.TimeZone); err == nil {
				loc = l
			}
		}
		for _, item := range page.Items {
			ev, err := toEvent(item, loc)
			if err != nil {
				return err
			}
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}

func (c *googleCalendar) CreateEvent(ctx context.Context, in EventInput) (string, error) {
	tz := in.TimeZone
	if tz == "" {
		tz = "UTC"
	}
	event := &gcal.Event{
		Summary:     in.Summary,
		Description: in.Description,
		Start:       &gcal.EventDateTime{DateTime: in.Start.Format(time.RFC3339), TimeZone: tz},
		End:         &gcal.EventDateTime{DateTime: in.End.Format(time.RFC3339), TimeZone: tz},
	}
	if in.AttendeeEmail != "" {
		event.Attendees = []*gcal.EventAttendee{{Email: in.AttendeeEmail}}
	}
	created, err := c.svc.Events.Insert(c.calendarID, event).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create event: %w", err)
	}
	return created.Id, nil
}

// DeleteEvent treats an already-deleted event as success.
func (c *googleCalendar) DeleteEvent(ctx context.Context, eventID string) error {
	err := c.svc.Events.Delete(c.calendarID, eventID).Context(ctx).Do()
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusGone || apiErr.Code == http.StatusNotFound) {
		return nil
	}
	return fmt.Errorf("delete event %s: %w", eventID, err)
}

func toEvent(item *gcal.Event, loc *time.Location) (Event, error) {
	start, err := parseEventTime(item.Start, loc)
	if err != nil {
		return Event{}, fmt.Errorf("event %s start: %w", item.Id, err)
	}
	end, err := parseEventTime(item.End, loc)
	if err != nil {
		return Event{}, fmt.Errorf("event %s end: %w", item.Id, err)
	}
	return Event{
		ID:          item.Id,
		Summary:     item.Summary,
		Start:       start,
		End:         end,
		Cancelled:   strings.EqualFold(item.Status, "cancelled"),
		Transparent: strings.EqualFold(item.Transparency, "transparent"),
	}, nil
}

// parseEventTime handles timed events and all-day events (date only, in the calendar's zone).
func parseEventTime(dt *gcal.EventDateTime, loc *time.Location) (time.Time, error) {
	if dt == nil {
		return time.Time{}, errors.New("missing time")
	}
	if dt.DateTime != "" {
		return time.Parse(time.RFC3339, dt.DateTime)
	}
	if dt.Date != "" {
		if dt.TimeZone != "" {
			if l, err := time.LoadLocation(dt.TimeZone); err == nil {
				loc = l
			}
		}
		return time.ParseInLocation("2006-01-02", dt.Date, loc)
	}
	return time.Time{}, errors.New("missing time")
}

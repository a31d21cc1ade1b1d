package availability

import (
	"context"
	"fmt"

	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/model"
)

// BookedStore is the appointment store as seen by conflict checks.
type BookedStore interface {
	HasOverlappingBooked(ctx context.Context, tenantID string, iv model.Interval, excludeID string) (bool, error)
	BookedIntervals(ctx context.Context, tenantID string, window model.Interval) ([]model.Interval, error)
}

// Checker answers whether an interval is already occupied. Callers consult the store
// first and the calendar second; a conflict from either source rejects.
type Checker struct {
	store BookedStore
}

func NewChecker(store BookedStore) *Checker {
	return &Checker{store: store}
}

// BusyInStore reports whether any booked appointment of the tenant overlaps iv.
// excludeID, when set, ignores that appointment.
func (c *Checker) BusyInStore(ctx context.Context, tenantID string, iv model.Interval, excludeID string) (bool, error) {
	busy, err := c.store.HasOverlappingBooked(ctx, tenantID, iv, excludeID)
	if err != nil {
		return false, fmt.Errorf("store conflict check: %w", err)
	}
	return busy, nil
}

// FreeInCalendar reports whether the calendar has no busy blocks over iv.
func (c *Checker) FreeInCalendar(ctx context.Context, cal calendar.Calendar, iv model.Interval) (bool, error) {
	busy, err := cal.FreeBusy(ctx, iv.Start, iv.End)
	if err != nil {
		return false, fmt.Errorf("calendar freebusy: %w", err)
	}
	return !model.OverlapsAny(iv, busy), nil
}

// FreeInCalendarExcluding is FreeInCalendar that ignores one event, so an appointment
// being moved does not conflict with its own calendar entry.
func (c *Checker) FreeInCalendarExcluding(ctx context.Context, cal calendar.Calendar, iv model.Interval, eventID string) (bool, error) {
	if eventID == "" {
		return c.FreeInCalendar(ctx, cal, iv)
	}
	events, err := cal.ListEvents(ctx, iv.Start, iv.End)
	if err != nil {
		return false, fmt.Errorf("calendar list events: %w", err)
	}
	for _, ev := range events {
		if ev.ID == eventID || !ev.Blocks() {
			continue
		}
		if ev.Interval().Overlaps(iv) {
			return false, nil
		}
	}
	return true, nil
}

// BusyIntervals merges calendar events and the tenant's booked rows within window.
// A nil calendar contributes nothing.
func (c *Checker) BusyIntervals(ctx context.Context, tenantID string, cal calendar.Calendar, window model.Interval) ([]model.Interval, error) {
	var busy []model.Interval
	if cal != nil {
		events, err := cal.ListEvents(ctx, window.Start, window.End)
		if err != nil {
			return nil, fmt.Errorf("calendar list events: %w", err)
		}
		for _, ev := range events {
			if ev.Blocks() {
				busy = append(busy, ev.Interval())
			}
		}
	}
	booked, err := c.store.BookedIntervals(ctx, tenantID, window)
	if err != nil {
		return nil, fmt.Errorf("store booked intervals: %w", err)
	}
	return append(busy, booked...), nil
}

package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/model"
)

// ErrNotConnected is returned when a tenant has not linked a calendar.
var ErrNotConnected = errors.New("calendar not connected")

type Event struct {
	ID          string
	Summary     string
	Start       time.Time
	End         time.Time
	Cancelled   bool
	Transparent bool
}

// Blocks reports whether the event occupies time on the calendar.
func (e Event) Blocks() bool {
	return !e.Cancelled && !e.Transparent
}

func (e Event) Interval() model.Interval {
	return model.Interval{Start: e.Start, End: e.End}
}

type EventInput struct {
	Summary       string
	Description   string
	Start         time.Time
	End           time.Time
	TimeZone      string
	AttendeeEmail string
}

// Calendar is one tenant's external calendar.
type Calendar interface {
	FreeBusy(ctx context.Context, start, end time.Time) ([]model.Interval, error)
	ListEvents(ctx context.Context, start, end time.Time) ([]Event, error)
	CreateEvent(ctx context.Context, in EventInput) (string, error)
	DeleteEvent(ctx context.Context, eventID string) error
}

// Connector resolves the calendar linked to a tenant.
type Connector interface {
	ForTenant(ctx context.Context, tenantID string) (Calendar, error)
}

type Credential struct {
	RefreshToken string
	CalendarID   string
}

type CredentialStore interface {
	GetCalendarCredential(ctx context.Context, tenantID string) (Credential, bool, error)
}

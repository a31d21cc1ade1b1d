package booking

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	otelx "github.com/md-rashed-zaman/voicebook/libs/otel"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/idempotency"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/policy"
)

const (
	DefaultFindLimit = 10
	MaxFindLimit     = 50
)

type AppointmentStore interface {
	Insert(ctx context.Context, appt model.Appointment) (model.Appointment, error)
	Get(ctx context.Context, tenantID, id string) (model.Appointment, error)
	MarkCancelled(ctx context.Context, tenantID, id string) error
	Replace(ctx context.Context, tenantID, oldID string, next model.Appointment) (model.Appointment, error)
	FindBooked(ctx context.Context, tenantID string, f model.FindFilter) ([]model.Appointment, error)
}

// Deps are the capabilities the service is built from. Events, Locker, Metrics and Now are optional.
type Deps struct {
	Store     AppointmentStore
	Ledger    *idempotency.Ledger
	Rules     policy.Provider
	Checker   *availability.Checker
	Calendars calendar.Connector
	Events    events.Publisher
	Locker    Locker
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

type Service struct {
	store     AppointmentStore
	ledger    *idempotency.Ledger
	rules     policy.Provider
	checker   *availability.Checker
	calendars calendar.Connector
	events    events.Publisher
	locker    Locker
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
	tracer    trace.Tracer
}

func NewService(d Deps) *Service {
	s := &Service{
		store:     d.Store,
		ledger:    d.Ledger,
		rules:     d.Rules,
		checker:   d.Checker,
		calendars: d.Calendars,
		events:    d.Events,
		locker:    d.Locker,
		metrics:   d.Metrics,
		logger:    d.Logger,
		now:       d.Now,
		tracer:    otelx.Tracer("booking"),
	}
	if s.events == nil {
		s.events = events.Noop{}
	}
	if s.locker == nil {
		s.locker = NoopLocker{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type Customer struct {
	Name  string
	Email string
	Phone string
}

type BookRequest struct {
	Start          time.Time
	End            time.Time
	Timezone       string
	Customer       Customer
	Title          string
	Notes          string
	IdempotencyKey string
}

type BookResult struct {
	AppointmentID   string    `json:"appointment_id"`
	ExternalEventID string    `json:"external_event_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	Replayed        bool      `json:"-"`
}

type CancelRequest struct {
	AppointmentID  string
	IdempotencyKey string
}

type CancelResult struct {
	CancelledAppointmentID string `json:"cancelled_appointment_id"`
	Replayed               bool   `json:"-"`
}

type RescheduleRequest struct {
	AppointmentID  string
	NewStart       time.Time
	NewEnd         time.Time
	Timezone       string
	IdempotencyKey string
}

type RescheduleResult struct {
	OldAppointmentID   string    `json:"old_appointment_id"`
	NewAppointmentID   string    `json:"new_appointment_id"`
	NewExternalEventID string    `json:"new_external_event_id"`
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	Replayed           bool      `json:"-"`
}

func (s *Service) startSpan(ctx context.Context, name, tenantID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "booking."+name, trace.WithAttributes(attribute.String("tenant.id", tenantID)))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Book validates, checks the store then the calendar, creates the calendar event and then
// the store row. A store failure after the event exists leaves that event in place.
func (s *Service) Book(ctx context.Context, tenantID string, req BookRequest) (res BookResult, err error) {
	ctx, span := s.startSpan(ctx, "book", tenantID)
	defer func() { endSpan(span, err) }()

	if ok, err := s.ledger.Lookup(ctx, tenantID, idempotency.OpBook, req.IdempotencyKey, &res); err != nil {
		return BookResult{}, upstream("idempotency", err)
	} else if ok {
		res.Replayed = true
		return res, nil
	}

	rules, err := s.rules.Rules(ctx, tenantID, req.Timezone)
	if err != nil {
		return BookResult{}, upstream("business rules", err)
	}
	iv := model.Interval{Start: req.Start, End: req.End}
	if err := policy.Validate(iv, rules); err != nil {
		return BookResult{}, err
	}
	loc, _ := rules.Location()

	unlock, err := s.locker.Lock(ctx, tenantID)
	if err != nil {
		return BookResult{}, err
	}
	defer unlock()
	// A retry with the same key may have completed while this call waited for the lock.
	if ok, err := s.ledger.Lookup(ctx, tenantID, idempotency.OpBook, req.IdempotencyKey, &res); err != nil {
		return BookResult{}, upstream("idempotency", err)
	} else if ok {
		res.Replayed = true
		return res, nil
	}

	if busy, err := s.checker.BusyInStore(ctx, tenantID, iv, ""); err != nil {
		return BookResult{}, upstream("store", err)
	} else if busy {
		return BookResult{}, ErrConflict
	}

	cal, err := s.calendarFor(ctx, tenantID)
	if err != nil {
		return BookResult{}, err
	}
	free, err := s.checker.FreeInCalendar(ctx, cal, iv)
	s.metrics.CalendarCall("freebusy", err)
	if err != nil {
		return BookResult{}, upstream("calendar", err)
	}
	if !free {
		return BookResult{}, ErrConflict
	}

	title := appointmentTitle(req.Title, req.Customer.Name)
	eventID, err := cal.CreateEvent(ctx, calendar.EventInput{
		Summary:       title,
		Description:   eventDescription(req.Customer, req.Notes),
		Start:         req.Start.In(loc),
		End:           req.End.In(loc),
		TimeZone:      rules.Timezone,
		AttendeeEmail: req.Customer.Email,
	})
	s.metrics.CalendarCall("create_event", err)
	if err != nil {
		return BookResult{}, upstream("calendar", err)
	}

	appt, err := s.store.Insert(ctx, model.Appointment{
		TenantID:        tenantID,
		CustomerName:    req.Customer.Name,
		CustomerEmail:   req.Customer.Email,
		CustomerPhone:   req.Customer.Phone,
		StartTime:       req.Start,
		EndTime:         req.End,
		Timezone:        rules.Timezone,
		Status:          model.StatusBooked,
		ExternalEventID: eventID,
		Title:           title,
		Notes:           req.Notes,
	})
	if err != nil {
		s.logger.Error("appointment insert failed after calendar event was created",
			"tenant_id", tenantID, "external_event_id", eventID, "err", err)
		if isStoreConflict(err) {
			return BookResult{}, ErrConflict
		}
		return BookResult{}, upstream("store", err)
	}

	res = BookResult{
		AppointmentID:   appt.ID,
		ExternalEventID: eventID,
		StartTime:       appt.StartTime.In(loc),
		EndTime:         appt.EndTime.In(loc),
	}
	s.record(ctx, tenantID, idempotency.OpBook, req.IdempotencyKey, res)
	s.publish(ctx, events.AppointmentBooked, appointmentEvent(appt, s.now()))
	return res, nil
}

// Cancel deletes the calendar event before marking the row cancelled, so a failed
// delete leaves the appointment booked.
func (s *Service) Cancel(ctx context.Context, tenantID string, req CancelRequest) (res CancelResult, err error) {
	ctx, span := s.startSpan(ctx, "cancel", tenantID)
	defer func() { endSpan(span, err) }()

	if ok, err := s.ledger.Lookup(ctx, tenantID, idempotency.OpCancel, req.IdempotencyKey, &res); err != nil {
		return CancelResult{}, upstream("idempotency", err)
	} else if ok {
		res.Replayed = true
		return res, nil
	}

	appt, err := s.load(ctx, tenantID, req.AppointmentID)
	if err != nil {
		return CancelResult{}, err
	}
	if appt.Status != model.StatusBooked {
		return CancelResult{}, ErrNotBooked
	}

	if appt.ExternalEventID != "" {
		cal, err := s.calendarFor(ctx, tenantID)
		if err != nil {
			return CancelResult{}, err
		}
		err = cal.DeleteEvent(ctx, appt.ExternalEventID)
		s.metrics.CalendarCall("delete_event", err)
		if err != nil {
			return CancelResult{}, upstream("calendar", err)
		}
	}

	if err := s.store.MarkCancelled(ctx, tenantID, appt.ID); err != nil {
		if isStatusChanged(err) {
			return CancelResult{}, ErrNotBooked
		}
		return CancelResult{}, upstream("store", err)
	}

	res = CancelResult{CancelledAppointmentID: appt.ID}
	s.record(ctx, tenantID, idempotency.OpCancel, req.IdempotencyKey, res)
	appt.Status = model.StatusCancelled
	s.publish(ctx, events.AppointmentCancelled, appointmentEvent(appt, s.now()))
	return res, nil
}

// Reschedule confirms the new interval is free before touching the old calendar event.
// The old-event delete and new-event create are not atomic.
func (s *Service) Reschedule(ctx context.Context, tenantID string, req RescheduleRequest) (res RescheduleResult, err error) {
	ctx, span := s.startSpan(ctx, "reschedule", tenantID)
	defer func() { endSpan(span, err) }()

	if ok, err := s.ledger.Lookup(ctx, tenantID, idempotency.OpReschedule, req.IdempotencyKey, &res); err != nil {
		return RescheduleResult{}, upstream("idempotency", err)
	} else if ok {
		res.Replayed = true
		return res, nil
	}

	old, err := s.load(ctx, tenantID, req.AppointmentID)
	if err != nil {
		return RescheduleResult{}, err
	}
	if old.Status != model.StatusBooked {
		return RescheduleResult{}, ErrNotBooked
	}

	tz := req.Timezone
	if strings.TrimSpace(tz) == "" {
		tz = old.Timezone
	}
	rules, err := s.rules.Rules(ctx, tenantID, tz)
	if err != nil {
		return RescheduleResult{}, upstream("business rules", err)
	}
	iv := model.Interval{Start: req.NewStart, End: req.NewEnd}
	if err := policy.Validate(iv, rules); err != nil {
		return RescheduleResult{}, err
	}
	loc, _ := rules.Location()

	unlock, err := s.locker.Lock(ctx, tenantID)
	if err != nil {
		return RescheduleResult{}, err
	}
	defer unlock()
	if ok, err := s.ledger.Lookup(ctx, tenantID, idempotency.OpReschedule, req.IdempotencyKey, &res); err != nil {
		return RescheduleResult{}, upstream("idempotency", err)
	} else if ok {
		res.Replayed = true
		return res, nil
	}

	if busy, err := s.checker.BusyInStore(ctx, tenantID, iv, old.ID); err != nil {
		return RescheduleResult{}, upstream("store", err)
	} else if busy {
		return RescheduleResult{}, ErrConflict
	}

	cal, err := s.calendarFor(ctx, tenantID)
	if err != nil {
		return RescheduleResult{}, err
	}
	free, err := s.checker.FreeInCalendarExcluding(ctx, cal, iv, old.ExternalEventID)
	s.metrics.CalendarCall("availability", err)
	if err != nil {
		return RescheduleResult{}, upstream("calendar", err)
	}
	if !free {
		return RescheduleResult{}, ErrConflict
	}

	if old.ExternalEventID != "" {
		err := cal.DeleteEvent(ctx, old.ExternalEventID)
		s.metrics.CalendarCall("delete_event", err)
		if err != nil {
			return RescheduleResult{}, upstream("calendar", err)
		}
	}
	customer := Customer{Name: old.CustomerName, Email: old.CustomerEmail, Phone: old.CustomerPhone}
	eventID, err := cal.CreateEvent(ctx, calendar.EventInput{
		Summary:       appointmentTitle(old.Title, old.CustomerName),
		Description:   eventDescription(customer, old.Notes),
		Start:         req.NewStart.In(loc),
		End:           req.NewEnd.In(loc),
		TimeZone:      rules.Timezone,
		AttendeeEmail: old.CustomerEmail,
	})
	s.metrics.CalendarCall("create_event", err)
	if err != nil {
		s.logger.Error("reschedule lost the old calendar event before creating the new one",
			"tenant_id", tenantID, "appointment_id", old.ID, "old_external_event_id", old.ExternalEventID, "err", err)
		return RescheduleResult{}, upstream("calendar", err)
	}

	next, err := s.store.Replace(ctx, tenantID, old.ID, model.Appointment{
		TenantID:        tenantID,
		CustomerName:    old.CustomerName,
		CustomerEmail:   old.CustomerEmail,
		CustomerPhone:   old.CustomerPhone,
		StartTime:       req.NewStart,
		EndTime:         req.NewEnd,
		Timezone:        rules.Timezone,
		Status:          model.StatusBooked,
		ExternalEventID: eventID,
		Title:           old.Title,
		Notes:           old.Notes,
	})
	if err != nil {
		s.logger.Error("reschedule store update failed after calendar changes",
			"tenant_id", tenantID, "appointment_id", old.ID, "external_event_id", eventID, "err", err)
		switch {
		case isStatusChanged(err):
			return RescheduleResult{}, ErrNotBooked
		case isStoreConflict(err):
			return RescheduleResult{}, ErrConflict
		}
		return RescheduleResult{}, upstream("store", err)
	}

	res = RescheduleResult{
		OldAppointmentID:   old.ID,
		NewAppointmentID:   next.ID,
		NewExternalEventID: eventID,
		StartTime:          next.StartTime.In(loc),
		EndTime:            next.EndTime.In(loc),
	}
	s.record(ctx, tenantID, idempotency.OpReschedule, req.IdempotencyKey, res)
	s.publish(ctx, events.AppointmentRescheduled, appointmentEvent(next, s.now()))
	return res, nil
}

// Find lists booked appointments for a customer contact, ascending by start time.
func (s *Service) Find(ctx context.Context, tenantID string, f model.FindFilter) (appts []model.Appointment, err error) {
	ctx, span := s.startSpan(ctx, "find", tenantID)
	defer func() { endSpan(span, err) }()

	f.CustomerPhone = strings.TrimSpace(f.CustomerPhone)
	f.CustomerEmail = strings.TrimSpace(f.CustomerEmail)
	if f.CustomerPhone == "" && f.CustomerEmail == "" {
		return nil, ErrMissingContact
	}
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultFindLimit
	case f.Limit > MaxFindLimit:
		f.Limit = MaxFindLimit
	}
	appts, err = s.store.FindBooked(ctx, tenantID, f)
	if err != nil {
		return nil, upstream("store", err)
	}
	if appts == nil {
		appts = []model.Appointment{}
	}
	return appts, nil
}

func (s *Service) load(ctx context.Context, tenantID, id string) (model.Appointment, error) {
	if strings.TrimSpace(id) == "" {
		return model.Appointment{}, ErrNotFound
	}
	appt, err := s.store.Get(ctx, tenantID, id)
	if isStoreNotFound(err) {
		return model.Appointment{}, ErrNotFound
	}
	if err != nil {
		return model.Appointment{}, upstream("store", err)
	}
	return appt, nil
}

func (s *Service) calendarFor(ctx context.Context, tenantID string) (calendar.Calendar, error) {
	cal, err := s.calendars.ForTenant(ctx, tenantID)
	if errors.Is(err, calendar.ErrNotConnected) {
		return nil, err
	}
	if err != nil {
		return nil, upstream("calendar", err)
	}
	return cal, nil
}

// record failures are logged only; the operation already happened.
func (s *Service) record(ctx context.Context, tenantID, op, key string, response any) {
	if err := s.ledger.Record(ctx, tenantID, op, key, response); err != nil {
		s.logger.Error("idempotency record failed", "tenant_id", tenantID, "operation", op, "err", err)
	}
}

func (s *Service) publish(ctx context.Context, eventType string, evt events.AppointmentEvent) {
	err := s.events.Publish(ctx, eventType, evt.TenantID, evt)
	s.metrics.EventPublished(eventType, err)
	if err != nil {
		s.logger.Warn("event publish failed", "event_type", eventType, "appointment_id", evt.AppointmentID, "err", err)
	}
}

func appointmentEvent(a model.Appointment, now time.Time) events.AppointmentEvent {
	return events.AppointmentEvent{
		AppointmentID:         a.ID,
		TenantID:              a.TenantID,
		StartTime:             a.StartTime.UTC(),
		EndTime:               a.EndTime.UTC(),
		Timezone:              a.Timezone,
		ExternalEventID:       a.ExternalEventID,
		PreviousAppointmentID: a.PreviousAppointmentID,
		CustomerEmail:         a.CustomerEmail,
		CustomerPhone:         a.CustomerPhone,
		OccurredAt:            now.UTC(),
	}
}

func appointmentTitle(title, customerName string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	if n := strings.TrimSpace(customerName); n != "" {
		return "Appointment with " + n
	}
	return "Appointment"
}

func eventDescription(c Customer, notes string) string {
	var lines []string
	if c.Name != "" {
		lines = append(lines, "Customer: "+c.Name)
	}
	if c.Phone != "" {
		lines = append(lines, "Phone: "+c.Phone)
	}
	if c.Email != "" {
		lines = append(lines, "Email: "+c.Email)
	}
	if n := strings.TrimSpace(notes); n != "" {
		lines = append(lines, "", n)
	}
	return strings.Join(lines, "\n")
}

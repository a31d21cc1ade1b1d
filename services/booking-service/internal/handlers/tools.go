package handlers

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/tenancy"
)

const (
	ToolCheckAvailability     = "check_availability"
	ToolBookAppointment       = "book_appointment"
	ToolCancelAppointment     = "cancel_appointment"
	ToolRescheduleAppointment = "reschedule_appointment"
	ToolFindAppointment       = "find_appointment"
)

type Bookings interface {
	Book(ctx context.Context, tenantID string, req booking.BookRequest) (booking.BookResult, error)
	Cancel(ctx context.Context, tenantID string, req booking.CancelRequest) (booking.CancelResult, error)
	Reschedule(ctx context.Context, tenantID string, req booking.RescheduleRequest) (booking.RescheduleResult, error)
	Find(ctx context.Context, tenantID string, f model.FindFilter) ([]model.Appointment, error)
}

type Slots interface {
	Generate(ctx context.Context, tenantID, date string, durationMinutes int, timezone string) ([]model.Slot, error)
}

type CheckAvailabilityRequest struct {
	Date            string `json:"date" validate:"required,datetime=2006-01-02"`
	DurationMinutes int    `json:"duration_minutes" validate:"required,gt=0,lte=480"`
	Timezone        string `json:"timezone" validate:"max=64"`
}

type SlotView struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type CheckAvailabilityResponse struct {
	Slots []SlotView `json:"slots"`
}

type BookAppointmentRequest struct {
	StartTime      string `json:"start_time" validate:"required"`
	EndTime        string `json:"end_time" validate:"required"`
	Timezone       string `json:"timezone" validate:"max=64"`
	CustomerName   string `json:"customer_name" validate:"max=200"`
	CustomerEmail  string `json:"customer_email" validate:"omitempty,email,max=320"`
	CustomerPhone  string `json:"customer_phone" validate:"max=32"`
	Title          string `json:"title" validate:"max=200"`
	Notes          string `json:"notes" validate:"max=2000"`
	IdempotencyKey string `json:"idempotency_key" validate:"required,max=200"`
}

type CancelAppointmentRequest struct {
	AppointmentID  string `json:"appointment_id" validate:"required"`
	IdempotencyKey string `json:"idempotency_key" validate:"required,max=200"`
}

type RescheduleAppointmentRequest struct {
	AppointmentID  string `json:"appointment_id" validate:"required"`
	NewStartTime   string `json:"new_start_time" validate:"required"`
	NewEndTime     string `json:"new_end_time" validate:"required"`
	Timezone       string `json:"timezone" validate:"max=64"`
	IdempotencyKey string `json:"idempotency_key" validate:"required,max=200"`
}

type FindAppointmentRequest struct {
	CustomerPhone string `json:"customer_phone" validate:"required_without=CustomerEmail,max=32"`
	CustomerEmail string `json:"customer_email" validate:"required_without=CustomerPhone,max=320"`
	FromDate      string `json:"from_date"`
	ToDate        string `json:"to_date"`
	Limit         int    `json:"limit" validate:"min=0"`
}

type AppointmentView struct {
	AppointmentID         string    `json:"appointment_id"`
	Status                string    `json:"status"`
	StartTime             time.Time `json:"start_time"`
	EndTime               time.Time `json:"end_time"`
	Timezone              string    `json:"timezone"`
	CustomerName          string    `json:"customer_name,omitempty"`
	CustomerEmail         string    `json:"customer_email,omitempty"`
	CustomerPhone         string    `json:"customer_phone,omitempty"`
	Title                 string    `json:"title,omitempty"`
	Notes                 string    `json:"notes,omitempty"`
	ExternalEventID       string    `json:"external_event_id,omitempty"`
	PreviousAppointmentID string    `json:"previous_appointment_id,omitempty"`
}

type FindAppointmentResponse struct {
	Matches []AppointmentView `json:"matches"`
}

// ToolSet is the transport-independent tool layer shared by the HTTP routes and the MCP server.
type ToolSet struct {
	bookings  Bookings
	slots     Slots
	rules     policy.Provider
	validator *requestValidator
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewToolSet wires the tools. rules resolves the zone wall-clock input is read in; it must be
// the provider the booking service and slot generator use.
func NewToolSet(bookings Bookings, slots Slots, rules policy.Provider, m *metrics.Metrics, logger *slog.Logger) *ToolSet {
	if logger == nil {
		logger = slog.Default()
	}
	if rules == nil {
		rules = policy.NewStaticProvider(policy.Default(""))
	}
	return &ToolSet{
		bookings:  bookings,
		slots:     slots,
		rules:     rules,
		validator: newRequestValidator(),
		metrics:   m,
		logger:    logger,
	}
}

func (t *ToolSet) CheckAvailability(ctx context.Context, tenant tenancy.Tenant, req CheckAvailabilityRequest) (resp CheckAvailabilityResponse, err error) {
	defer t.observe(ToolCheckAvailability, tenant, time.Now(), &err)
	if err := t.validator.Struct(req); err != nil {
		return resp, err
	}
	tz, err := t.zone(ctx, tenant, req.Timezone)
	if err != nil {
		return resp, err
	}
	slots, err := t.slots.Generate(ctx, tenant.ID, req.Date, req.DurationMinutes, tz)
	if err != nil {
		if _, ok := policy.IsRejection(err); ok || errors.Is(err, calendar.ErrNotConnected) {
			return resp, err
		}
		return resp, &booking.UpstreamError{Op: "availability", Err: err}
	}
	resp.Slots = make([]SlotView, 0, len(slots))
	for _, s := range slots {
		resp.Slots = append(resp.Slots, SlotView{StartTime: s.StartTime, EndTime: s.EndTime})
	}
	return resp, nil
}

func (t *ToolSet) BookAppointment(ctx context.Context, tenant tenancy.Tenant, req BookAppointmentRequest) (resp booking.BookResult, err error) {
	defer t.observe(ToolBookAppointment, tenant, time.Now(), &err)
	if err := t.validator.Struct(req); err != nil {
		return resp, err
	}
	tz, err := t.zone(ctx, tenant, req.Timezone)
	if err != nil {
		return resp, err
	}
	start, end, err := parseInterval(req.StartTime, req.EndTime, tz)
	if err != nil {
		return resp, err
	}
	return t.bookings.Book(ctx, tenant.ID, booking.BookRequest{
		Start:    start,
		End:      end,
		Timezone: tz,
		Customer: booking.Customer{
			Name:  strings.TrimSpace(req.CustomerName),
			Email: strings.TrimSpace(req.CustomerEmail),
			Phone: strings.TrimSpace(req.CustomerPhone),
		},
		Title:          req.Title,
		Notes:          req.Notes,
		IdempotencyKey: req.IdempotencyKey,
	})
}

func (t *ToolSet) CancelAppointment(ctx context.Context, tenant tenancy.Tenant, req CancelAppointmentRequest) (resp booking.CancelResult, err error) {
	defer t.observe(ToolCancelAppointment, tenant, time.Now(), &err)
	if err := t.validator.Struct(req); err != nil {
		return resp, err
	}
	return t.bookings.Cancel(ctx, tenant.ID, booking.CancelRequest{
		AppointmentID:  strings.TrimSpace(req.AppointmentID),
		IdempotencyKey: req.IdempotencyKey,
	})
}

func (t *ToolSet) RescheduleAppointment(ctx context.Context, tenant tenancy.Tenant, req RescheduleAppointmentRequest) (resp booking.RescheduleResult, err error) {
	defer t.observe(ToolRescheduleAppointment, tenant, time.Now(), &err)
	if err := t.validator.Struct(req); err != nil {
		return resp, err
	}
	tz, err := t.zone(ctx, tenant, req.Timezone)
	if err != nil {
		return resp, err
	}
	start, end, err := parseInterval(req.NewStartTime, req.NewEndTime, tz)
	if err != nil {
		return resp, err
	}
	return t.bookings.Reschedule(ctx, tenant.ID, booking.RescheduleRequest{
		AppointmentID:  strings.TrimSpace(req.AppointmentID),
		NewStart:       start,
		NewEnd:         end,
		Timezone:       tz,
		IdempotencyKey: req.IdempotencyKey,
	})
}

func (t *ToolSet) FindAppointment(ctx context.Context, tenant tenancy.Tenant, req FindAppointmentRequest) (resp FindAppointmentResponse, err error) {
	defer t.observe(ToolFindAppointment, tenant, time.Now(), &err)
	if err := t.validator.Struct(req); err != nil {
		return resp, err
	}
	tz, err := t.zone(ctx, tenant, "")
	if err != nil {
		return resp, err
	}
	loc, lerr := time.LoadLocation(tz)
	if lerr != nil {
		loc = time.UTC
	}
	f := model.FindFilter{
		CustomerPhone: req.CustomerPhone,
		CustomerEmail: req.CustomerEmail,
		Limit:         req.Limit,
	}
	if req.FromDate != "" {
		from, err := parseBound(req.FromDate, loc, false)
		if err != nil {
			return resp, badInput("from_date: %v", err)
		}
		f.From = &from
	}
	if req.ToDate != "" {
		to, err := parseBound(req.ToDate, loc, true)
		if err != nil {
			return resp, badInput("to_date: %v", err)
		}
		f.To = &to
	}
	if f.From != nil && f.To != nil && !f.To.After(*f.From) {
		return resp, badInput("to_date must be after from_date")
	}

	appts, err := t.bookings.Find(ctx, tenant.ID, f)
	if err != nil {
		return resp, err
	}
	resp.Matches = make([]AppointmentView, 0, len(appts))
	for _, a := range appts {
		resp.Matches = append(resp.Matches, appointmentView(a))
	}
	return resp, nil
}

func (t *ToolSet) observe(tool string, tenant tenancy.Tenant, start time.Time, errp *error) {
	outcome := Outcome(*errp)
	t.metrics.ObserveTool(tool, outcome, time.Since(start))
	if *errp != nil && outcome == "error" {
		t.logger.Error("tool call failed", "tool", tool, "tenant_id", tenant.ID, "err", *errp)
	}
}

func appointmentView(a model.Appointment) AppointmentView {
	start, end := a.StartTime, a.EndTime
	if loc, err := time.LoadLocation(a.Timezone); err == nil && a.Timezone != "" {
		start, end = start.In(loc), end.In(loc)
	}
	return AppointmentView{
		AppointmentID:         a.ID,
		Status:                string(a.Status),
		StartTime:             start,
		EndTime:               end,
		Timezone:              a.Timezone,
		CustomerName:          a.CustomerName,
		CustomerEmail:         a.CustomerEmail,
		CustomerPhone:         a.CustomerPhone,
		Title:                 a.Title,
		Notes:                 a.Notes,
		ExternalEventID:       a.ExternalEventID,
		PreviousAppointmentID: a.PreviousAppointmentID,
	}
}

// zone resolves the tenant's effective zone once per call. The result is what the booking
// service and slot generator validate in, so input parsed in it agrees with their checks.
func (t *ToolSet) zone(ctx context.Context, tenant tenancy.Tenant, requested string) (string, error) {
	rules, err := t.rules.Rules(ctx, tenant.ID, strings.TrimSpace(requested))
	if err != nil {
		return "", &booking.UpstreamError{Op: "business rules", Err: err}
	}
	return rules.Timezone, nil
}

// Instants carry an offset (RFC 3339). A wall-clock value without one is read in tz.
var localLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02 15:04"}

func parseInstant(raw, tz string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	loc := time.UTC
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, false
		}
		loc = l
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseInterval(rawStart, rawEnd, tz string) (time.Time, time.Time, error) {
	start, ok1 := parseInstant(rawStart, tz)
	end, ok2 := parseInstant(rawEnd, tz)
	if !ok1 || !ok2 {
		return time.Time{}, time.Time{}, &policy.Rejection{
			Reason: policy.ReasonInvalidTimestamps,
			Detail: "start and end must be RFC 3339 timestamps",
		}
	}
	return start, end, nil
}

// parseBound reads a YYYY-MM-DD date (or an RFC 3339 instant). Date-only upper bounds include the whole day.
func parseBound(raw string, loc *time.Location, upper bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		return time.Time{}, errors.New("must be YYYY-MM-DD or an RFC 3339 timestamp")
	}
	if upper {
		d = d.AddDate(0, 0, 1)
	}
	return d, nil
}

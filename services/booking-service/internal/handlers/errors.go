package handlers

import (
	"errors"
	"net/http"

	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/tenancy"
)

// ErrorBody is the JSON error envelope of every tool route.
type ErrorBody struct {
	Error   string       `json:"error"`
	Message string       `json:"message,omitempty"`
	Reason  string       `json:"reason,omitempty"`
	Fields  []FieldError `json:"fields,omitempty"`
}

// Describe maps an operation error to its HTTP status and body. Upstream and unknown errors
// never leak their cause to the caller.
func Describe(err error) (int, ErrorBody) {
	var input *InputError
	var up *booking.UpstreamError
	switch {
	case errors.Is(err, tenancy.ErrUnauthorized):
		return http.StatusUnauthorized, ErrorBody{Error: "unauthorized", Message: "missing or invalid token"}
	case errors.As(err, &input):
		return http.StatusBadRequest, ErrorBody{Error: "invalid_request", Message: input.Error(), Fields: input.Fields}
	case errors.Is(err, booking.ErrMissingContact):
		return http.StatusBadRequest, ErrorBody{Error: "invalid_request", Message: err.Error()}
	case errors.Is(err, booking.ErrConflict):
		return http.StatusConflict, ErrorBody{Error: "conflict", Message: err.Error()}
	case errors.Is(err, booking.ErrNotBooked):
		return http.StatusConflict, ErrorBody{Error: "not_booked", Message: err.Error()}
	case errors.Is(err, booking.ErrNotFound):
		return http.StatusNotFound, ErrorBody{Error: "not_found", Message: err.Error()}
	case errors.Is(err, calendar.ErrNotConnected):
		return http.StatusPreconditionFailed, ErrorBody{Error: "calendar_not_connected", Message: "connect a Google Calendar for this tenant first"}
	case errors.Is(err, booking.ErrLockTimeout):
		return http.StatusServiceUnavailable, ErrorBody{Error: "busy", Message: err.Error()}
	case errors.As(err, &up):
		return http.StatusBadGateway, ErrorBody{Error: "upstream_error", Message: up.Op + " unavailable"}
	}
	if rej, ok := policy.IsRejection(err); ok {
		return http.StatusUnprocessableEntity, ErrorBody{Error: "rejected", Reason: rej.Reason, Message: rej.Detail}
	}
	return http.StatusInternalServerError, ErrorBody{Error: "internal_error", Message: "internal server error"}
}

// Outcome is the metrics label for an operation result.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	switch status, _ := Describe(err); status {
	case http.StatusUnprocessableEntity:
		return "rejected"
	case http.StatusConflict:
		return "conflict"
	case http.StatusBadRequest:
		return "invalid"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusPreconditionFailed:
		return "not_connected"
	default:
		return "error"
	}
}

package booking

import (
	"errors"
	"fmt"
)

var (
	ErrConflict       = errors.New("requested time is not available")
	ErrNotFound       = errors.New("appointment not found")
	ErrNotBooked      = errors.New("appointment is not booked")
	ErrMissingContact = errors.New("customer_phone or customer_email is required")
	ErrLockTimeout    = errors.New("another booking for this tenant is in progress")
)

// UpstreamError wraps a failed calendar, store or ledger call.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func upstream(op string, err error) error {
	return &UpstreamError{Op: op, Err: err}
}

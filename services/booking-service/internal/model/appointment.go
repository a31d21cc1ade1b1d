package model

import "time"

type Status string

const (
	StatusBooked      Status = "booked"
	StatusCancelled   Status = "cancelled"
	StatusRescheduled Status = "rescheduled"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusRescheduled
}

type Appointment struct {
	ID                    string
	TenantID              string
	CustomerName          string
	CustomerEmail         string
	CustomerPhone         string
	StartTime             time.Time
	EndTime               time.Time
	Timezone              string
	Status                Status
	ExternalEventID       string
	Title                 string
	Notes                 string
	PreviousAppointmentID string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (a Appointment) Interval() Interval {
	return Interval{Start: a.StartTime, End: a.EndTime}
}

// Slot is a candidate interval that was free when generated. It is not a reservation.
type Slot struct {
	StartTime time.Time
	EndTime   time.Time
}

type CallLog struct {
	ID           string
	TenantID     string
	CallID       string
	FromNumber   string
	Intent       string
	Summary      string
	Transcript   string
	RecordingURL string
	CreatedAt    time.Time
}

type Tenant struct {
	ID          string
	Name        string
	NotifyEmail string
	Timezone    string
}

// FindFilter selects booked appointments by customer contact. From and To bound start_time when set.
type FindFilter struct {
	CustomerPhone string
	CustomerEmail string
	From          *time.Time
	To            *time.Time
	Limit         int
}

package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/model"
)

// Rules are a tenant's business-hour constraints. Hours are local to Timezone.
type Rules struct {
	Timezone       string
	AllowWeekends  bool
	StartHour      int
	EndHour        int
	LunchStartHour *int
	LunchEndHour   *int
	StepMinutes    int
}

const (
	ReasonInvalidTimestamps = "invalid_timestamps"
	ReasonInvalidTimezone   = "invalid_timezone"
	ReasonEndNotAfterStart  = "end_not_after_start"
	ReasonWeekendsClosed    = "weekends_closed"
	ReasonOutsideHours      = "outside_business_hours"
	ReasonOverlapsLunch     = "overlaps_lunch"
)

const (
	DefaultTimezone       = "UTC"
	defaultStepMinutes    = 15
	defaultStartHour      = 9
	defaultEndHour        = 17
	defaultLunchStartHour = 12
	defaultLunchEndHour   = 13
)

// Rejection is returned by Validate when an interval violates the rules.
type Rejection struct {
	Reason string
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return "rejected: " + r.Reason
	}
	return "rejected: " + r.Reason + ": " + r.Detail
}

func reject(reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// IsRejection reports whether err carries a *Rejection and returns it.
func IsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

func Default(timezone string) Rules {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	ls, le := defaultLunchStartHour, defaultLunchEndHour
	return Rules{
		Timezone:       timezone,
		AllowWeekends:  false,
		StartHour:      defaultStartHour,
		EndHour:        defaultEndHour,
		LunchStartHour: &ls,
		LunchEndHour:   &le,
		StepMinutes:    defaultStepMinutes,
	}
}

func (r Rules) HasLunch() bool {
	return r.LunchStartHour != nil && r.LunchEndHour != nil
}

// Check verifies the rules are internally consistent.
func (r Rules) Check() error {
	if r.StartHour < 0 || r.EndHour > 24 || r.StartHour >= r.EndHour {
		return fmt.Errorf("business hours must satisfy 0 <= start < end <= 24, got %d-%d", r.StartHour, r.EndHour)
	}
	if (r.LunchStartHour == nil) != (r.LunchEndHour == nil) {
		return errors.New("lunch start and end must both be set or both be empty")
	}
	if r.HasLunch() && *r.LunchEndHour <= *r.LunchStartHour {
		return fmt.Errorf("lunch end must be after lunch start, got %d-%d", *r.LunchStartHour, *r.LunchEndHour)
	}
	if r.StepMinutes <= 0 {
		return fmt.Errorf("step minutes must be positive, got %d", r.StepMinutes)
	}
	if _, err := time.LoadLocation(r.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", r.Timezone, err)
	}
	return nil
}

func (r Rules) Location() (*time.Location, error) {
	return time.LoadLocation(r.Timezone)
}

// Step is the slot grid spacing.
func (r Rules) Step() time.Duration {
	if r.StepMinutes <= 0 {
		return defaultStepMinutes * time.Minute
	}
	return time.Duration(r.StepMinutes) * time.Minute
}

// Validate returns nil when iv satisfies the rules, or a *Rejection naming the first failed check.
func Validate(iv model.Interval, rules Rules) error {
	if iv.Start.IsZero() || iv.End.IsZero() {
		return reject(ReasonInvalidTimestamps, "start and end are required")
	}
	loc, err := rules.Location()
	if err != nil {
		return reject(ReasonInvalidTimezone, "%q", rules.Timezone)
	}
	if !iv.End.After(iv.Start) {
		return reject(ReasonEndNotAfterStart, "end %s is not after start %s", iv.End.Format(time.RFC3339), iv.Start.Format(time.RFC3339))
	}

	start := iv.Start.In(loc)
	end := iv.End.In(loc)

	if !rules.AllowWeekends {
		if wd := start.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return reject(ReasonWeekendsClosed, "%s is a %s", start.Format("2006-01-02"), wd)
		}
	}

	startHour := fractionalHour(start)
	endHour := fractionalHour(end)
	if days := localDaysBetween(start, end); days > 0 {
		endHour += 24 * float64(days)
	}
	if startHour < float64(rules.StartHour) || endHour > float64(rules.EndHour) {
		return reject(ReasonOutsideHours, "open %02d:00-%02d:00 %s", rules.StartHour, rules.EndHour, rules.Timezone)
	}

	if rules.HasLunch() {
		lunch := model.Interval{
			Start: atHour(start, *rules.LunchStartHour),
			End:   atHour(start, *rules.LunchEndHour),
		}
		if lunch.Overlaps(model.Interval{Start: start, End: end}) {
			return reject(ReasonOverlapsLunch, "lunch %02d:00-%02d:00", *rules.LunchStartHour, *rules.LunchEndHour)
		}
	}
	return nil
}

func fractionalHour(t time.Time) float64 {
	return float64(t.Hour()) + float64(t.Minute())/60 + float64(t.Second())/3600
}

func localDaysBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// atHour returns the wall-clock hour on t's local date.
func atHour(t time.Time, hour int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
}

package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/policy"
)

// AvailableSlots returns the slots of length duration within [dayStart, dayEnd) that pass
// policy.Validate and overlap none of busy. Candidates are stepped in absolute time by the
// rules' step and emitted in the rules' zone. Candidates starting before now are skipped.
func AvailableSlots(dayStart, dayEnd time.Time, duration time.Duration, rules policy.Rules, busy []model.Interval, now time.Time) []model.Slot {
	step := rules.Step()
	if duration <= 0 || !dayEnd.After(dayStart) {
		return nil
	}
	loc, err := rules.Location()
	if err != nil {
		return nil
	}

	var slots []model.Slot
	for t := dayStart.UTC(); !t.Add(duration).After(dayEnd); t = t.Add(step) {
		if t.Before(now) {
			continue
		}
		candidate := model.Interval{Start: t.In(loc), End: t.Add(duration).In(loc)}
		if policy.Validate(candidate, rules) != nil {
			continue
		}
		if model.OverlapsAny(candidate, busy) {
			continue
		}
		slots = append(slots, model.Slot{StartTime: candidate.Start, EndTime: candidate.End})
	}
	return slots
}

// DayWindow is the opening window of date (YYYY-MM-DD) in the rules' zone.
func DayWindow(date string, rules policy.Rules) (model.Interval, error) {
	loc, err := rules.Location()
	if err != nil {
		return model.Interval{}, &policy.Rejection{Reason: policy.ReasonInvalidTimezone, Detail: rules.Timezone}
	}
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return model.Interval{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), rules.StartHour, 0, 0, 0, loc)
	end := time.Date(day.Year(), day.Month(), day.Day(), rules.EndHour, 0, 0, 0, loc)
	return model.Interval{Start: start, End: end}, nil
}

type Generator struct {
	rules     policy.Provider
	checker   *Checker
	calendars calendar.Connector
	now       func() time.Time
}

type GeneratorOption func(*Generator)

// WithClock overrides the clock used to skip past candidates.
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

func NewGenerator(rules policy.Provider, checker *Checker, calendars calendar.Connector, opts ...GeneratorOption) *Generator {
	g := &Generator{rules: rules, checker: checker, calendars: calendars, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate recomputes the free slots for date on every call. Slots are not reserved.
func (g *Generator) Generate(ctx context.Context, tenantID, date string, durationMinutes int, timezone string) ([]model.Slot, error) {
	if durationMinutes <= 0 {
		return nil, fmt.Errorf("duration_minutes must be positive, got %d", durationMinutes)
	}
	rules, err := g.rules.Rules(ctx, tenantID, timezone)
	if err != nil {
		return nil, fmt.Errorf("load business rules: %w", err)
	}
	window, err := DayWindow(date, rules)
	if err != nil {
		return nil, err
	}
	if !rules.AllowWeekends {
		if wd := window.Start.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return []model.Slot{}, nil
		}
	}

	cal, err := g.calendars.ForTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	busy, err := g.checker.BusyIntervals(ctx, tenantID, cal, window)
	if err != nil {
		return nil, err
	}

	slots := AvailableSlots(window.Start, window.End, time.Duration(durationMinutes)*time.Minute, rules, busy, g.now())
	if slots == nil {
		slots = []model.Slot{}
	}
	return slots, nil
}

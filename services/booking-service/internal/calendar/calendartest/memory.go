// Package calendartest provides an in-memory calendar for tests.
package calendartest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/model"
)

type Memory struct {
	mu     sync.Mutex
	seq    int
	events map[string]calendar.Event

	// Err, when set, is returned by the named operation ("freebusy", "list", "create", "delete").
	Err map[string]error

	Calls []string
}

func NewMemory() *Memory {
	return &Memory{events: map[string]calendar.Event{}, Err: map[string]error{}}
}

// Add inserts an event directly, bypassing CreateEvent.
func (m *Memory) Add(ev calendar.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.ID == "" {
		m.seq++
		ev.ID = fmt.Sprintf("seed-%d", m.seq)
	}
	m.events[ev.ID] = ev
}

func (m *Memory) Has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.events[id]
	return ok
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *Memory) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c == op {
			n++
		}
	}
	return n
}

func (m *Memory) record(op string) error {
	m.Calls = append(m.Calls, op)
	return m.Err[op]
}

func (m *Memory) FreeBusy(_ context.Context, start, end time.Time) ([]model.Interval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("freebusy"); err != nil {
		return nil, err
	}
	window := model.Interval{Start: start, End: end}
	var busy []model.Interval
	for _, ev := range m.sorted() {
		if ev.Blocks() && ev.Interval().Overlaps(window) {
			busy = append(busy, ev.Interval())
		}
	}
	return busy, nil
}

func (m *Memory) ListEvents(_ context.Context, start, end time.Time) ([]calendar.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("list"); err != nil {
		return nil, err
	}
	window := model.Interval{Start: start, End: end}
	var out []calendar.Event
	for _, ev := range m.sorted() {
		if ev.Interval().Overlaps(window) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *Memory) CreateEvent(_ context.Context, in calendar.EventInput) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("create"); err != nil {
		return "", err
	}
	m.seq++
	id := fmt.Sprintf("evt-%d", m.seq)
	m.events[id] = calendar.Event{ID: id, Summary: in.Summary, Start: in.Start, End: in.End}
	return id, nil
}

func (m *Memory) DeleteEvent(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("delete"); err != nil {
		return err
	}
	delete(m.events, eventID)
	return nil
}

func (m *Memory) sorted() []calendar.Event {
	out := make([]calendar.Event, 0, len(m.events))
	for _, ev := range m.events {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Connector hands out the same Memory for every tenant, or ErrNotConnected when Cal is nil.
type Connector struct {
	Cal *Memory
}

func (c Connector) ForTenant(context.Context, string) (calendar.Calendar, error) {
	if c.Cal == nil {
		return nil, calendar.ErrNotConnected
	}
	return c.Cal, nil
}

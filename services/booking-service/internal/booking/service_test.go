package booking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/calendar/calendartest"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/events"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/idempotency"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/storage"
)

const tenant = "tenant-1"

type memoryStore struct {
	mu        sync.Mutex
	seq       int
	rows      map[string]model.Appointment
	insertErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: map[string]model.Appointment{}}
}

func (m *memoryStore) insertLocked(a model.Appointment) model.Appointment {
	m.seq++
	a.ID = fmt.Sprintf("appt-%d", m.seq)
	a.CreatedAt = time.Now()
	m.rows[a.ID] = a
	return a
}

func (m *memoryStore) Insert(_ context.Context, a model.Appointment) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return model.Appointment{}, m.insertErr
	}
	return m.insertLocked(a), nil
}

func (m *memoryStore) Get(_ context.Context, tenantID, id string) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok || a.TenantID != tenantID {
		return model.Appointment{}, storage.ErrNotFound
	}
	return a, nil
}

func (m *memoryStore) MarkCancelled(_ context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok || a.TenantID != tenantID || a.Status != model.StatusBooked {
		return storage.ErrStatusChanged
	}
	a.Status = model.StatusCancelled
	m.rows[id] = a
	return nil
}

func (m *memoryStore) Replace(_ context.Context, tenantID, oldID string, next model.Appointment) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.rows[oldID]
	if !ok || old.TenantID != tenantID || old.Status != model.StatusBooked {
		return model.Appointment{}, storage.ErrStatusChanged
	}
	old.Status = model.StatusRescheduled
	m.rows[oldID] = old
	next.PreviousAppointmentID = oldID
	return m.insertLocked(next), nil
}

func (m *memoryStore) FindBooked(_ context.Context, tenantID string, f model.FindFilter) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Appointment
	for _, a := range m.rows {
		if a.TenantID != tenantID || a.Status != model.StatusBooked {
			continue
		}
		if f.CustomerPhone != "" && a.CustomerPhone != f.CustomerPhone {
			continue
		}
		if f.CustomerEmail != "" && a.CustomerEmail != f.CustomerEmail {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memoryStore) HasOverlappingBooked(_ context.Context, tenantID string, iv model.Interval, excludeID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.rows {
		if a.TenantID == tenantID && a.Status == model.StatusBooked && a.ID != excludeID && a.Interval().Overlaps(iv) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStore) BookedIntervals(context.Context, string, model.Interval) ([]model.Interval, error) {
	return nil, nil
}

func (m *memoryStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type recordingPublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *recordingPublisher) Publish(_ context.Context, eventType, _ string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, eventType)
	return nil
}

type fixture struct {
	svc    *Service
	store  *memoryStore
	cal    *calendartest.Memory
	ledger *idempotency.MemoryStore
	pub    *recordingPublisher
	loc    *time.Location
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	loc, err := time.LoadLocation("America/Toronto")
	require.NoError(t, err)

	f := &fixture{
		store:  newMemoryStore(),
		cal:    calendartest.NewMemory(),
		ledger: idempotency.NewMemoryStore(),
		pub:    &recordingPublisher{},
		loc:    loc,
	}
	f.svc = NewService(Deps{
		Store:     f.store,
		Ledger:    idempotency.NewLedger(f.ledger),
		Rules:     policy.NewStaticProvider(policy.Default("America/Toronto")),
		Checker:   availability.NewChecker(f.store),
		Calendars: calendartest.Connector{Cal: f.cal},
		Events:    f.pub,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

// wed returns a time on Wednesday 2026-03-04 in Toronto.
func (f *fixture) wed(h, m int) time.Time {
	return time.Date(2026, 3, 4, h, m, 0, 0, f.loc)
}

func (f *fixture) book(t *testing.T, h, m int, key string) BookResult {
	t.Helper()
	res, err := f.svc.Book(context.Background(), tenant, BookRequest{
		Start:          f.wed(h, m),
		End:            f.wed(h, m).Add(30 * time.Minute),
		Customer:       Customer{Name: "Ada", Phone: "+15550100", Email: "ada@example.com"},
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	return res
}

func TestBookCreatesEventThenRow(t *testing.T) {
	f := newFixture(t)
	res := f.book(t, 10, 0, "call-1")

	require.NotEmpty(t, res.AppointmentID)
	require.NotEmpty(t, res.ExternalEventID)
	assert.True(t, f.cal.Has(res.ExternalEventID))
	assert.Equal(t, "America/Toronto", res.StartTime.Location().String())

	appt, err := f.store.Get(context.Background(), tenant, res.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusBooked, appt.Status)
	assert.Equal(t, res.ExternalEventID, appt.ExternalEventID)
	assert.Equal(t, "America/Toronto", appt.Timezone)
	assert.Equal(t, []string{events.AppointmentBooked}, f.pub.types)
}

func TestBookIdempotentReplay(t *testing.T) {
	f := newFixture(t)
	first := f.book(t, 10, 0, "call-1")

	// Same key, different payload.
	second, err := f.svc.Book(context.Background(), tenant, BookRequest{
		Start:          f.wed(14, 0),
		End:            f.wed(14, 30),
		IdempotencyKey: "call-1",
	})
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.AppointmentID, second.AppointmentID)
	assert.Equal(t, first.ExternalEventID, second.ExternalEventID)
	assert.True(t, first.StartTime.Equal(second.StartTime))
	assert.Equal(t, 1, f.store.count())
	assert.Equal(t, 1, f.cal.CallCount("create"))
}

func TestBookStoreConflictSkipsCalendar(t *testing.T) {
	f := newFixture(t)
	f.book(t, 10, 0, "call-1")
	calls := len(f.cal.Calls)

	_, err := f.svc.Book(context.Background(), tenant, BookRequest{
		Start:          f.wed(10, 15),
		End:            f.wed(10, 45),
		IdempotencyKey: "call-2",
	})
	require.ErrorIs(t, err, ErrConflict)
	assert.Len(t, f.cal.Calls, calls, "no calendar call after a store conflict")
	assert.Equal(t, 1, f.store.count())
}

func TestBookCalendarConflict(t *testing.T) {
	f := newFixture(t)
	f.cal.Add(calendar.Event{ID: "external", Start: f.wed(15, 0), End: f.wed(16, 0)})

	_, err := f.svc.Book(context.Background(), tenant, BookRequest{Start: f.wed(15, 30), End: f.wed(16, 0), IdempotencyKey: "k"})
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 0, f.store.count())
	assert.Equal(t, 0, f.cal.CallCount("create"))
}

func TestBookRejectsOutOfPolicy(t *testing.T) {
	f := newFixture(t)
	sat := time.Date(2026, 3, 7, 10, 0, 0, 0, f.loc)

	_, err := f.svc.Book(context.Background(), tenant, BookRequest{Start: sat, End: sat.Add(30 * time.Minute), IdempotencyKey: "k"})
	rej, ok := policy.IsRejection(err)
	require.True(t, ok, "expected rejection, got %v", err)
	assert.Equal(t, policy.ReasonWeekendsClosed, rej.Reason)
	assert.Empty(t, f.cal.Calls)

	_, err = f.svc.Book(context.Background(), tenant, BookRequest{Start: f.wed(11, 0), End: f.wed(10, 0), IdempotencyKey: "k2"})
	rej, ok = policy.IsRejection(err)
	require.True(t, ok)
	assert.Equal(t, policy.ReasonEndNotAfterStart, rej.Reason)
}

func TestBookInsertFailureLeavesEvent(t *testing.T) {
	f := newFixture(t)
	f.store.insertErr = errors.New("connection reset")

	_, err := f.svc.Book(context.Background(), tenant, BookRequest{Start: f.wed(9, 0), End: f.wed(9, 30), IdempotencyKey: "k"})
	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, "store", upErr.Op)
	assert.Equal(t, 1, f.cal.Len(), "orphaned event is not compensated")
	assert.Equal(t, 0, f.ledger.Len(), "failures are not recorded")
}

func TestBookWithoutCalendar(t *testing.T) {
	f := newFixture(t)
	f.svc.calendars = calendartest.Connector{}

	_, err := f.svc.Book(context.Background(), tenant, BookRequest{Start: f.wed(9, 0), End: f.wed(9, 30)})
	require.ErrorIs(t, err, calendar.ErrNotConnected)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	booked := f.book(t, 10, 0, "call-1")

	res, err := f.svc.Cancel(context.Background(), tenant, CancelRequest{AppointmentID: booked.AppointmentID, IdempotencyKey: "cancel-1"})
	require.NoError(t, err)
	assert.Equal(t, booked.AppointmentID, res.CancelledAppointmentID)
	assert.False(t, f.cal.Has(booked.ExternalEventID))

	appt, _ := f.store.Get(context.Background(), tenant, booked.AppointmentID)
	assert.Equal(t, model.StatusCancelled, appt.Status)

	replay, err := f.svc.Cancel(context.Background(), tenant, CancelRequest{AppointmentID: booked.AppointmentID, IdempotencyKey: "cancel-1"})
	require.NoError(t, err)
	assert.True(t, replay.Replayed)

	_, err = f.svc.Cancel(context.Background(), tenant, CancelRequest{AppointmentID: booked.AppointmentID, IdempotencyKey: "cancel-2"})
	require.ErrorIs(t, err, ErrNotBooked)
}

func TestCancelCalendarFailureKeepsBooked(t *testing.T) {
	f := newFixture(t)
	booked := f.book(t, 10, 0, "call-1")
	f.cal.Err["delete"] = errors.New("calendar unavailable")

	_, err := f.svc.Cancel(context.Background(), tenant, CancelRequest{AppointmentID: booked.AppointmentID, IdempotencyKey: "cancel-1"})
	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)

	appt, _ := f.store.Get(context.Background(), tenant, booked.AppointmentID)
	assert.Equal(t, model.StatusBooked, appt.Status)
	assert.Equal(t, 1, f.ledger.Len(), "only the booking is recorded")
}

func TestCancelIsTenantScoped(t *testing.T) {
	f := newFixture(t)
	booked := f.book(t, 10, 0, "call-1")

	_, err := f.svc.Cancel(context.Background(), "tenant-2", CancelRequest{AppointmentID: booked.AppointmentID})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Cancel(context.Background(), tenant, CancelRequest{AppointmentID: "missing"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRescheduleInvariant(t *testing.T) {
	f := newFixture(t)
	booked := f.book(t, 10, 0, "call-1")

	// Overlaps the old slot; the old appointment and its event must not conflict with themselves.
	res, err := f.svc.Reschedule(context.Background(), tenant, RescheduleRequest{
		AppointmentID:  booked.AppointmentID,
		NewStart:       f.wed(10, 15),
		NewEnd:         f.wed(10, 45),
		IdempotencyKey: "resched-1",
	})
	require.NoError(t, err)
	assert.Equal(t, booked.AppointmentID, res.OldAppointmentID)

	old, _ := f.store.Get(context.Background(), tenant, booked.AppointmentID)
	assert.Equal(t, model.StatusRescheduled, old.Status)

	next, err := f.store.Get(context.Background(), tenant, res.NewAppointmentID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusBooked, next.Status)
	assert.Equal(t, booked.AppointmentID, next.PreviousAppointmentID)
	assert.Equal(t, "Ada", next.CustomerName)

	assert.False(t, f.cal.Has(booked.ExternalEventID))
	assert.True(t, f.cal.Has(res.NewExternalEventID))

	booked2, err := f.svc.Find(context.Background(), tenant, model.FindFilter{CustomerPhone: "+15550100"})
	require.NoError(t, err)
	require.Len(t, booked2, 1)
	assert.Equal(t, res.NewAppointmentID, booked2[0].ID)

	_, err = f.svc.Reschedule(context.Background(), tenant, RescheduleRequest{
		AppointmentID: booked.AppointmentID,
		NewStart:      f.wed(14, 0),
		NewEnd:        f.wed(14, 30),
	})
	require.ErrorIs(t, err, ErrNotBooked, "rescheduled is terminal")
	assert.Contains(t, f.pub.types, events.AppointmentRescheduled)
}

func TestRescheduleConflictLeavesOldIntact(t *testing.T) {
	f := newFixture(t)
	first := f.book(t, 10, 0, "call-1")
	f.book(t, 14, 0, "call-2")

	_, err := f.svc.Reschedule(context.Background(), tenant, RescheduleRequest{
		AppointmentID:  first.AppointmentID,
		NewStart:       f.wed(14, 15),
		NewEnd:         f.wed(14, 45),
		IdempotencyKey: "resched-1",
	})
	require.ErrorIs(t, err, ErrConflict)

	old, _ := f.store.Get(context.Background(), tenant, first.AppointmentID)
	assert.Equal(t, model.StatusBooked, old.Status)
	assert.True(t, f.cal.Has(first.ExternalEventID))
	assert.Equal(t, 0, f.cal.CallCount("delete"))
}

func TestRescheduleCalendarConflict(t *testing.T) {
	f := newFixture(t)
	first := f.book(t, 10, 0, "call-1")
	f.cal.Add(calendar.Event{ID: "dentist", Start: f.wed(15, 0), End: f.wed(16, 0)})

	_, err := f.svc.Reschedule(context.Background(), tenant, RescheduleRequest{
		AppointmentID: first.AppointmentID,
		NewStart:      f.wed(15, 30),
		NewEnd:        f.wed(16, 0),
	})
	require.ErrorIs(t, err, ErrConflict)
	assert.True(t, f.cal.Has(first.ExternalEventID))
}

func TestFind(t *testing.T) {
	f := newFixture(t)
	f.book(t, 14, 0, "a")
	f.book(t, 9, 0, "b")
	f.book(t, 10, 30, "c")

	_, err := f.svc.Find(context.Background(), tenant, model.FindFilter{})
	require.ErrorIs(t, err, ErrMissingContact)

	got, err := f.svc.Find(context.Background(), tenant, model.FindFilter{CustomerEmail: "ada@example.com", Limit: 2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].StartTime.Before(got[1].StartTime))
	assert.Equal(t, 9, got[0].StartTime.In(f.loc).Hour())

	none, err := f.svc.Find(context.Background(), tenant, model.FindFilter{CustomerPhone: "+10000000000"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

// interleavingLocker runs during once, from inside the first Lock call, to stand in for a
// competing request that completes while this one waits for the lock.
type interleavingLocker struct {
	mu     sync.Mutex
	during func()
}

func (l *interleavingLocker) Lock(context.Context, string) (func(), error) {
	l.mu.Lock()
	fn := l.during
	l.during = nil
	l.mu.Unlock()
	if fn != nil {
		fn()
	}
	return func() {}, nil
}

func TestBookRetryWaitingOnLockReplays(t *testing.T) {
	f := newFixture(t)
	l := &interleavingLocker{}
	f.svc.locker = l
	req := BookRequest{
		Start:          f.wed(10, 0),
		End:            f.wed(10, 30),
		Customer:       Customer{Name: "Ada"},
		IdempotencyKey: "call-1",
	}

	var first BookResult
	l.during = func() {
		var err error
		first, err = f.svc.Book(context.Background(), tenant, req)
		require.NoError(t, err)
	}
	second, err := f.svc.Book(context.Background(), tenant, req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.AppointmentID, second.AppointmentID)
	assert.Equal(t, 1, f.store.count())
	assert.Equal(t, 1, f.cal.Len())
}

func TestRescheduleRetryWaitingOnLockReplays(t *testing.T) {
	f := newFixture(t)
	booked := f.book(t, 10, 0, "book-1")
	l := &interleavingLocker{}
	f.svc.locker = l
	req := RescheduleRequest{
		AppointmentID:  booked.AppointmentID,
		NewStart:       f.wed(14, 0),
		NewEnd:         f.wed(14, 30),
		IdempotencyKey: "move-1",
	}

	var first RescheduleResult
	l.during = func() {
		var err error
		first, err = f.svc.Reschedule(context.Background(), tenant, req)
		require.NoError(t, err)
	}
	second, err := f.svc.Reschedule(context.Background(), tenant, req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.NewAppointmentID, second.NewAppointmentID)
	assert.Equal(t, 2, f.store.count())
	assert.Equal(t, 1, f.cal.Len())
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/md-rashed-zaman/voicebook/libs/auth"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/ingestion"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/voicebook/services/booking-service/internal/tenancy"
)

const goodToken = "vbk_abc_secret"

type fakeAuth struct{}

func (fakeAuth) Authenticate(_ context.Context, raw string) (tenancy.Tenant, error) {
	if raw != goodToken {
		return tenancy.Tenant{}, tenancy.ErrUnauthorized
	}
	return tenancy.Tenant{ID: "t1", Name: "Acme", Timezone: "America/Toronto"}, nil
}

type fakeBookings struct {
	bookReq   booking.BookRequest
	bookErr   error
	cancelErr error
	findReq   model.FindFilter
	found     []model.Appointment
}

func (f *fakeBookings) Book(_ context.Context, _ string, req booking.BookRequest) (booking.BookResult, error) {
	f.bookReq = req
	if f.bookErr != nil {
		return booking.BookResult{}, f.bookErr
	}
	return booking.BookResult{AppointmentID: "a1", ExternalEventID: "evt-1", StartTime: req.Start, EndTime: req.End}, nil
}

func (f *fakeBookings) Cancel(_ context.Context, _ string, req booking.CancelRequest) (booking.CancelResult, error) {
	if f.cancelErr != nil {
		return booking.CancelResult{}, f.cancelErr
	}
	return booking.CancelResult{CancelledAppointmentID: req.AppointmentID}, nil
}

func (f *fakeBookings) Reschedule(_ context.Context, _ string, req booking.RescheduleRequest) (booking.RescheduleResult, error) {
	return booking.RescheduleResult{OldAppointmentID: req.AppointmentID, NewAppointmentID: "a2", NewExternalEventID: "evt-2", StartTime: req.NewStart, EndTime: req.NewEnd}, nil
}

func (f *fakeBookings) Find(_ context.Context, _ string, filter model.FindFilter) ([]model.Appointment, error) {
	f.findReq = filter
	return f.found, nil
}

type fakeSlots struct {
	slots []model.Slot
	err   error
	tz    string
}

func (f *fakeSlots) Generate(_ context.Context, _ string, _ string, _ int, tz string) ([]model.Slot, error) {
	f.tz = tz
	return f.slots, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newToolServer(b *fakeBookings, s *fakeSlots) *http.ServeMux {
	mux := http.NewServeMux()
	NewToolHandler(fakeAuth{}, NewToolSet(b, s, policy.NewStaticProvider(policy.Default("America/Toronto")), nil, testLogger()), testLogger()).Register(mux, nil)
	return mux
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestToolsRequireToken(t *testing.T) {
	mux := newToolServer(&fakeBookings{}, &fakeSlots{})
	for _, path := range []string{"/tools/check-availability", "/tools/book-appointment?token=wrong"} {
		rec := post(t, mux, path, `{}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestToolsRejectNonPost(t *testing.T) {
	mux := newToolServer(&fakeBookings{}, &fakeSlots{})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tools/find-appointment?token="+goodToken, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCheckAvailability(t *testing.T) {
	start := time.Date(2025, 3, 5, 14, 0, 0, 0, time.UTC)
	slots := &fakeSlots{slots: []model.Slot{{StartTime: start, EndTime: start.Add(30 * time.Minute)}}}
	mux := newToolServer(&fakeBookings{}, slots)

	rec := post(t, mux, "/tools/check-availability?token="+goodToken, `{"date":"2025-03-05","duration_minutes":30}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp CheckAvailabilityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Slots, 1)
	assert.True(t, resp.Slots[0].StartTime.Equal(start))
	assert.Equal(t, "America/Toronto", slots.tz, "tenant zone is the fallback")
}

func TestCheckAvailabilityValidation(t *testing.T) {
	mux := newToolServer(&fakeBookings{}, &fakeSlots{})
	rec := post(t, mux, "/tools/check-availability?token="+goodToken, `{"date":"05/03/2025","duration_minutes":0}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	fields := map[string]bool{}
	for _, f := range body.Fields {
		fields[f.Field] = true
	}
	assert.True(t, fields["date"])
	assert.True(t, fields["duration_minutes"])
}

func TestCheckAvailabilityUpstream(t *testing.T) {
	mux := newToolServer(&fakeBookings{}, &fakeSlots{err: errors.New("googleapi: 500")})
	rec := post(t, mux, "/tools/check-availability?token="+goodToken, `{"date":"2025-03-05","duration_minutes":30}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "googleapi")
}

func TestBookAppointment(t *testing.T) {
	b := &fakeBookings{}
	mux := newToolServer(b, &fakeSlots{})

	rec := post(t, mux, "/tools/book-appointment?token="+goodToken, `{
		"start_time": "2025-03-05T10:00:00-05:00",
		"end_time": "2025-03-05T10:30:00-05:00",
		"customer_name": " Ada ",
		"customer_phone": "+15550100",
		"idempotency_key": "call-1"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "a1", resp["appointment_id"])
	assert.Equal(t, "evt-1", resp["external_event_id"])
	assert.NotContains(t, resp, "Replayed")

	assert.Equal(t, "Ada", b.bookReq.Customer.Name)
	assert.Equal(t, "call-1", b.bookReq.IdempotencyKey)
	assert.True(t, b.bookReq.Start.Equal(time.Date(2025, 3, 5, 15, 0, 0, 0, time.UTC)))
}

func TestBookAppointmentWallClockUsesTimezone(t *testing.T) {
	b := &fakeBookings{}
	mux := newToolServer(b, &fakeSlots{})
	rec := post(t, mux, "/tools/book-appointment?token="+goodToken,
		`{"args":{"start_time":"2025-03-05T10:00:00","end_time":"2025-03-05T10:30:00","timezone":"America/Toronto","idempotency_key":"k"},"call":{"call_id":"c"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, b.bookReq.Start.Equal(time.Date(2025, 3, 5, 15, 0, 0, 0, time.UTC)))
	assert.Equal(t, "America/Toronto", b.bookReq.Timezone)
}

func TestBookAppointmentRequiresIdempotencyKey(t *testing.T) {
	b := &fakeBookings{}
	mux := newToolServer(b, &fakeSlots{})
	rec := post(t, mux, "/tools/book-appointment?token="+goodToken,
		`{"start_time":"2025-03-05T10:00:00Z","end_time":"2025-03-05T10:30:00Z"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "idempotency_key", decodeError(t, rec).Fields[0].Field)
	assert.True(t, b.bookReq.Start.IsZero(), "service must not be called")
}

func TestBookAppointmentBadTimestamp(t *testing.T) {
	mux := newToolServer(&fakeBookings{}, &fakeSlots{})
	rec := post(t, mux, "/tools/book-appointment?token="+goodToken,
		`{"start_time":"tomorrow at ten","end_time":"2025-03-05T10:30:00Z","idempotency_key":"k"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, policy.ReasonInvalidTimestamps, decodeError(t, rec).Reason)
}

func TestBookAppointmentErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&policy.Rejection{Reason: policy.ReasonOverlapsLunch}, http.StatusUnprocessableEntity, "rejected"},
		{booking.ErrConflict, http.StatusConflict, "conflict"},
		{booking.ErrNotFound, http.StatusNotFound, "not_found"},
		{booking.ErrNotBooked, http.StatusConflict, "not_booked"},
		{calendar.ErrNotConnected, http.StatusPreconditionFailed, "calendar_not_connected"},
		{booking.ErrLockTimeout, http.StatusServiceUnavailable, "busy"},
		{&booking.UpstreamError{Op: "calendar", Err: errors.New("x")}, http.StatusBadGateway, "upstream_error"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		b := &fakeBookings{bookErr: tc.err}
		mux := newToolServer(b, &fakeSlots{})
		rec := post(t, mux, "/tools/book-appointment?token="+goodToken,
			`{"start_time":"2025-03-05T10:00:00Z","end_time":"2025-03-05T10:30:00Z","idempotency_key":"k"}`)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		assert.Equal(t, tc.code, decodeError(t, rec).Error, tc.err.Error())
	}
}

func TestCancelAndReschedule(t *testing.T) {
	mux := newToolServer(&fakeBookings{}, &fakeSlots{})

	rec := post(t, mux, "/tools/cancel-appointment?token="+goodToken, `{"appointment_id":"a1","idempotency_key":"k"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cancelled_appointment_id":"a1"}`, rec.Body.String())

	rec = post(t, mux, "/tools/reschedule-appointment?token="+goodToken,
		`{"appointment_id":"a1","new_start_time":"2025-03-06T10:00:00Z","new_end_time":"2025-03-06T10:30:00Z","idempotency_key":"k2"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "a1", resp["old_appointment_id"])
	assert.Equal(t, "a2", resp["new_appointment_id"])
	assert.Equal(t, "evt-2", resp["new_external_event_id"])
}

func TestFindAppointment(t *testing.T) {
	b := &fakeBookings{found: []model.Appointment{{
		ID:        "a1",
		Status:    model.StatusBooked,
		Timezone:  "America/Toronto",
		StartTime: time.Date(2025, 3, 5, 15, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2025, 3, 5, 15, 30, 0, 0, time.UTC),
	}}}
	mux := newToolServer(b, &fakeSlots{})

	rec := post(t, mux, "/tools/find-appointment?token="+goodToken,
		`{"customer_phone":"+15550100","from_date":"2025-03-01","to_date":"2025-03-05","limit":5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp FindAppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, "a1", resp.Matches[0].AppointmentID)

	require.NotNil(t, b.findReq.From)
	require.NotNil(t, b.findReq.To)
	toronto, _ := time.LoadLocation("America/Toronto")
	assert.True(t, b.findReq.To.Equal(time.Date(2025, 3, 6, 0, 0, 0, 0, toronto)), "to_date includes the whole day")
	assert.Equal(t, 5, b.findReq.Limit)
}

func TestFindAppointmentNeedsContact(t *testing.T) {
	mux := newToolServer(&fakeBookings{}, &fakeSlots{})
	rec := post(t, mux, "/tools/find-appointment?token="+goodToken, `{"limit":3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeSubmitter struct {
	tasks []ingestion.Task
	err   error
}

func (f *fakeSubmitter) Submit(_ context.Context, task ingestion.Task) error {
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func TestWebhook(t *testing.T) {
	sub := &fakeSubmitter{}
	h := NewWebhookHandler(fakeAuth{}, sub, testLogger())
	handler := http.HandlerFunc(h.CallEvent)

	rec := post(t, handler, "/webhook?token="+goodToken, `{"event":"call_started","call":{"call_id":"c1"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ignored"}`, rec.Body.String())
	assert.Empty(t, sub.tasks)

	rec = post(t, handler, "/webhook?token="+goodToken+"&tenant_id=t1", `{"event":"call_analyzed","call":{"call_id":"c1"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"accepted"}`, rec.Body.String())

	rec = post(t, handler, "/webhook?token="+goodToken, `{"event":"call_analyzed","call_id":"c2"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, sub.tasks, 2)
	assert.Equal(t, ingestion.Task{TenantID: "t1", CallID: "c1"}, sub.tasks[0])
	assert.Equal(t, "c2", sub.tasks[1].CallID)
}

func TestWebhookRejections(t *testing.T) {
	sub := &fakeSubmitter{}
	handler := http.HandlerFunc(NewWebhookHandler(fakeAuth{}, sub, testLogger()).CallEvent)

	rec := post(t, handler, "/webhook?token=nope", `{"event":"call_analyzed","call_id":"c"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(t, handler, "/webhook?token="+goodToken+"&tenant_id=other", `{"event":"call_analyzed","call_id":"c"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(t, handler, "/webhook?token="+goodToken, `{"event":"call_analyzed"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	sub.err = ingestion.ErrQueueFull
	rec = post(t, handler, "/webhook?token="+goodToken, `{"event":"call_analyzed","call_id":"c"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, sub.tasks)
}

type fakeExchanger struct {
	code  string
	token *oauth2.Token
}

func (f *fakeExchanger) AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string {
	cfg := &oauth2.Config{ClientID: "cid", Endpoint: oauth2.Endpoint{AuthURL: "https://accounts.example/auth"}}
	return cfg.AuthCodeURL(state, opts...)
}

func (f *fakeExchanger) Exchange(_ context.Context, code string, _ ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	f.code = code
	if f.token == nil {
		return nil, errors.New("bad code")
	}
	return f.token, nil
}

type fakeCreds struct {
	saved       map[string]calendar.Credential
	invalidated []string
}

func (f *fakeCreds) SaveCalendarCredential(_ context.Context, tenantID string, c calendar.Credential) error {
	if f.saved == nil {
		f.saved = map[string]calendar.Credential{}
	}
	f.saved[tenantID] = c
	return nil
}

func (f *fakeCreds) Invalidate(tenantID string) {
	f.invalidated = append(f.invalidated, tenantID)
}

func TestOAuthRoundTrip(t *testing.T) {
	ex := &fakeExchanger{token: &oauth2.Token{AccessToken: "at", RefreshToken: "rt"}}
	creds := &fakeCreds{}
	h := NewOAuthHandler(fakeAuth{}, ex, creds, creds, "state-secret", testLogger())

	rec := httptest.NewRecorder()
	h.Start(rec, httptest.NewRequest(http.MethodGet, "/oauth/google/start?token="+goodToken, nil))
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "offline", loc.Query().Get("access_type"))
	assert.Equal(t, "consent", loc.Query().Get("prompt"))
	state := loc.Query().Get("state")
	claims, err := auth.VerifyState(state, "state-secret", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "t1", claims.TenantID)

	rec = httptest.NewRecorder()
	h.Callback(rec, httptest.NewRequest(http.MethodGet, "/oauth/google/callback?code=abc&state="+url.QueryEscape(state), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "abc", ex.code)
	assert.Equal(t, calendar.Credential{RefreshToken: "rt", CalendarID: "primary"}, creds.saved["t1"])
	assert.Equal(t, []string{"t1"}, creds.invalidated)
}

func TestOAuthCallbackRejectsBadState(t *testing.T) {
	creds := &fakeCreds{}
	h := NewOAuthHandler(fakeAuth{}, &fakeExchanger{}, creds, creds, "state-secret", testLogger())
	forged, err := auth.SignState("t1", "other-secret", time.Minute, time.Now())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.Callback(rec, httptest.NewRequest(http.MethodGet, "/oauth/google/callback?code=abc&state="+url.QueryEscape(forged), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, creds.saved)
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicflow/scheduling-engine/internal/scheduling"
)

type fakeScheduler struct {
	slotQuery  scheduling.SlotQuery
	slots      []time.Time
	slotsErr   error
	booking    scheduling.BookingResult
	bookingReq scheduling.CreateAppointmentRequest
	appt       *scheduling.Appointment
	apptErr    error
	transition scheduling.AppointmentStatus
	optimized  []scheduling.OptimizationResult
	placement  scheduling.WaitlistPlacement
	waitReq    scheduling.AddToWaitlistRequest
	waitErr    error
	entries    []scheduling.WaitlistEntry
	listStatus scheduling.WaitlistStatus
	accepted   time.Time
	entry      *scheduling.WaitlistEntry
	notified   int
	expired    int
	sweepErr   error
	expireErr  error
}

func (f *fakeScheduler) FindCandidateSlots(_ context.Context, q scheduling.SlotQuery) ([]time.Time, error) {
	f.slotQuery = q
	return f.slots, f.slotsErr
}

func (f *fakeScheduler) CreateAppointment(_ context.Context, req scheduling.CreateAppointmentRequest) scheduling.BookingResult {
	f.bookingReq = req
	return f.booking
}

func (f *fakeScheduler) GetAppointment(context.Context, uuid.UUID) (*scheduling.Appointment, error) {
	return f.appt, f.apptErr
}

func (f *fakeScheduler) TransitionAppointment(_ context.Context, _ uuid.UUID, to scheduling.AppointmentStatus) (*scheduling.Appointment, error) {
	f.transition = to
	if f.apptErr != nil {
		return nil, f.apptErr
	}
	a := *f.appt
	a.Status = to
	return &a, nil
}

func (f *fakeScheduler) OptimizeSchedule(context.Context, []scheduling.OptimizationRequest) []scheduling.OptimizationResult {
	return f.optimized
}

func (f *fakeScheduler) AddToWaitlist(_ context.Context, req scheduling.AddToWaitlistRequest) (scheduling.WaitlistPlacement, error) {
	f.waitReq = req
	return f.placement, f.waitErr
}

func (f *fakeScheduler) ListWaitlist(_ context.Context, _ uuid.UUID, status scheduling.WaitlistStatus) ([]scheduling.WaitlistEntry, error) {
	f.listStatus = status
	return f.entries, nil
}

func (f *fakeScheduler) AcceptWaitlistOffer(_ context.Context, _ uuid.UUID, slot time.Time) scheduling.BookingResult {
	f.accepted = slot
	return f.booking
}

func (f *fakeScheduler) CancelWaitlistEntry(context.Context, uuid.UUID) (*scheduling.WaitlistEntry, error) {
	return f.entry, f.waitErr
}

func (f *fakeScheduler) SweepNotifications(context.Context) (int, error) {
	return f.notified, f.sweepErr
}

func (f *fakeScheduler) ExpireNotifications(context.Context) (int, error) {
	if f.expireErr != nil {
		return 0, f.expireErr
	}
	return f.expired, nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestRouter(svc *fakeScheduler) http.Handler {
	return NewRouter(RouterConfig{
		Scheduler: svc,
		DB:        fakePinger{},
		Gatherer:  prometheus.NewRegistry(),
		Env:       "test",
		Version:   "v0",
	})
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func validBooking() map[string]any {
	return map[string]any{
		"patient_id":     uuid.NewString(),
		"doctor_id":      uuid.NewString(),
		"procedure_id":   uuid.NewString(),
		"requested_time": "2025-06-02T09:30:00Z",
	}
}

func TestCreateAppointmentStatusCodes(t *testing.T) {
	alt := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	apptID := uuid.New()

	tests := []struct {
		name    string
		result  scheduling.BookingResult
		status  int
		outcome string
		code    string
	}{
		{"booked", scheduling.BookingResult{Outcome: scheduling.OutcomeBooked, AppointmentID: apptID, ScheduledAt: alt}, http.StatusCreated, "booked", ""},
		{"alternative", scheduling.BookingResult{Outcome: scheduling.OutcomeAlternativeOffered, AlternativeTime: alt, Reason: "requested slot unavailable"}, http.StatusConflict, "alternative_offered", ""},
		{"waitlist", scheduling.BookingResult{Outcome: scheduling.OutcomeWaitlistSuggested, Reason: "no available slots found"}, http.StatusConflict, "waitlist_suggested", ""},
		{"doctor missing", scheduling.BookingResult{Outcome: scheduling.OutcomeFailed, Err: scheduling.ErrDoctorNotFound}, http.StatusNotFound, "", "doctor_not_found"},
		{"busy", scheduling.BookingResult{Outcome: scheduling.OutcomeFailed, Err: scheduling.ErrDoctorBusy}, http.StatusConflict, "", "doctor_busy"},
		{"infra", scheduling.BookingResult{Outcome: scheduling.OutcomeFailed, Err: errors.New("connection reset")}, http.StatusInternalServerError, "", "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeScheduler{booking: tt.result}
			rec := do(t, newTestRouter(svc), http.MethodPost, "/appointments", validBooking())

			assert.Equal(t, tt.status, rec.Code)
			if tt.outcome != "" {
				resp := decode[BookingResponse](t, rec)
				assert.Equal(t, tt.outcome, resp.Outcome)
				return
			}
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestCreateAppointmentBookedPayload(t *testing.T) {
	apptID := uuid.New()
	at := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	svc := &fakeScheduler{booking: scheduling.BookingResult{Outcome: scheduling.OutcomeBooked, AppointmentID: apptID, ScheduledAt: at}}
	body := validBooking()

	rec := do(t, newTestRouter(svc), http.MethodPost, "/appointments", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decode[BookingResponse](t, rec)
	require.NotNil(t, resp.AppointmentID)
	assert.Equal(t, apptID, *resp.AppointmentID)
	assert.Nil(t, resp.AlternativeTime)
	assert.Equal(t, body["doctor_id"], svc.bookingReq.DoctorID.String())
	assert.True(t, at.Equal(svc.bookingReq.RequestedTime))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCreateAppointmentValidation(t *testing.T) {
	body := validBooking()
	body["doctor_id"] = "not-a-uuid"
	delete(body, "requested_time")

	rec := do(t, newTestRouter(&fakeScheduler{}), http.MethodPost, "/appointments", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "validation_failed", resp.Error)
	assert.Contains(t, resp.Fields, "DoctorID")
	assert.Contains(t, resp.Fields, "RequestedTime")

	req := httptest.NewRequest(http.MethodPost, "/appointments", bytes.NewBufferString("{"))
	rec = httptest.NewRecorder()
	newTestRouter(&fakeScheduler{}).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request_body", decode[ErrorResponse](t, rec).Error)
}

func TestFindSlots(t *testing.T) {
	slot := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	svc := &fakeScheduler{slots: []time.Time{slot}}
	doctorID := uuid.New()

	rec := do(t, newTestRouter(svc), http.MethodGet,
		fmt.Sprintf("/doctors/%s/slots?start=2025-06-02&end=2025-06-08&time_of_day=morning&days=1,3", doctorID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[SlotsResponse](t, rec)
	assert.Equal(t, doctorID, resp.DoctorID)
	require.Len(t, resp.Slots, 1)
	assert.True(t, slot.Equal(resp.Slots[0]))

	assert.Equal(t, doctorID, svc.slotQuery.DoctorID)
	assert.Equal(t, time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC), svc.slotQuery.End)
	require.NotNil(t, svc.slotQuery.Preferences)
	assert.Equal(t, scheduling.Morning, svc.slotQuery.Preferences.TimeOfDay)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday}, svc.slotQuery.Preferences.DaysOfWeek)
}

func TestFindSlotsBadInput(t *testing.T) {
	h := newTestRouter(&fakeScheduler{})
	id := uuid.NewString()

	tests := map[string]string{
		"bad doctor":  "/doctors/xyz/slots?start=2025-06-02",
		"bad start":   "/doctors/" + id + "/slots?start=06/02/2025",
		"bad days":    "/doctors/" + id + "/slots?start=2025-06-02&days=7",
		"bad daypart": "/doctors/" + id + "/slots?start=2025-06-02&time_of_day=night",
	}
	for name, path := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, path, nil).Code)
		})
	}

	svc := &fakeScheduler{slotsErr: fmt.Errorf("%w: range too long", scheduling.ErrInvalidInput)}
	rec := do(t, newTestRouter(svc), http.MethodGet, "/doctors/"+id+"/slots?start=2025-06-02&end=2026-06-02", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decode[ErrorResponse](t, rec).Error)
}

func TestTransitionAppointment(t *testing.T) {
	appt := &scheduling.Appointment{ID: uuid.New(), Status: scheduling.StatusPending}
	svc := &fakeScheduler{appt: appt}
	h := newTestRouter(svc)

	rec := do(t, h, http.MethodPost, "/appointments/"+appt.ID.String()+"/no-show", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, scheduling.StatusNoShow, svc.transition)
	assert.Equal(t, "no_show", decode[AppointmentResponse](t, rec).Status)

	rec = do(t, h, http.MethodPost, "/appointments/"+appt.ID.String()+"/archive", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	svc.apptErr = fmt.Errorf("%w: completed -> confirmed", scheduling.ErrInvalidStatusTransition)
	rec = do(t, h, http.MethodPost, "/appointments/"+appt.ID.String()+"/confirm", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetAppointmentNotFound(t *testing.T) {
	svc := &fakeScheduler{apptErr: scheduling.ErrAppointmentNotFound}
	rec := do(t, newTestRouter(svc), http.MethodGet, "/appointments/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "appointment_not_found", decode[ErrorResponse](t, rec).Error)
}

func TestOptimize(t *testing.T) {
	orig := time.Date(2025, 6, 2, 16, 0, 0, 0, time.UTC)
	svc := &fakeScheduler{optimized: []scheduling.OptimizationResult{
		{OriginalTime: orig, OptimizedTime: orig.Add(-6 * time.Hour), TimeDiffMinutes: 360, WaitReductionMinutes: 30, Score: 0.5, Found: true},
		{OriginalTime: orig, OptimizedTime: orig, Err: scheduling.ErrDoctorNotFound},
	}}

	rec := do(t, newTestRouter(svc), http.MethodPost, "/optimize", map[string]any{
		"requests": []map[string]any{validBooking(), validBooking()},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[OptimizeResponse](t, rec)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, 360, resp.Results[0].TimeDiffMinutes)
	assert.Equal(t, 0.5, resp.Results[0].Score)
	assert.Equal(t, "doctor not found", resp.Results[1].Error)

	rec = do(t, newTestRouter(svc), http.MethodPost, "/optimize", map[string]any{"requests": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddToWaitlist(t *testing.T) {
	svc := &fakeScheduler{placement: scheduling.WaitlistPlacement{WaitlistID: uuid.New(), QueuePosition: 2, PriorityScore: 70}}
	body := map[string]any{
		"patient_id":     uuid.NewString(),
		"doctor_id":      uuid.NewString(),
		"procedure_id":   uuid.NewString(),
		"preferred_date": "2025-06-02",
		"time_start":     "10:00",
	}

	rec := do(t, newTestRouter(svc), http.MethodPost, "/waitlist", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decode[WaitlistPlacementResponse](t, rec)
	assert.Equal(t, 2, resp.QueuePosition)
	assert.Equal(t, 70, resp.PriorityScore)

	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), svc.waitReq.PreferredDate)
	require.NotNil(t, svc.waitReq.TimeStart)
	assert.Equal(t, scheduling.NewTimeOfDay(10, 0), *svc.waitReq.TimeStart)
	assert.Nil(t, svc.waitReq.TimeEnd)

	body["time_end"] = "5pm"
	rec = do(t, newTestRouter(svc), http.MethodPost, "/waitlist", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Fields, "TimeEnd")
}

func TestAddToWaitlistRejectsImpossibleDate(t *testing.T) {
	svc := &fakeScheduler{}
	body := map[string]any{
		"patient_id":     uuid.NewString(),
		"doctor_id":      uuid.NewString(),
		"procedure_id":   uuid.NewString(),
		"preferred_date": "2025-02-30",
	}

	rec := do(t, newTestRouter(svc), http.MethodPost, "/waitlist", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, svc.waitReq.PreferredDate.IsZero())
}

func TestListWaitlist(t *testing.T) {
	entry := scheduling.WaitlistEntry{
		ID:            uuid.New(),
		PreferredDate: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		TimeStart:     scheduling.NewTimeOfDay(9, 0),
		TimeEnd:       scheduling.NewTimeOfDay(17, 0),
		Status:        scheduling.WaitlistWaiting,
		PriorityScore: 50,
	}
	svc := &fakeScheduler{entries: []scheduling.WaitlistEntry{entry}}
	h := newTestRouter(svc)

	rec := do(t, h, http.MethodGet, "/doctors/"+uuid.NewString()+"/waitlist?status=waiting", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, scheduling.WaitlistWaiting, svc.listStatus)

	resp := decode[WaitlistListResponse](t, rec)
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "2025-06-02", resp.Entries[0].PreferredDate)
	assert.Equal(t, "09:00", resp.Entries[0].TimeStart)

	rec = do(t, h, http.MethodGet, "/doctors/"+uuid.NewString()+"/waitlist?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAcceptWaitlistOffer(t *testing.T) {
	svc := &fakeScheduler{booking: scheduling.BookingResult{Outcome: scheduling.OutcomeBooked, AppointmentID: uuid.New()}}
	h := newTestRouter(svc)

	rec := do(t, h, http.MethodPost, "/waitlist/"+uuid.NewString()+"/accept", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, svc.accepted.IsZero())

	slot := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	rec = do(t, h, http.MethodPost, "/waitlist/"+uuid.NewString()+"/accept", map[string]any{"slot": slot})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, slot.Equal(svc.accepted))

	svc.booking = scheduling.BookingResult{Outcome: scheduling.OutcomeFailed, Err: scheduling.ErrOfferExpired}
	rec = do(t, h, http.MethodPost, "/waitlist/"+uuid.NewString()+"/accept", nil)
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestCancelWaitlistEntry(t *testing.T) {
	svc := &fakeScheduler{entry: &scheduling.WaitlistEntry{ID: uuid.New(), Status: scheduling.WaitlistCancelled}}
	rec := do(t, newTestRouter(svc), http.MethodPost, "/waitlist/"+svc.entry.ID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decode[WaitlistEntryResponse](t, rec).Status)

	svc.waitErr = scheduling.ErrWaitlistEntryNotFound
	rec = do(t, newTestRouter(svc), http.MethodPost, "/waitlist/"+uuid.NewString()+"/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSweep(t *testing.T) {
	svc := &fakeScheduler{notified: 3, expired: 1}
	rec := do(t, newTestRouter(svc), http.MethodPost, "/waitlist/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, SweepResponse{NotifiedCount: 3, ExpiredCount: 1}, decode[SweepResponse](t, rec))

	svc.sweepErr = errors.New("db down")
	rec = do(t, newTestRouter(svc), http.MethodPost, "/waitlist/sweep", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSweepContinuesWhenExpiryFails(t *testing.T) {
	svc := &fakeScheduler{notified: 2, expired: 5, expireErr: errors.New("statement timeout")}
	rec := do(t, newTestRouter(svc), http.MethodPost, "/waitlist/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, SweepResponse{NotifiedCount: 2, ExpireFailed: true}, decode[SweepResponse](t, rec))
}

func TestHealth(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	router := func(dbErr error) http.Handler {
		return NewRouter(RouterConfig{
			Scheduler: &fakeScheduler{},
			DB:        fakePinger{err: dbErr},
			Redis:     client,
			Gatherer:  prometheus.NewRegistry(),
		})
	}

	rec := do(t, router(nil), http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router(nil), http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "ok", ready.Status)
	assert.Equal(t, "ok", ready.Dependencies["redis"])

	mr.Close()
	rec = do(t, router(nil), http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", decode[ReadinessResponse](t, rec).Status)

	rec = do(t, router(errors.New("refused")), http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "error", decode[ReadinessResponse](t, rec).Status)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_hits_total", Help: "hits"})
	reg.MustRegister(counter)
	counter.Inc()

	h := NewRouter(RouterConfig{Scheduler: &fakeScheduler{}, DB: fakePinger{}, Gatherer: reg})
	rec := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_hits_total 1")
}

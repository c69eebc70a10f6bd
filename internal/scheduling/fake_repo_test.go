package scheduling

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memRepo is an in-memory Repository with the same conditional write
// semantics as PgRepository.
type memRepo struct {
	mu sync.Mutex

	doctors      map[uuid.UUID]*Doctor
	patients     map[uuid.UUID]*Patient
	procedures   map[uuid.UUID]*ProcedureType
	windows      []AvailabilityWindow
	appointments map[uuid.UUID]*Appointment
	waitlist     map[uuid.UUID]*WaitlistEntry
	events       []EventLog

	seq   int
	clock time.Time // base for created_at; advanced on every insert

	// skipConflictCheck makes HasConflict report free while the conditional
	// insert still rejects, simulating a writer that raced past the check.
	skipConflictCheck bool
	failEvents        bool
}

func newMemRepo() *memRepo {
	return &memRepo{
		doctors:      make(map[uuid.UUID]*Doctor),
		patients:     make(map[uuid.UUID]*Patient),
		procedures:   make(map[uuid.UUID]*ProcedureType),
		appointments: make(map[uuid.UUID]*Appointment),
		waitlist:     make(map[uuid.UUID]*WaitlistEntry),
		clock:        time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (r *memRepo) tick() time.Time {
	r.seq++
	return r.clock.Add(time.Duration(r.seq) * time.Second)
}

func (r *memRepo) addDoctor(maxDaily int, d time.Duration) *Doctor {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc := &Doctor{ID: uuid.New(), Name: "Dr. Test", MaxDailyAppointments: maxDaily, AppointmentDuration: d}
	r.doctors[doc.ID] = doc
	return doc
}

func (r *memRepo) addWindow(doctorID uuid.UUID, day time.Weekday, start, end TimeOfDay) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.windows = append(r.windows, AvailabilityWindow{
		ID: uuid.New(), DoctorID: doctorID, Weekday: day, Start: start, End: end, Active: true,
	})
}

func (r *memRepo) addPatient() *Patient {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &Patient{ID: uuid.New(), Name: "Test Patient"}
	r.patients[p.ID] = p
	return p
}

func (r *memRepo) addProcedure(name string, urgent bool) *ProcedureType {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &ProcedureType{ID: uuid.New(), Name: name, Urgent: urgent}
	r.procedures[p.ID] = p
	return p
}

// seedAppointment stores an appointment directly, bypassing conflict rules.
func (r *memRepo) seedAppointment(doctorID, patientID uuid.UUID, at time.Time, status AppointmentStatus) *Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := &Appointment{ID: uuid.New(), PatientID: patientID, DoctorID: doctorID, ScheduledAt: at, Status: status, CreatedAt: r.tick()}
	r.appointments[a.ID] = a
	return a
}

func (r *memRepo) activeFor(doctorID uuid.UUID) []Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && !a.Status.Terminal() {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out
}

func (r *memRepo) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}

func (r *memRepo) GetDoctor(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *memRepo) GetPatient(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memRepo) GetProcedure(_ context.Context, id uuid.UUID) (*ProcedureType, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.procedures[id]
	if !ok {
		return nil, ErrProcedureNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memRepo) ListAvailabilityWindows(_ context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]AvailabilityWindow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []AvailabilityWindow
	for _, w := range r.windows {
		if w.DoctorID == doctorID && w.Weekday == weekday {
			out = append(out, w)
		}
	}
	return out, nil
}

func (r *memRepo) ListActiveAppointments(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.DoctorID != doctorID || a.Status.Terminal() {
			continue
		}
		if !a.ScheduledAt.Before(from) && a.ScheduledAt.Before(to) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (r *memRepo) CountActiveAppointments(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (int, error) {
	appts, err := r.ListActiveAppointments(ctx, doctorID, from, to)
	return len(appts), err
}

func (r *memRepo) CountCompletedAppointments(_ context.Context, patientID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.appointments {
		if a.PatientID == patientID && a.Status == StatusCompleted {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) hasConflictLocked(doctorID uuid.UUID, start time.Time, d time.Duration) bool {
	for _, a := range r.appointments {
		if a.DoctorID == doctorID && !a.Status.Terminal() && overlaps(a.ScheduledAt, start, d) {
			return true
		}
	}
	return false
}

func (r *memRepo) HasConflict(_ context.Context, doctorID uuid.UUID, start time.Time, d time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.skipConflictCheck {
		return false, nil
	}
	return r.hasConflictLocked(doctorID, start, d), nil
}

func (r *memRepo) CreateAppointment(_ context.Context, in NewAppointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hasConflictLocked(in.DoctorID, in.ScheduledAt, in.Duration) {
		return nil, ErrConflictOnWrite
	}
	now := r.tick()
	a := &Appointment{
		ID:          uuid.New(),
		PatientID:   in.PatientID,
		DoctorID:    in.DoctorID,
		ProcedureID: in.ProcedureID,
		ScheduledAt: in.ScheduledAt,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.appointments[a.ID] = a
	cp := *a
	return &cp, nil
}

func (r *memRepo) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *memRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = r.tick()
	cp := *a
	return &cp, nil
}

func (r *memRepo) CreateWaitlistEntry(_ context.Context, in NewWaitlistEntry) (*WaitlistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.tick()
	e := &WaitlistEntry{
		ID:            uuid.New(),
		PatientID:     in.PatientID,
		DoctorID:      in.DoctorID,
		ProcedureID:   in.ProcedureID,
		PreferredDate: in.PreferredDate,
		TimeStart:     in.TimeStart,
		TimeEnd:       in.TimeEnd,
		Status:        WaitlistWaiting,
		PriorityScore: in.PriorityScore,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	r.waitlist[e.ID] = e
	cp := *e
	return &cp, nil
}

func (r *memRepo) GetWaitlistEntry(_ context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.waitlist[id]
	if !ok {
		return nil, ErrWaitlistEntryNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *memRepo) ListWaitlistEntries(_ context.Context, f WaitlistFilter) ([]WaitlistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []WaitlistEntry
	for _, e := range r.waitlist {
		if f.DoctorID != nil && e.DoctorID != *f.DoctorID {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PriorityScore != out[j].PriorityScore {
			return out[i].PriorityScore > out[j].PriorityScore
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memRepo) CountWaitingAtOrAbove(_ context.Context, doctorID uuid.UUID, priority int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.waitlist {
		if e.DoctorID == doctorID && e.Status == WaitlistWaiting && e.PriorityScore >= priority {
			n++
		}
	}
	return n, nil
}

func (r *memRepo) TransitionWaitlistEntry(_ context.Context, t WaitlistTransition) (*WaitlistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.waitlist[t.ID]
	if !ok || e.Status != t.From {
		return nil, ErrWaitlistEntryNotFound
	}
	e.Status = t.To
	e.NotifiedAt = t.NotifiedAt
	e.ExpiresAt = t.ExpiresAt
	e.OfferedAt = t.OfferedAt
	e.UpdatedAt = r.tick()
	cp := *e
	return &cp, nil
}

func (r *memRepo) FindExpiredNotified(_ context.Context, now time.Time) ([]WaitlistEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []WaitlistEntry
	for _, e := range r.waitlist {
		if e.Status == WaitlistNotified && e.ExpiresAt != nil && e.ExpiresAt.Before(now) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failEvents {
		return errors.New("event store unavailable")
	}
	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

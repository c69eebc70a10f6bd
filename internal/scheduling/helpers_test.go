package scheduling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/clinicflow/scheduling-engine/internal/lock"
)

// 2025-06-02 is a Monday.
var monday = time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)

func at(day time.Time, hour, minute int) time.Time {
	return NewTimeOfDay(hour, minute).On(day)
}

type fixture struct {
	repo      *memRepo
	svc       *Service
	doctor    *Doctor
	patient   *Patient
	procedure *ProcedureType
	now       time.Time
}

// newFixture builds a service over an in-memory repo with one doctor working
// Mondays 09:00-12:00 in 30-minute slots. The clock sits one day before
// that Monday.
func newFixture(t *testing.T, opts ...func(*Options)) *fixture {
	t.Helper()

	f := &fixture{repo: newMemRepo(), now: monday.AddDate(0, 0, -1)}
	f.doctor = f.repo.addDoctor(10, 30*time.Minute)
	f.repo.addWindow(f.doctor.ID, time.Monday, NewTimeOfDay(9, 0), NewTimeOfDay(12, 0))
	f.patient = f.repo.addPatient()
	f.procedure = f.repo.addProcedure("consult", false)

	o := Options{Now: func() time.Time { return f.now }}
	for _, fn := range opts {
		fn(&o)
	}
	f.svc = NewService(f.repo, lock.NewLocalLocker(time.Second), o)
	return f
}

// interleavingLocker runs before once, just ahead of the next lock
// acquisition, so a competing writer wins the race for the doctor.
type interleavingLocker struct {
	lock.Locker

	mu     sync.Mutex
	before func()
}

func (l *interleavingLocker) WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	hook := l.before
	l.before = nil
	l.mu.Unlock()

	if hook != nil {
		hook()
	}
	return l.Locker.WithDoctorLock(ctx, doctorID, fn)
}

func (f *fixture) interleave(before func()) {
	f.svc.locker = &interleavingLocker{Locker: f.svc.locker, before: before}
}

// Package lock serializes mutations of one doctor's schedule.
//
// Booking is check-then-create: the conflict read and the appointment insert
// are separate statements, so every write path for a doctor runs inside
// WithDoctorLock. Reads never lock.
package lock

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrLockNotAcquired = errors.New("doctor lock not acquired")

// Locker is used by the scheduling service to guard critical sections per doctor.
type Locker interface {
	WithDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error
}

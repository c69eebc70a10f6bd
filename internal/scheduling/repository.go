package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all storage interactions needed by the engine.
type Repository interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetProcedure(ctx context.Context, id uuid.UUID) (*ProcedureType, error)

	ListAvailabilityWindows(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) ([]AvailabilityWindow, error)

	// Non-terminal appointments starting in [from, to), ordered by start.
	ListActiveAppointments(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error)
	CountActiveAppointments(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (int, error)
	CountCompletedAppointments(ctx context.Context, patientID uuid.UUID) (int, error)

	// For conflict checks: any non-terminal appointment starting strictly
	// inside (start-duration, start+duration).
	HasConflict(ctx context.Context, doctorID uuid.UUID, start time.Time, duration time.Duration) (bool, error)

	// CreateAppointment inserts a pending appointment only when no overlapping
	// non-terminal appointment exists; otherwise it returns ErrConflictOnWrite.
	CreateAppointment(ctx context.Context, in NewAppointment) (*Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	// Waitlist
	CreateWaitlistEntry(ctx context.Context, in NewWaitlistEntry) (*WaitlistEntry, error)
	GetWaitlistEntry(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error)
	// Ordered by priority desc, then created_at asc.
	ListWaitlistEntries(ctx context.Context, f WaitlistFilter) ([]WaitlistEntry, error)
	CountWaitingAtOrAbove(ctx context.Context, doctorID uuid.UUID, priority int) (int, error)
	// Returns ErrWaitlistEntryNotFound when the entry is not in t.From.
	TransitionWaitlistEntry(ctx context.Context, t WaitlistTransition) (*WaitlistEntry, error)
	FindExpiredNotified(ctx context.Context, now time.Time) ([]WaitlistEntry, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}

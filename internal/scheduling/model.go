package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no_show"
)

// Terminal reports whether the status releases the slot it occupied.
func (s AppointmentStatus) Terminal() bool {
	switch s {
	case StatusPending, StatusConfirmed:
		return false
	default:
		return true
	}
}

type WaitlistStatus string

const (
	WaitlistWaiting   WaitlistStatus = "waiting"
	WaitlistNotified  WaitlistStatus = "notified"
	WaitlistBooked    WaitlistStatus = "booked"
	WaitlistExpired   WaitlistStatus = "expired"
	WaitlistCancelled WaitlistStatus = "cancelled"
)

// TimeOfDay is a wall-clock time expressed as minutes since midnight.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay parses "HH:MM" (24h).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: time of day %q must be HH:MM", ErrInvalidInput, s)
	}
	return NewTimeOfDay(t.Hour(), t.Minute()), nil
}

// TimeOfDayOf returns the wall-clock part of t in t's location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return NewTimeOfDay(t.Hour(), t.Minute())
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// On places t on the calendar date of day, in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, day.Location())
}

type Doctor struct {
	ID                   uuid.UUID
	Name                 string
	MaxDailyAppointments int
	AppointmentDuration  time.Duration
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// AvailabilityWindow is a recurring weekly interval. Weekday follows
// time.Weekday numbering (Sunday = 0).
type AvailabilityWindow struct {
	ID       uuid.UUID
	DoctorID uuid.UUID
	Weekday  time.Weekday
	Start    TimeOfDay
	End      TimeOfDay
	Active   bool
}

func (w AvailabilityWindow) Valid() bool {
	return w.Weekday >= time.Sunday && w.Weekday <= time.Saturday && w.Start < w.End
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ProcedureType struct {
	ID     uuid.UUID
	Name   string
	Urgent bool
}

type Appointment struct {
	ID          uuid.UUID
	PatientID   uuid.UUID
	DoctorID    uuid.UUID
	ProcedureID uuid.UUID
	ScheduledAt time.Time
	Status      AppointmentStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type NewAppointment struct {
	PatientID   uuid.UUID
	DoctorID    uuid.UUID
	ProcedureID uuid.UUID
	ScheduledAt time.Time
	// Duration is the doctor's slot length, used by the conditional insert.
	Duration time.Duration
}

type WaitlistEntry struct {
	ID            uuid.UUID
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	ProcedureID   uuid.UUID
	PreferredDate time.Time // calendar date, midnight UTC
	TimeStart     TimeOfDay
	TimeEnd       TimeOfDay
	Status        WaitlistStatus
	PriorityScore int
	NotifiedAt    *time.Time
	ExpiresAt     *time.Time
	OfferedAt     *time.Time // slot offered with the last notification
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type NewWaitlistEntry struct {
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	ProcedureID   uuid.UUID
	PreferredDate time.Time
	TimeStart     TimeOfDay
	TimeEnd       TimeOfDay
	PriorityScore int
}

// WaitlistTransition is a compare-and-set on an entry's status. The
// timestamp columns are written as given.
type WaitlistTransition struct {
	ID         uuid.UUID
	From       WaitlistStatus
	To         WaitlistStatus
	NotifiedAt *time.Time
	ExpiresAt  *time.Time
	OfferedAt  *time.Time
}

type WaitlistFilter struct {
	DoctorID *uuid.UUID
	Status   WaitlistStatus // empty matches every status
}

type EventLog struct {
	ID         int64
	EventType  string
	EntityType string
	EntityID   uuid.UUID
	Payload    []byte
	CreatedAt  time.Time
}

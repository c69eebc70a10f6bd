package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Outcome string

const (
	OutcomeBooked             Outcome = "booked"
	OutcomeAlternativeOffered Outcome = "alternative_offered"
	OutcomeWaitlistSuggested  Outcome = "waitlist_suggested"
	OutcomeFailed             Outcome = "failed"
)

type CreateAppointmentRequest struct {
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	ProcedureID   uuid.UUID
	RequestedTime time.Time
}

// BookingResult is the outcome of a booking attempt. Only OutcomeFailed
// carries Err; callers branch on Outcome.
type BookingResult struct {
	Outcome         Outcome
	AppointmentID   uuid.UUID
	ScheduledAt     time.Time
	AlternativeTime time.Time
	Reason          string
	Err             error
}

func failed(err error) BookingResult {
	return BookingResult{Outcome: OutcomeFailed, Reason: err.Error(), Err: err}
}

// CreateAppointment books the requested time when it is free. Otherwise it
// offers the nearest free slot within ±AlternativeSearchDays, or suggests the
// waitlist. Nothing is written unless the outcome is OutcomeBooked.
func (s *Service) CreateAppointment(ctx context.Context, req CreateAppointmentRequest) BookingResult {
	res := s.createAppointment(ctx, req)
	s.metrics.ObserveBooking(string(res.Outcome))
	return res
}

func (s *Service) createAppointment(ctx context.Context, req CreateAppointmentRequest) BookingResult {
	if req.RequestedTime.IsZero() {
		return failed(fmt.Errorf("%w: requested time is required", ErrInvalidInput))
	}

	if _, err := s.repo.GetPatient(ctx, req.PatientID); err != nil {
		return failed(lookupError("load patient", err))
	}
	doctor, err := s.repo.GetDoctor(ctx, req.DoctorID)
	if err != nil {
		return failed(lookupError("load doctor", err))
	}
	if _, err := s.repo.GetProcedure(ctx, req.ProcedureID); err != nil {
		return failed(lookupError("load procedure", err))
	}
	if doctor.AppointmentDuration <= 0 {
		return failed(fmt.Errorf("%w: doctor %s has non-positive appointment duration", ErrInvalidInput, doctor.ID))
	}

	appt, err := s.bookIfFree(ctx, doctor, NewAppointment{
		PatientID:   req.PatientID,
		DoctorID:    doctor.ID,
		ProcedureID: req.ProcedureID,
		ScheduledAt: req.RequestedTime,
		Duration:    doctor.AppointmentDuration,
	})
	switch {
	case err == nil:
		return BookingResult{Outcome: OutcomeBooked, AppointmentID: appt.ID, ScheduledAt: appt.ScheduledAt}
	case errors.Is(err, ErrConflictOnWrite):
		return s.fallback(ctx, doctor, req.RequestedTime)
	default:
		return failed(err)
	}
}

// bookIfFree runs check-then-create under the doctor lock. The insert is
// itself conditional, so a writer that bypassed the lock still cannot
// double-book; both paths surface as ErrConflictOnWrite.
func (s *Service) bookIfFree(ctx context.Context, doctor *Doctor, in NewAppointment) (*Appointment, error) {
	var created *Appointment

	err := s.withDoctorLock(ctx, doctor.ID, func(lockCtx context.Context) error {
		booked, err := s.conflicts.IsBooked(lockCtx, doctor, in.ScheduledAt)
		if err != nil {
			return err
		}
		if booked {
			return ErrConflictOnWrite
		}

		created, err = s.insertAppointment(lockCtx, doctor, in)
		return err
	})

	if err != nil {
		return nil, err
	}

	s.log.Info("appointment booked",
		zap.Stringer("appointment_id", created.ID),
		zap.Stringer("doctor_id", doctor.ID),
		zap.Time("scheduled_at", created.ScheduledAt))
	return created, nil
}

// insertAppointment writes the appointment with the conditional insert. The
// caller must hold the doctor lock.
func (s *Service) insertAppointment(ctx context.Context, doctor *Doctor, in NewAppointment) (*Appointment, error) {
	appt, err := s.repo.CreateAppointment(ctx, in)
	if err != nil {
		if errors.Is(err, ErrConflictOnWrite) {
			s.log.Warn("conditional insert rejected overlapping appointment",
				zap.Stringer("doctor_id", doctor.ID), zap.Time("scheduled_at", in.ScheduledAt))
			return nil, err
		}
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.logEvent(ctx, entityAppointment, appt.ID, EventAppointmentCreated, map[string]any{
		"doctor_id":    doctor.ID.String(),
		"patient_id":   in.PatientID.String(),
		"procedure_id": in.ProcedureID.String(),
		"scheduled_at": in.ScheduledAt,
	})
	return appt, nil
}

func (s *Service) fallback(ctx context.Context, doctor *Doctor, requested time.Time) BookingResult {
	alt, found, err := s.nearestAlternative(ctx, doctor, requested)
	if err != nil {
		return failed(err)
	}
	if found {
		return BookingResult{
			Outcome:         OutcomeAlternativeOffered,
			AlternativeTime: alt,
			Reason:          "requested slot unavailable",
		}
	}
	return BookingResult{Outcome: OutcomeWaitlistSuggested, Reason: "no available slots found"}
}

// nearestAlternative returns the free slot closest to requested within
// ±AlternativeSearchDays, ignoring slots in the past. Ties go to the earlier slot.
func (s *Service) nearestAlternative(ctx context.Context, doctor *Doctor, requested time.Time) (time.Time, bool, error) {
	window := time.Duration(s.policy.AlternativeSearchDays) * 24 * time.Hour
	candidates, err := s.slots.candidates(ctx, doctor, requested.Add(-window), requested.Add(window), nil)
	if err != nil {
		return time.Time{}, false, err
	}

	now := s.now()
	var (
		best     time.Time
		bestDist time.Duration
		found    bool
	)
	for _, slot := range candidates {
		if slot.Before(now) || slot.Equal(requested) {
			continue
		}
		dist := absDuration(slot.Sub(requested))
		if !found || dist < bestDist {
			best, bestDist, found = slot, dist, true
		}
	}
	return best, found, nil
}

var allowedTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled, StatusNoShow},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

func canTransition(from, to AppointmentStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionAppointment moves an appointment along its lifecycle. Moving to
// a terminal status frees the slot for later conflict checks.
func (s *Service) TransitionAppointment(ctx context.Context, id uuid.UUID, to AppointmentStatus) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, lookupError("load appointment", err)
	}

	if !canTransition(appt.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, appt.Status, to)
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, to)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// lost a race with another transition
			return nil, fmt.Errorf("%w: appointment is no longer %s", ErrInvalidStatusTransition, appt.Status)
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}

	s.logEvent(ctx, entityAppointment, updated.ID, EventAppointmentStatusChanged, map[string]any{
		"from": appt.Status,
		"to":   to,
	})
	return updated, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, lookupError("get appointment", err)
	}
	return appt, nil
}

// lookupError passes sentinel not-found errors through untouched and wraps
// everything else with context.
func lookupError(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

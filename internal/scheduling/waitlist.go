package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicflow/scheduling-engine/internal/lock"
)

type AddToWaitlistRequest struct {
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	ProcedureID   uuid.UUID
	PreferredDate time.Time
	TimeStart     *TimeOfDay // nil uses Policy.DefaultWaitlistStart
	TimeEnd       *TimeOfDay // nil uses Policy.DefaultWaitlistEnd
}

type WaitlistPlacement struct {
	WaitlistID    uuid.UUID
	QueuePosition int
	PriorityScore int
}

// PriorityScore ranks a waitlist request: returning patients gain up to
// PriorityCompletedCap, urgent procedures gain PriorityUrgentBonus. A
// procedure is urgent when flagged or when its name contains UrgentMarker.
func PriorityScore(p Policy, completedAppointments int, procedure *ProcedureType) int {
	score := p.PriorityBase
	score += min(completedAppointments*p.PriorityPerCompleted, p.PriorityCompletedCap)
	if procedure.Urgent || (p.UrgentMarker != "" &&
		strings.Contains(strings.ToLower(procedure.Name), strings.ToLower(p.UrgentMarker))) {
		score += p.PriorityUrgentBonus
	}
	return score
}

// AddToWaitlist queues a request. The queue position counts waiting entries
// of the same doctor with a priority at or above the new one, the new entry
// included, so it is 1-based. Equal priorities are not ordered by this count;
// notification order among them is creation order.
func (s *Service) AddToWaitlist(ctx context.Context, req AddToWaitlistRequest) (WaitlistPlacement, error) {
	if req.PreferredDate.IsZero() {
		return WaitlistPlacement{}, fmt.Errorf("%w: preferred date is required", ErrInvalidInput)
	}
	start, end := s.policy.DefaultWaitlistStart, s.policy.DefaultWaitlistEnd
	if req.TimeStart != nil {
		start = *req.TimeStart
	}
	if req.TimeEnd != nil {
		end = *req.TimeEnd
	}
	if start >= end {
		return WaitlistPlacement{}, fmt.Errorf("%w: preferred window %s-%s is empty", ErrInvalidInput, start, end)
	}

	if _, err := s.repo.GetPatient(ctx, req.PatientID); err != nil {
		return WaitlistPlacement{}, lookupError("load patient", err)
	}
	doctor, err := s.repo.GetDoctor(ctx, req.DoctorID)
	if err != nil {
		return WaitlistPlacement{}, lookupError("load doctor", err)
	}
	procedure, err := s.repo.GetProcedure(ctx, req.ProcedureID)
	if err != nil {
		return WaitlistPlacement{}, lookupError("load procedure", err)
	}

	completed, err := s.repo.CountCompletedAppointments(ctx, req.PatientID)
	if err != nil {
		return WaitlistPlacement{}, fmt.Errorf("count completed appointments: %w", err)
	}
	priority := PriorityScore(s.policy, completed, procedure)

	var placement WaitlistPlacement
	err = s.withDoctorLock(ctx, doctor.ID, func(lockCtx context.Context) error {
		entry, err := s.repo.CreateWaitlistEntry(lockCtx, NewWaitlistEntry{
			PatientID:     req.PatientID,
			DoctorID:      doctor.ID,
			ProcedureID:   procedure.ID,
			PreferredDate: calendarDate(req.PreferredDate.In(s.loc)),
			TimeStart:     start,
			TimeEnd:       end,
			PriorityScore: priority,
		})
		if err != nil {
			return fmt.Errorf("create waitlist entry: %w", err)
		}

		position, err := s.repo.CountWaitingAtOrAbove(lockCtx, doctor.ID, priority)
		if err != nil {
			return fmt.Errorf("queue position: %w", err)
		}

		placement = WaitlistPlacement{WaitlistID: entry.ID, QueuePosition: position, PriorityScore: priority}
		s.logEvent(lockCtx, entityWaitlist, entry.ID, EventWaitlistAdded, map[string]any{
			"patient_id": req.PatientID.String(),
			"doctor_id":  doctor.ID.String(),
			"priority":   priority,
			"position":   position,
		})
		return nil
	})
	if err != nil {
		return WaitlistPlacement{}, err
	}

	s.metrics.ObserveWaitlist(string(WaitlistWaiting), 1)
	s.log.Info("added to waitlist",
		zap.Stringer("waitlist_id", placement.WaitlistID),
		zap.Stringer("patient_id", req.PatientID),
		zap.Int("position", placement.QueuePosition),
		zap.Int("priority", priority))
	return placement, nil
}

// ListWaitlist returns a doctor's entries in notification order.
func (s *Service) ListWaitlist(ctx context.Context, doctorID uuid.UUID, status WaitlistStatus) ([]WaitlistEntry, error) {
	if _, err := s.repo.GetDoctor(ctx, doctorID); err != nil {
		return nil, lookupError("load doctor", err)
	}
	entries, err := s.repo.ListWaitlistEntries(ctx, WaitlistFilter{DoctorID: &doctorID, Status: status})
	if err != nil {
		return nil, fmt.Errorf("list waitlist entries: %w", err)
	}
	return entries, nil
}

// SweepNotifications offers an open slot to every waiting entry that has one,
// in priority order. Entries already notified are not listed again, so
// repeated sweeps do not double-notify. A slot offered to one entry is not
// offered to another in the same sweep. Per-entry failures are logged and
// skipped; only a failure to list the waitlist is returned.
func (s *Service) SweepNotifications(ctx context.Context) (int, error) {
	entries, err := s.repo.ListWaitlistEntries(ctx, WaitlistFilter{Status: WaitlistWaiting})
	if err != nil {
		return 0, fmt.Errorf("list waiting entries: %w", err)
	}

	doctors := make(map[uuid.UUID]*Doctor)
	offered := make(map[uuid.UUID]map[int64]bool)
	notified := 0

	for i := range entries {
		entry := &entries[i]

		doctor, ok := doctors[entry.DoctorID]
		if !ok {
			d, err := s.repo.GetDoctor(ctx, entry.DoctorID)
			if err != nil {
				s.log.Error("waitlist sweep: load doctor",
					zap.Stringer("waitlist_id", entry.ID), zap.Error(err))
				continue
			}
			doctors[entry.DoctorID] = d
			offered[entry.DoctorID] = make(map[int64]bool)
			doctor = d
		}

		slot, found, err := s.firstOpenSlot(ctx, doctor, entry, offered[doctor.ID])
		if err != nil {
			s.log.Error("waitlist sweep: slot search",
				zap.Stringer("waitlist_id", entry.ID), zap.Error(err))
			continue
		}
		if !found {
			continue
		}

		ok, err = s.notifyEntry(ctx, doctor, entry, slot)
		if errors.Is(err, errSlotTaken) {
			// booked between the search and the lock; try the next slot once
			offered[doctor.ID][slot.Unix()] = true
			slot, found, err = s.firstOpenSlot(ctx, doctor, entry, offered[doctor.ID])
			if err == nil && found {
				ok, err = s.notifyEntry(ctx, doctor, entry, slot)
			}
		}
		if errors.Is(err, errSlotTaken) {
			s.log.Debug("waitlist sweep: slot taken twice, retrying next sweep",
				zap.Stringer("waitlist_id", entry.ID))
			continue
		}
		if err != nil {
			s.log.Error("waitlist sweep: notify",
				zap.Stringer("waitlist_id", entry.ID), zap.Error(err))
			continue
		}
		if ok {
			offered[doctor.ID][slot.Unix()] = true
			notified++
		}
	}

	s.metrics.ObserveWaitlist(string(WaitlistNotified), notified)
	if notified > 0 {
		s.log.Info("waitlist sweep complete", zap.Int("notified", notified), zap.Int("waiting", len(entries)))
	}
	return notified, nil
}

// firstOpenSlot finds the earliest future slot on the entry's preferred date
// that fits entirely inside its preferred window.
func (s *Service) firstOpenSlot(ctx context.Context, doctor *Doctor, entry *WaitlistEntry, taken map[int64]bool) (time.Time, bool, error) {
	y, m, d := entry.PreferredDate.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, s.loc)

	candidates, err := s.slots.candidates(ctx, doctor, day, day, nil)
	if err != nil {
		return time.Time{}, false, err
	}

	windowStart := entry.TimeStart.On(day)
	windowEnd := entry.TimeEnd.On(day)
	now := s.now()

	for _, slot := range candidates {
		if slot.Before(windowStart) || slot.Add(doctor.AppointmentDuration).After(windowEnd) {
			continue
		}
		if slot.Before(now) || taken[slot.Unix()] {
			continue
		}
		return slot, true, nil
	}
	return time.Time{}, false, nil
}

// errSlotTaken reports that the slot picked for an entry was booked before
// the doctor lock was acquired.
var errSlotTaken = errors.New("offered slot was booked concurrently")

// notifyEntry moves the entry waiting -> notified and emits the notification.
// The slot is re-checked under the doctor lock and errSlotTaken returned if
// it is gone. If the notifier fails the
// entry goes back to waiting so the next sweep retries it.
func (s *Service) notifyEntry(ctx context.Context, doctor *Doctor, entry *WaitlistEntry, slot time.Time) (bool, error) {
	var notified bool

	err := s.withDoctorLock(ctx, doctor.ID, func(lockCtx context.Context) error {
		booked, err := s.conflicts.IsBooked(lockCtx, doctor, slot)
		if err != nil {
			return err
		}
		if booked {
			return errSlotTaken
		}

		now := s.now()
		expires := now.Add(s.policy.NotificationTTL)
		updated, err := s.repo.TransitionWaitlistEntry(lockCtx, WaitlistTransition{
			ID:         entry.ID,
			From:       WaitlistWaiting,
			To:         WaitlistNotified,
			NotifiedAt: &now,
			ExpiresAt:  &expires,
			OfferedAt:  &slot,
		})
		if err != nil {
			if errors.Is(err, ErrWaitlistEntryNotFound) {
				// cancelled or notified by a concurrent sweep
				return nil
			}
			return fmt.Errorf("mark notified: %w", err)
		}

		n := WaitlistNotification{
			WaitlistID:    updated.ID,
			PatientID:     updated.PatientID,
			DoctorID:      updated.DoctorID,
			AvailableTime: slot,
			ExpiresAt:     expires,
		}
		if err := s.notifier.NotifyWaitlist(lockCtx, n); err != nil {
			if _, rerr := s.repo.TransitionWaitlistEntry(lockCtx, WaitlistTransition{
				ID: entry.ID, From: WaitlistNotified, To: WaitlistWaiting,
			}); rerr != nil {
				s.log.Error("failed to revert waitlist entry after notify error",
					zap.Stringer("waitlist_id", entry.ID), zap.Error(rerr))
			}
			return fmt.Errorf("notify waitlist: %w", err)
		}

		notified = true
		s.logEvent(lockCtx, entityWaitlist, entry.ID, EventWaitlistNotified, map[string]any{
			"available_time": slot,
			"expires_at":     expires,
		})
		return nil
	})
	return notified, err
}

// ExpireNotifications closes offers whose notification window has lapsed.
// It runs alongside SweepNotifications; without it notified entries would
// never leave that status.
func (s *Service) ExpireNotifications(ctx context.Context) (int, error) {
	now := s.now()
	stale, err := s.repo.FindExpiredNotified(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("find expired notifications: %w", err)
	}

	expired := 0
	for _, entry := range stale {
		err := s.withDoctorLock(ctx, entry.DoctorID, func(lockCtx context.Context) error {
			_, err := s.repo.TransitionWaitlistEntry(lockCtx, WaitlistTransition{
				ID:         entry.ID,
				From:       WaitlistNotified,
				To:         WaitlistExpired,
				NotifiedAt: entry.NotifiedAt,
				ExpiresAt:  entry.ExpiresAt,
				OfferedAt:  entry.OfferedAt,
			})
			return err
		})
		if err != nil {
			// ErrWaitlistEntryNotFound: accepted or cancelled since the scan
			if !errors.Is(err, ErrWaitlistEntryNotFound) {
				s.log.Error("failed to expire waitlist entry",
					zap.Stringer("waitlist_id", entry.ID), zap.Error(err))
			}
			continue
		}
		expired++
		s.logEvent(ctx, entityWaitlist, entry.ID, EventWaitlistExpired, map[string]any{
			"expires_at": entry.ExpiresAt,
		})
	}

	s.metrics.ObserveWaitlist(string(WaitlistExpired), expired)
	return expired, nil
}

// AcceptWaitlistOffer books a slot for a notified entry. Availability is
// re-validated at acceptance: the offer must be unexpired and the slot still
// free. A zero slot accepts the slot that was offered.
func (s *Service) AcceptWaitlistOffer(ctx context.Context, waitlistID uuid.UUID, slot time.Time) BookingResult {
	res := s.acceptWaitlistOffer(ctx, waitlistID, slot)
	s.metrics.ObserveBooking(string(res.Outcome))
	return res
}

func (s *Service) acceptWaitlistOffer(ctx context.Context, waitlistID uuid.UUID, slot time.Time) BookingResult {
	entry, err := s.repo.GetWaitlistEntry(ctx, waitlistID)
	if err != nil {
		return failed(lookupError("load waitlist entry", err))
	}

	doctor, err := s.repo.GetDoctor(ctx, entry.DoctorID)
	if err != nil {
		return failed(lookupError("load doctor", err))
	}

	var appt *Appointment
	err = s.withDoctorLock(ctx, doctor.ID, func(lockCtx context.Context) error {
		current, err := s.repo.GetWaitlistEntry(lockCtx, waitlistID)
		if err != nil {
			return lookupError("reload waitlist entry", err)
		}
		if current.Status == WaitlistExpired {
			return ErrOfferExpired
		}
		if current.Status != WaitlistNotified {
			return fmt.Errorf("%w: waitlist entry is %s", ErrInvalidStatusTransition, current.Status)
		}
		if current.ExpiresAt != nil && current.ExpiresAt.Before(s.now()) {
			return ErrOfferExpired
		}
		if slot.IsZero() {
			if current.OfferedAt == nil {
				return fmt.Errorf("%w: no slot given and none offered", ErrInvalidInput)
			}
			slot = *current.OfferedAt
		}

		booked, err := s.conflicts.IsBooked(lockCtx, doctor, slot)
		if err != nil {
			return err
		}
		if booked {
			return ErrConflictOnWrite
		}

		// Claim the entry before writing the appointment so a cancel or
		// expiry that slips past the lock loses the conditional update.
		if _, err := s.repo.TransitionWaitlistEntry(lockCtx, WaitlistTransition{
			ID:         current.ID,
			From:       WaitlistNotified,
			To:         WaitlistBooked,
			NotifiedAt: current.NotifiedAt,
			ExpiresAt:  current.ExpiresAt,
			OfferedAt:  &slot,
		}); err != nil {
			if errors.Is(err, ErrWaitlistEntryNotFound) {
				return fmt.Errorf("%w: waitlist entry is no longer notified", ErrInvalidStatusTransition)
			}
			return fmt.Errorf("mark waitlist entry booked: %w", err)
		}

		appt, err = s.insertAppointment(lockCtx, doctor, NewAppointment{
			PatientID:   current.PatientID,
			DoctorID:    current.DoctorID,
			ProcedureID: current.ProcedureID,
			ScheduledAt: slot,
			Duration:    doctor.AppointmentDuration,
		})
		if err != nil {
			if _, rerr := s.repo.TransitionWaitlistEntry(lockCtx, WaitlistTransition{
				ID:         current.ID,
				From:       WaitlistBooked,
				To:         WaitlistNotified,
				NotifiedAt: current.NotifiedAt,
				ExpiresAt:  current.ExpiresAt,
				OfferedAt:  current.OfferedAt,
			}); rerr != nil {
				s.log.Error("failed to release waitlist entry after insert error",
					zap.Stringer("waitlist_id", current.ID), zap.Error(rerr))
			}
			return err
		}
		return nil
	})
	if errors.Is(err, ErrConflictOnWrite) {
		return s.fallback(ctx, doctor, slot)
	}
	if err != nil {
		return failed(err)
	}

	s.metrics.ObserveWaitlist(string(WaitlistBooked), 1)
	s.logEvent(ctx, entityWaitlist, entry.ID, EventWaitlistBooked, map[string]any{
		"appointment_id": appt.ID.String(),
	})
	s.log.Info("waitlist offer accepted",
		zap.Stringer("waitlist_id", entry.ID),
		zap.Stringer("appointment_id", appt.ID),
		zap.Time("scheduled_at", appt.ScheduledAt))

	return BookingResult{Outcome: OutcomeBooked, AppointmentID: appt.ID, ScheduledAt: appt.ScheduledAt}
}

// CancelWaitlistEntry withdraws a waiting or notified entry.
func (s *Service) CancelWaitlistEntry(ctx context.Context, id uuid.UUID) (*WaitlistEntry, error) {
	entry, err := s.repo.GetWaitlistEntry(ctx, id)
	if err != nil {
		return nil, lookupError("load waitlist entry", err)
	}

	var updated *WaitlistEntry
	err = s.withDoctorLock(ctx, entry.DoctorID, func(lockCtx context.Context) error {
		current, err := s.repo.GetWaitlistEntry(lockCtx, id)
		if err != nil {
			return lookupError("reload waitlist entry", err)
		}
		if current.Status != WaitlistWaiting && current.Status != WaitlistNotified {
			return fmt.Errorf("%w: waitlist entry is %s", ErrInvalidStatusTransition, current.Status)
		}

		updated, err = s.repo.TransitionWaitlistEntry(lockCtx, WaitlistTransition{
			ID:         current.ID,
			From:       current.Status,
			To:         WaitlistCancelled,
			NotifiedAt: current.NotifiedAt,
			ExpiresAt:  current.ExpiresAt,
			OfferedAt:  current.OfferedAt,
		})
		if err != nil {
			if errors.Is(err, ErrWaitlistEntryNotFound) {
				return fmt.Errorf("%w: waitlist entry is no longer %s", ErrInvalidStatusTransition, current.Status)
			}
			return fmt.Errorf("cancel waitlist entry: %w", err)
		}
		entry = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveWaitlist(string(WaitlistCancelled), 1)
	s.logEvent(ctx, entityWaitlist, entry.ID, EventWaitlistCancelled, map[string]any{"from": entry.Status})
	return updated, nil
}

func (s *Service) withDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	err := s.locker.WithDoctorLock(ctx, doctorID, fn)
	if errors.Is(err, lock.ErrLockNotAcquired) {
		return ErrDoctorBusy
	}
	return err
}

func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

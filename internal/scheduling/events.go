package scheduling

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	EventAppointmentCreated       = "APPOINTMENT_CREATED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
	EventWaitlistAdded            = "WAITLIST_ADDED"
	EventWaitlistNotified         = "WAITLIST_NOTIFIED"
	EventWaitlistExpired          = "WAITLIST_EXPIRED"
	EventWaitlistBooked           = "WAITLIST_BOOKED"
	EventWaitlistCancelled        = "WAITLIST_CANCELLED"
)

const (
	entityAppointment = "appointment"
	entityWaitlist    = "waitlist"
)

// logEvent appends to the audit log. Failures are logged and swallowed: the
// audit trail must never undo a decision that was already persisted.
func (s *Service) logEvent(ctx context.Context, entityType string, entityID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal event payload",
			zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	ev := EventLog{
		EventType:  eventType,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    data,
		CreatedAt:  s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("failed to insert event log",
			zap.String("event_type", eventType),
			zap.String("entity_type", entityType),
			zap.Stringer("entity_id", entityID),
			zap.Error(err))
	}
}

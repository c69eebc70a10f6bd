package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/clinicflow/scheduling-engine/internal/scheduling"
)

// LogNotifier only logs. Used when no broker is configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) NotifyWaitlist(_ context.Context, msg scheduling.WaitlistNotification) error {
	n.log.Info("waitlist slot available",
		zap.Stringer("waitlist_id", msg.WaitlistID),
		zap.Stringer("patient_id", msg.PatientID),
		zap.Stringer("doctor_id", msg.DoctorID),
		zap.Time("available_time", msg.AvailableTime),
		zap.Time("expires_at", msg.ExpiresAt))
	return nil
}
